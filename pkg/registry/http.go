package registry

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/trialmatch-ai/platform/pkg/common/logger"
	"github.com/trialmatch-ai/platform/pkg/common/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/patients", h.handleRegisterPatient).Methods(http.MethodPost)
	r.HandleFunc("/patients", h.handleListPatients).Methods(http.MethodGet)
	r.HandleFunc("/patients/{id}", h.handleGetBundle).Methods(http.MethodGet)
	r.HandleFunc("/patients/bundles", h.handleFetchBundles).Methods(http.MethodPost)
}

func (h *Handler) handleRegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.service.RegisterPatient(r.Context(), req); err != nil {
		if IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to register patient")
		http.Error(w, "failed to register patient", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"patient_id": req.Patient.ID})
}

func (h *Handler) handleListPatients(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	patients, err := h.service.ListPatients(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list patients")
		http.Error(w, "failed to list patients", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": patients})
}

func (h *Handler) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]
	bundle, err := h.service.GetBundle(r.Context(), patientID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to fetch bundle")
		http.Error(w, "failed to fetch bundle", http.StatusInternalServerError)
		return
	}
	if bundle == nil {
		http.Error(w, "patient not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bundle": bundle})
}

func (h *Handler) handleFetchBundles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientIDs []string `json:"patient_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if len(req.PatientIDs) == 0 {
		http.Error(w, "patient_ids is required", http.StatusBadRequest)
		return
	}
	bundles, err := h.service.FetchBundles(r.Context(), req.PatientIDs)
	if err != nil {
		logger.Log.WithError(err).Error("failed to fetch bundles")
		http.Error(w, "failed to fetch bundles", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bundles": bundles})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
