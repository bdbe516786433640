package trials

import (
	"encoding/json"
	"errors"
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
	r.HandleFunc("/trials", h.handleCreateTrial).Methods(http.MethodPost)
	r.HandleFunc("/trials", h.handleListTrials).Methods(http.MethodGet)
	r.HandleFunc("/trials/{id}", h.handleGetTrial).Methods(http.MethodGet)
	r.HandleFunc("/trials/{id}/criteria", h.handleReplaceCriteria).Methods(http.MethodPut)
	r.HandleFunc("/trials/{id}/criteria", h.handleGetCriteria).Methods(http.MethodGet)
	r.HandleFunc("/trials/{id}/audits", h.handleListAudits).Methods(http.MethodGet)
}

func (h *Handler) handleCreateTrial(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTrialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	trial, err := h.service.CreateTrial(r.Context(), req)
	if err != nil {
		if errors.Is(err, errMissingTrialID) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to create trial")
		http.Error(w, "failed to create trial", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"trial": trial})
}

func (h *Handler) handleListTrials(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	items, err := h.service.ListTrials(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list trials")
		http.Error(w, "failed to list trials", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) handleGetTrial(w http.ResponseWriter, r *http.Request) {
	trialID, ok := parseTrialID(w, r)
	if !ok {
		return
	}
	trial, err := h.service.GetTrial(r.Context(), trialID)
	if err != nil {
		if errors.Is(err, ErrTrialNotFound) {
			http.Error(w, "trial not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to get trial")
		http.Error(w, "failed to get trial", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trial": trial})
}

func (h *Handler) handleReplaceCriteria(w http.ResponseWriter, r *http.Request) {
	trialID, ok := parseTrialID(w, r)
	if !ok {
		return
	}
	var req models.ReplaceCriteriaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	stored, err := h.service.ReplaceCriteria(r.Context(), trialID, req.Criteria)
	if err != nil {
		if errors.Is(err, ErrTrialNotFound) {
			http.Error(w, "trial not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to replace criteria")
		http.Error(w, "failed to replace criteria", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"criteria": stored})
}

func (h *Handler) handleGetCriteria(w http.ResponseWriter, r *http.Request) {
	trialID, ok := parseTrialID(w, r)
	if !ok {
		return
	}
	criteria, err := h.service.GetCriteria(r.Context(), trialID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to get criteria")
		http.Error(w, "failed to get criteria", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"criteria": criteria})
}

func (h *Handler) handleListAudits(w http.ResponseWriter, r *http.Request) {
	trialID, ok := parseTrialID(w, r)
	if !ok {
		return
	}
	limit := parseLimit(r, 100)
	audits, err := h.service.ListAudits(r.Context(), trialID, limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list audits")
		http.Error(w, "failed to list audits", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": audits})
}

func parseTrialID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	trialID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid trial id", http.StatusBadRequest)
		return 0, false
	}
	return trialID, true
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
