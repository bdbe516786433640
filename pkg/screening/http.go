package screening

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/trialmatch-ai/platform/pkg/common/logger"
	"github.com/trialmatch-ai/platform/pkg/common/models"
)

type Handler struct {
	service *Service
	runs    *RunManager
}

func NewHandler(service *Service, runs *RunManager) *Handler {
	return &Handler{service: service, runs: runs}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/screening/evaluate", h.handleEvaluate).Methods(http.MethodPost)
	r.HandleFunc("/screening/batch", h.handleBatch).Methods(http.MethodPost)
	r.HandleFunc("/screening/runs", h.handleSubmitRun).Methods(http.MethodPost)
	r.HandleFunc("/screening/runs", h.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/screening/runs/{id}", h.handleGetRun).Methods(http.MethodGet)
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req models.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.TrialID == 0 || req.PatientID == "" {
		http.Error(w, "trial_id and patient_id are required", http.StatusBadRequest)
		return
	}
	verdict, err := h.service.Evaluate(r.Context(), req.TrialID, req.PatientID)
	if err != nil {
		logger.Log.WithError(err).Error("evaluation failed")
		http.Error(w, "evaluation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"verdict": verdict})
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req models.BatchEvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.TrialID == 0 || len(req.PatientIDs) == 0 {
		http.Error(w, "trial_id and patient_ids are required", http.StatusBadRequest)
		return
	}
	results, err := h.service.EvaluateBatch(r.Context(), req.TrialID, req.PatientIDs)
	if err != nil {
		logger.Log.WithError(err).Error("batch evaluation failed")
		http.Error(w, "batch evaluation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (h *Handler) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req models.ScreeningRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.TrialID == 0 || len(req.PatientIDs) == 0 {
		http.Error(w, "trial_id and patient_ids are required", http.StatusBadRequest)
		return
	}
	run, err := h.runs.Submit(r.Context(), req)
	if err != nil {
		logger.Log.WithError(err).Error("failed to submit screening run")
		http.Error(w, "failed to submit run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"run": run})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	trialID := int64(0)
	if raw := r.URL.Query().Get("trial_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid trial_id", http.StatusBadRequest)
			return
		}
		trialID = parsed
	}
	limit := parseLimit(r, 50)
	runs, err := h.runs.List(r.Context(), trialID, limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list runs")
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": runs})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}
	run, err := h.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to get run")
		http.Error(w, "failed to get run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": run})
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
