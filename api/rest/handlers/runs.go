package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"drift-benchmark/core/models"
	"drift-benchmark/core/repository"
	"drift-benchmark/core/scheduler"
	"drift-benchmark/core/spec"

	"github.com/gorilla/mux"
)

// RunHandler handles run-related HTTP requests
type RunHandler struct {
	runRepo   *repository.RunRepository
	eventRepo *repository.EventRepository
	itemRepo  *repository.ItemRepository
	scheduler *scheduler.Scheduler
}

// NewRunHandler creates a new run handler
func NewRunHandler(
	runRepo *repository.RunRepository,
	eventRepo *repository.EventRepository,
	itemRepo *repository.ItemRepository,
	sched *scheduler.Scheduler,
) *RunHandler {
	return &RunHandler{
		runRepo:   runRepo,
		eventRepo: eventRepo,
		itemRepo:  itemRepo,
		scheduler: sched,
	}
}

// SubmitRunRequest represents the request to submit a run
type SubmitRunRequest struct {
	Name     string `json:"name"`
	Mode     string `json:"mode,omitempty"`
	SpecYAML string `json:"spec_yaml"`
}

// SubmitRunResponse represents the response after submitting a run
type SubmitRunResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SubmitRun handles POST /v1/runs
func (h *RunHandler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Reject bad specs at submission rather than at pickup
	parsed, err := spec.ParseBenchmarkSpec(req.SpecYAML)
	if err != nil {
		http.Error(w, "Invalid benchmark spec: "+err.Error(), http.StatusBadRequest)
		return
	}

	mode := models.ModeFull
	switch req.Mode {
	case "", string(models.ModeFull):
	case string(models.ModeEvaluateOnly):
		mode = models.ModeEvaluateOnly
	default:
		http.Error(w, fmt.Sprintf("Unknown mode %q", req.Mode), http.StatusBadRequest)
		return
	}

	name := req.Name
	if name == "" {
		name = parsed.ExperimentName
	}

	run := &models.Run{
		Name:     name,
		Mode:     mode,
		Status:   models.RunStatusPending,
		Spec:     parsed,
		SpecYAML: req.SpecYAML,
	}
	if err := h.runRepo.CreateRun(run); err != nil {
		http.Error(w, "Failed to create run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.scheduler.Enqueue(run)

	resp := SubmitRunResponse{
		ID:        run.ID,
		Status:    string(run.Status),
		CreatedAt: run.CreatedAt,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// GetRun handles GET /v1/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["id"]

	run, err := h.runRepo.GetRun(runID)
	if err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"id":     run.ID,
		"name":   run.Name,
		"mode":   run.Mode,
		"status": run.Status,
		"items": map[string]interface{}{
			"total":     run.ItemsTotal,
			"completed": run.ItemsCompleted,
			"failed":    run.ItemsFailed,
		},
		"timestamps": map[string]interface{}{
			"created_at":  run.CreatedAt,
			"started_at":  run.StartedAt,
			"finished_at": run.CompletedAt,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ListRuns handles GET /v1/runs
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	statusParam := r.URL.Query().Get("status")
	limit := 50 // Default limit
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		fmt.Sscanf(limitParam, "%d", &limit)
	}

	var status *models.RunStatus
	if statusParam != "" {
		s := models.RunStatus(statusParam)
		status = &s
	}

	runs, err := h.runRepo.ListRuns(status, limit)
	if err != nil {
		http.Error(w, "Failed to list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, len(runs))
	for i, run := range runs {
		items[i] = map[string]interface{}{
			"id":              run.ID,
			"name":            run.Name,
			"mode":            run.Mode,
			"status":          run.Status,
			"items_total":     run.ItemsTotal,
			"items_completed": run.ItemsCompleted,
			"items_failed":    run.ItemsFailed,
			"created_at":      run.CreatedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items": items,
	})
}

// CancelRun handles POST /v1/runs/{id}/cancel
func (h *RunHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["id"]

	if _, err := h.runRepo.GetRun(runID); err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	if err := h.scheduler.Cancel(runID); err != nil {
		http.Error(w, "Failed to cancel run: "+err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     runID,
		"status": "cancelling",
	})
}

// GetRunEvents handles GET /v1/runs/{id}/events
func (h *RunHandler) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["id"]

	if _, err := h.runRepo.GetRun(runID); err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	events, err := h.eventRepo.GetRunEvents(runID, 100)
	if err != nil {
		http.Error(w, "Failed to fetch events: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, len(events))
	for i, event := range events {
		item := map[string]interface{}{
			"at":        event.At,
			"to_status": event.ToStatus,
			"reason":    event.Reason,
		}
		if event.FromStatus != nil {
			item["from_status"] = *event.FromStatus
		}
		items[i] = item
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items": items,
	})
}

// GetRunItems handles GET /v1/runs/{id}/items
func (h *RunHandler) GetRunItems(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["id"]

	if _, err := h.runRepo.GetRun(runID); err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	results, err := h.itemRepo.GetItemResults(runID)
	if err != nil {
		http.Error(w, "Failed to fetch items: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, len(results))
	for i, res := range results {
		items[i] = map[string]interface{}{
			"item_id":         res.ItemID,
			"loop_status":     res.LoopStatus,
			"iterations_done": res.IterationsDone,
			"pairs_scored":    res.PairsScored,
			"pairs_unscored":  res.PairsUnscored,
			"updated_at":      res.UpdatedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items": items,
	})
}
