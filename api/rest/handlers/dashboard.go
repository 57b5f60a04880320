package handlers

import (
	"encoding/json"
	"net/http"

	"drift-benchmark/core/models"
	"drift-benchmark/core/monitoring"
	"drift-benchmark/core/repository"
)

// DashboardHandler serves the aggregate views used by dashboards
type DashboardHandler struct {
	runRepo  *repository.RunRepository
	exporter *monitoring.MetricsExporter
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(runRepo *repository.RunRepository, exporter *monitoring.MetricsExporter) *DashboardHandler {
	return &DashboardHandler{
		runRepo:  runRepo,
		exporter: exporter,
	}
}

// GetOverview handles GET /v1/overview
func (h *DashboardHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	statuses := []models.RunStatus{
		models.RunStatusPending,
		models.RunStatusGenerating,
		models.RunStatusEvaluating,
		models.RunStatusCompleted,
		models.RunStatusFailed,
		models.RunStatusCancelled,
	}

	counts := make(map[string]int, len(statuses))
	for _, status := range statuses {
		s := status
		runs, err := h.runRepo.ListRuns(&s, 1000)
		if err != nil {
			http.Error(w, "Failed to aggregate runs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		counts[string(status)] = len(runs)
	}

	recent, err := h.runRepo.ListRuns(nil, 10)
	if err != nil {
		http.Error(w, "Failed to list recent runs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	recentItems := make([]map[string]interface{}, len(recent))
	for i, run := range recent {
		recentItems[i] = map[string]interface{}{
			"id":         run.ID,
			"name":       run.Name,
			"status":     run.Status,
			"created_at": run.CreatedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runs_by_status": counts,
		"recent_runs":    recentItems,
	})
}

// GetMetrics handles GET /metrics in Prometheus text format
func (h *DashboardHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(h.exporter.GetPrometheusMetrics()))
}
