package monitoring

import (
	"fmt"

	"drift-benchmark/core/models"
	"drift-benchmark/core/repository"
)

// MetricsExporter exports run metrics in Prometheus text format for
// scraping by an external Prometheus/Grafana stack
type MetricsExporter struct {
	runRepo *repository.RunRepository
}

// NewMetricsExporter creates a new metrics exporter
func NewMetricsExporter(runRepo *repository.RunRepository) *MetricsExporter {
	return &MetricsExporter{runRepo: runRepo}
}

// GetPrometheusMetrics returns metrics in Prometheus format
func (me *MetricsExporter) GetPrometheusMetrics() string {
	statuses := []models.RunStatus{
		models.RunStatusPending,
		models.RunStatusGenerating,
		models.RunStatusEvaluating,
		models.RunStatusCompleted,
		models.RunStatusFailed,
		models.RunStatusCancelled,
	}

	var metrics string
	metrics += "# HELP benchmark_runs Number of runs by status\n"
	metrics += "# TYPE benchmark_runs gauge\n"

	var active []*models.Run
	for _, status := range statuses {
		s := status
		runs, err := me.runRepo.ListRuns(&s, 1000)
		if err != nil {
			continue
		}
		metrics += fmt.Sprintf("benchmark_runs{status=%q} %d\n", status, len(runs))

		if status == models.RunStatusGenerating || status == models.RunStatusEvaluating {
			active = append(active, runs...)
		}
	}

	metrics += "# HELP benchmark_run_items Item counts for active runs\n"
	metrics += "# TYPE benchmark_run_items gauge\n"
	for _, run := range active {
		metrics += fmt.Sprintf("benchmark_run_items{run_id=%q,state=\"total\"} %d\n", run.ID, run.ItemsTotal)
		metrics += fmt.Sprintf("benchmark_run_items{run_id=%q,state=\"completed\"} %d\n", run.ID, run.ItemsCompleted)
		metrics += fmt.Sprintf("benchmark_run_items{run_id=%q,state=\"failed\"} %d\n", run.ID, run.ItemsFailed)
	}

	return metrics
}
