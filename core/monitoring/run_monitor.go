package monitoring

import (
	"context"
	"log"
	"time"

	"drift-benchmark/core/models"
	"drift-benchmark/core/repository"
)

// stallThreshold is how long an active run may go without progress
// before the monitor flags it
const stallThreshold = 10 * time.Minute

// RunMonitor watches active runs and reports progress and stalls
type RunMonitor struct {
	runRepo *repository.RunRepository
}

// NewRunMonitor creates a new run monitor
func NewRunMonitor(runRepo *repository.RunRepository) *RunMonitor {
	return &RunMonitor{runRepo: runRepo}
}

// Start starts the run monitoring loop
func (rm *RunMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second) // Check every 30 seconds
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.monitorActiveRuns()
		}
	}
}

// monitorActiveRuns reports on all generating and evaluating runs
func (rm *RunMonitor) monitorActiveRuns() {
	for _, status := range []models.RunStatus{models.RunStatusGenerating, models.RunStatusEvaluating} {
		s := status
		runs, err := rm.runRepo.ListRuns(&s, 100)
		if err != nil {
			log.Printf("Failed to fetch %s runs: %v", status, err)
			continue
		}

		for _, run := range runs {
			rm.checkRunProgress(run)
		}
	}
}

// checkRunProgress logs a run's item counters and flags stalls
func (rm *RunMonitor) checkRunProgress(run *models.Run) {
	log.Printf("Run %s (%s): %d/%d items done, %d failed",
		run.ID, run.Status, run.ItemsCompleted+run.ItemsFailed, run.ItemsTotal, run.ItemsFailed)

	if since := time.Since(run.UpdatedAt); since > stallThreshold {
		log.Printf("WARNING: Run %s has made no progress for %s", run.ID, since.Round(time.Second))
	}
}

// RunMetrics represents run monitoring metrics
type RunMetrics struct {
	RunID          string
	Status         models.RunStatus
	ItemsTotal     int
	ItemsCompleted int
	ItemsFailed    int
	StartTime      *time.Time
	ElapsedTime    time.Duration
}

// GetRunMetrics returns metrics for a run
func (rm *RunMonitor) GetRunMetrics(runID string) (*RunMetrics, error) {
	run, err := rm.runRepo.GetRun(runID)
	if err != nil {
		return nil, err
	}

	metrics := &RunMetrics{
		RunID:          runID,
		Status:         run.Status,
		ItemsTotal:     run.ItemsTotal,
		ItemsCompleted: run.ItemsCompleted,
		ItemsFailed:    run.ItemsFailed,
		StartTime:      run.StartedAt,
	}
	if run.StartedAt != nil {
		metrics.ElapsedTime = time.Since(*run.StartedAt)
	}
	return metrics, nil
}
