package scheduler

import (
	"log"
	"sync"

	"drift-benchmark/core/models"
	"drift-benchmark/core/repository"
)

// RunObserver persists runner callbacks through the repositories so the
// API always reflects a run's live state
type RunObserver struct {
	runRepo  *repository.RunRepository
	itemRepo *repository.ItemRepository

	mu       sync.Mutex
	progress map[string]*runProgress
}

type runProgress struct {
	total     int
	completed int
	failed    int
}

// NewRunObserver creates a database-backed run observer
func NewRunObserver(runRepo *repository.RunRepository, itemRepo *repository.ItemRepository) *RunObserver {
	return &RunObserver{
		runRepo:  runRepo,
		itemRepo: itemRepo,
		progress: make(map[string]*runProgress),
	}
}

// PhaseChanged records a run status transition
func (o *RunObserver) PhaseChanged(runID string, from, to models.RunStatus, reason string) {
	if err := o.runRepo.UpdateRunStatus(runID, from, to, reason, nil); err != nil {
		log.Printf("Failed to record run %s transition %s -> %s: %v", runID, from, to, err)
	}

	switch to {
	case models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled:
		o.mu.Lock()
		delete(o.progress, runID)
		o.mu.Unlock()
	}
}

// ItemFinished records one item's outcome and refreshes the run counters
func (o *RunObserver) ItemFinished(result models.ItemResult) {
	if err := o.itemRepo.UpsertItemResult(result); err != nil {
		log.Printf("Failed to record item %s of run %s: %v", result.ItemID, result.RunID, err)
	}

	o.mu.Lock()
	p, ok := o.progress[result.RunID]
	if !ok {
		p = &runProgress{}
		o.progress[result.RunID] = p
	}
	p.total++
	if result.LoopStatus == string(models.ItemCompleted) {
		p.completed++
	} else {
		p.failed++
	}
	total, completed, failed := p.total, p.completed, p.failed
	o.mu.Unlock()

	if err := o.runRepo.UpdateRunProgress(result.RunID, total, completed, failed); err != nil {
		log.Printf("Failed to update progress for run %s: %v", result.RunID, err)
	}
}
