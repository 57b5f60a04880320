package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"drift-benchmark/core/models"
	"drift-benchmark/core/repository"
	"drift-benchmark/core/runner"
	"drift-benchmark/core/spec"
)

// Scheduler picks up pending runs and drives them through the runner.
// Runs execute one goroutine each; the scheduler tracks cancel functions
// so the API can stop an in-flight run.
type Scheduler struct {
	runRepo  *repository.RunRepository
	itemRepo *repository.ItemRepository
	runner   *runner.Runner
	queue    *RunQueue
	stopChan chan struct{}

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewScheduler creates a new scheduler
func NewScheduler(runRepo *repository.RunRepository, itemRepo *repository.ItemRepository, r *runner.Runner) *Scheduler {
	return &Scheduler{
		runRepo:  runRepo,
		itemRepo: itemRepo,
		runner:   r,
		queue:    NewRunQueue(),
		stopChan: make(chan struct{}),
		active:   make(map[string]context.CancelFunc),
	}
}

// Start starts the scheduler worker
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second) // Check queue every 5 seconds
	defer ticker.Stop()

	s.loadPendingRuns()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.processQueue(ctx)
		}
	}
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// Enqueue adds a run to the queue
func (s *Scheduler) Enqueue(run *models.Run) {
	s.queue.Enqueue(run)
}

// Cancel stops a run. In-flight runs get their context cancelled and
// finish through the runner's cancellation path; queued runs are marked
// cancelled directly.
func (s *Scheduler) Cancel(runID string) error {
	s.mu.Lock()
	cancel, running := s.active[runID]
	s.mu.Unlock()

	if running {
		cancel()
		return nil
	}

	run, err := s.runRepo.GetRun(runID)
	if err != nil {
		return err
	}
	switch run.Status {
	case models.RunStatusPending:
		return s.runRepo.UpdateRunStatus(runID, models.RunStatusPending, models.RunStatusCancelled, "cancelled_before_start", nil)
	case models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled:
		return fmt.Errorf("run %s already finished with status %q", runID, run.Status)
	default:
		// Generating or evaluating without a registered cancel func means
		// another process owns the run.
		return fmt.Errorf("run %s is not managed by this scheduler", runID)
	}
}

// loadPendingRuns requeues runs left pending by an earlier process
func (s *Scheduler) loadPendingRuns() {
	runs, err := s.runRepo.GetPendingRuns(100)
	if err != nil {
		log.Printf("Failed to load pending runs: %v", err)
		return
	}

	for _, run := range runs {
		s.queue.Enqueue(run)
	}
	if len(runs) > 0 {
		log.Printf("Requeued %d pending runs", len(runs))
	}
}

// processQueue drains the queue, dispatching each still-pending run
func (s *Scheduler) processQueue(ctx context.Context) {
	for {
		run := s.queue.PopRun()
		if run == nil {
			return
		}

		// Re-fetch to get latest state
		fresh, err := s.runRepo.GetRun(run.ID)
		if err != nil {
			log.Printf("Failed to fetch run %s: %v", run.ID, err)
			continue
		}
		if fresh.Status != models.RunStatusPending {
			continue
		}

		parsed, err := spec.ParseBenchmarkSpec(fresh.SpecYAML)
		if err != nil {
			log.Printf("Run %s has an invalid spec: %v", fresh.ID, err)
			s.runRepo.UpdateRunStatus(fresh.ID, models.RunStatusPending, models.RunStatusFailed, "invalid_spec", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		fresh.Spec = parsed

		runCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.active[fresh.ID] = cancel
		s.mu.Unlock()

		go s.executeRun(runCtx, cancel, fresh)
	}
}

// executeRun drives one run to a terminal status
func (s *Scheduler) executeRun(ctx context.Context, cancel context.CancelFunc, run *models.Run) {
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.active, run.ID)
		s.mu.Unlock()
	}()

	log.Printf("Dispatching run %s (%s, mode %s)", run.ID, run.Name, run.Mode)
	if err := s.runner.Execute(ctx, run); err != nil {
		log.Printf("Run %s ended with error: %v", run.ID, err)
	}
}
