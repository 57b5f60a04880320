package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"drift-benchmark/core/evaluation"
	"drift-benchmark/core/loop"
	"drift-benchmark/core/models"
	"drift-benchmark/core/retrypolicy"
	"drift-benchmark/storage"
)

// Observer receives run lifecycle callbacks. Implementations persist
// them; NopObserver discards them.
type Observer interface {
	PhaseChanged(runID string, from, to models.RunStatus, reason string)
	ItemFinished(result models.ItemResult)
}

// NopObserver is the default no-op observer
type NopObserver struct{}

func (NopObserver) PhaseChanged(string, models.RunStatus, models.RunStatus, string) {}
func (NopObserver) ItemFinished(models.ItemResult)                                  {}

// Runner executes a benchmark run end to end: seed loading, the
// transformation loops, the evaluation pass, and the run-level report.
// It owns the run's status transitions, emitted through the observer.
type Runner struct {
	transformer loop.Transformer
	evaluator   evaluation.Evaluator
	observer    Observer
}

// NewRunner creates a runner with the given capability implementations
func NewRunner(transformer loop.Transformer, evaluator evaluation.Evaluator, observer Observer) *Runner {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Runner{
		transformer: transformer,
		evaluator:   evaluator,
		observer:    observer,
	}
}

// runMetadata is the run-level metadata written next to the artifacts
type runMetadata struct {
	RunID      string    `json:"run_id"`
	Experiment string    `json:"experiment"`
	Mode       string    `json:"mode"`
	Pattern    string    `json:"pattern"`
	Iterations int       `json:"iterations"`
	StartedAt  time.Time `json:"started_at"`
}

// Execute runs one benchmark run to its terminal status. The returned
// error reports infrastructure faults and cancellation; per-item and
// per-pair failures are contained in the run's summary.
func (r *Runner) Execute(ctx context.Context, run *models.Run) error {
	spec := run.Spec
	if spec == nil {
		return fmt.Errorf("run %s has no parsed spec", run.ID)
	}

	// The store root is keyed by experiment name so interrupted runs and
	// evaluate-only passes find earlier artifacts.
	root := filepath.Join(spec.OutputRoot, spec.ExperimentName)
	store, err := storage.NewArtifactStore(root)
	if err != nil {
		return r.fail(run, models.RunStatusPending, err)
	}

	meta := runMetadata{
		RunID:      run.ID,
		Experiment: spec.ExperimentName,
		Mode:       string(run.Mode),
		Pattern:    spec.Loop.Pattern,
		Iterations: spec.Loop.IterationCount,
		StartedAt:  time.Now().UTC(),
	}
	if err := store.WriteJSON("metadata.json", meta); err != nil {
		return r.fail(run, models.RunStatusPending, err)
	}
	if run.SpecYAML != "" {
		if err := store.WriteConfigSnapshot(run.SpecYAML); err != nil {
			return r.fail(run, models.RunStatusPending, err)
		}
	}

	policy := retrypolicy.Policy{
		MaxAttempts: spec.Retry.MaxAttempts,
		BaseDelay:   spec.Retry.BaseDelay,
		MaxDelay:    spec.Retry.MaxDelay,
	}

	var items []models.ItemResult
	var phase models.RunStatus

	switch run.Mode {
	case models.ModeEvaluateOnly:
		phase = models.RunStatusEvaluating
		r.observer.PhaseChanged(run.ID, models.RunStatusPending, phase, "evaluation_started")
		items, err = r.evaluateExisting(ctx, run, store, policy)
	default:
		phase = models.RunStatusGenerating
		r.observer.PhaseChanged(run.ID, models.RunStatusPending, phase, "generation_started")
		items, err = r.generateAndEvaluate(ctx, run, store, policy, &phase)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			r.observer.PhaseChanged(run.ID, phase, models.RunStatusCancelled, "run_cancelled")
			return err
		}
		return r.fail(run, phase, err)
	}

	summary := buildSummary(run, items)
	if err := store.WriteJSON("summary.json", summary); err != nil {
		return r.fail(run, phase, err)
	}

	r.observer.PhaseChanged(run.ID, phase, models.RunStatusCompleted, "run_completed")
	log.Printf("Run %s completed: %d items, degraded=%v", run.ID, len(items), summary.Degraded)
	return nil
}

// generateAndEvaluate is the full-mode pipeline: loops first, then the
// evaluation pass over everything the loops produced
func (r *Runner) generateAndEvaluate(ctx context.Context, run *models.Run, store *storage.ArtifactStore, policy retrypolicy.Policy, phase *models.RunStatus) ([]models.ItemResult, error) {
	spec := run.Spec

	source, err := storage.OpenSeedSource(ctx, spec.SeedSource.URI)
	if err != nil {
		return nil, err
	}
	seeds, err := source.ListSeeds(ctx)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("seed source %s contains no seeds", spec.SeedSource.URI)
	}
	log.Printf("Run %s: %d seeds from %s", run.ID, len(seeds), spec.SeedSource.URI)

	controller := loop.NewController(store, r.transformer, policy, spec.Prompts)
	results, err := controller.RunAll(ctx, seeds, spec.Loop, spec.Concurrency)
	if err != nil {
		return nil, err
	}

	items := make([]models.ItemResult, len(results))
	for i, res := range results {
		items[i] = models.ItemResult{
			RunID:          run.ID,
			ItemID:         res.ItemID,
			LoopStatus:     string(res.Status),
			IterationsDone: len(res.Artifacts) - 1,
			UpdatedAt:      time.Now().UTC(),
		}
		if items[i].IterationsDone < 0 {
			items[i].IterationsDone = 0
		}
	}

	if !spec.Evaluation.Enabled {
		for i := range items {
			r.observer.ItemFinished(items[i])
		}
		return items, nil
	}

	r.observer.PhaseChanged(run.ID, *phase, models.RunStatusEvaluating, "evaluation_started")
	*phase = models.RunStatusEvaluating

	engine := r.newEngine(store, policy, spec)
	for i, res := range results {
		if ctx.Err() != nil {
			return items, ctx.Err()
		}
		if skipEvaluation(res.Status, spec.Evaluation.PartialPolicy) {
			log.Printf("Run %s: skipping evaluation of %s item %s", run.ID, res.Status, res.ItemID)
			r.observer.ItemFinished(items[i])
			continue
		}

		set, err := engine.EvaluateItem(ctx, res.ItemID, res.Artifacts)
		if err != nil {
			return items, err
		}
		items[i].PairsScored = set.Scored
		items[i].PairsUnscored = set.Unscored
		items[i].UpdatedAt = time.Now().UTC()
		r.observer.ItemFinished(items[i])
	}
	return items, nil
}

// evaluateExisting scores a store that an earlier run already populated
func (r *Runner) evaluateExisting(ctx context.Context, run *models.Run, store *storage.ArtifactStore, policy retrypolicy.Policy) ([]models.ItemResult, error) {
	spec := run.Spec

	table, err := loop.Compile(spec.Loop)
	if err != nil {
		return nil, err
	}

	itemIDs, err := store.ListItems()
	if err != nil {
		return nil, err
	}
	if len(itemIDs) == 0 {
		return nil, fmt.Errorf("store %s contains no items to evaluate", store.Root())
	}

	engine := r.newEngine(store, policy, spec)
	var items []models.ItemResult
	for _, itemID := range itemIDs {
		if ctx.Err() != nil {
			return items, ctx.Err()
		}

		artifacts, err := store.LoadArtifacts(itemID)
		if err != nil {
			return items, err
		}

		status := models.ItemCompleted
		if len(artifacts) < table.Length() {
			status = models.ItemFailed
		}
		item := models.ItemResult{
			RunID:          run.ID,
			ItemID:         itemID,
			LoopStatus:     string(status),
			IterationsDone: len(artifacts) - 1,
			UpdatedAt:      time.Now().UTC(),
		}
		if item.IterationsDone < 0 {
			item.IterationsDone = 0
		}

		if skipEvaluation(status, spec.Evaluation.PartialPolicy) {
			log.Printf("Run %s: skipping evaluation of incomplete item %s (%d/%d artifacts)",
				run.ID, itemID, len(artifacts), table.Length())
			items = append(items, item)
			r.observer.ItemFinished(item)
			continue
		}

		set, err := engine.EvaluateItem(ctx, itemID, artifacts)
		if err != nil {
			return items, err
		}
		item.PairsScored = set.Scored
		item.PairsUnscored = set.Unscored
		item.UpdatedAt = time.Now().UTC()
		items = append(items, item)
		r.observer.ItemFinished(item)
	}
	return items, nil
}

func (r *Runner) newEngine(store *storage.ArtifactStore, policy retrypolicy.Policy, spec *models.RunSpec) *evaluation.Engine {
	engine := evaluation.NewEngine(store, r.evaluator, policy, spec.Evaluation.Rubrics)
	if spec.Concurrency > 0 {
		engine.PairConcurrency = spec.Concurrency
	}
	return engine
}

// skipEvaluation applies the partial policy to an item's loop status.
// Completed items are always evaluated; failed items only under
// score-completed, which rates the pairs their surviving prefix allows.
func skipEvaluation(status models.ItemStatus, policy models.PartialPolicy) bool {
	if status == models.ItemCompleted {
		return false
	}
	return policy != models.PartialScoreCompleted
}

func (r *Runner) fail(run *models.Run, from models.RunStatus, err error) error {
	log.Printf("Run %s failed: %v", run.ID, err)
	r.observer.PhaseChanged(run.ID, from, models.RunStatusFailed, err.Error())
	return err
}

func buildSummary(run *models.Run, items []models.ItemResult) models.RunSummary {
	summary := models.RunSummary{
		RunID:       run.ID,
		Experiment:  run.Spec.ExperimentName,
		Items:       items,
		GeneratedAt: time.Now().UTC(),
	}
	for _, item := range items {
		if item.PairsUnscored > 0 || item.LoopStatus == string(models.ItemFailed) {
			summary.Degraded = true
		}
	}
	return summary
}
