package loop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"drift-benchmark/core/models"
	"drift-benchmark/core/retrypolicy"
	"drift-benchmark/storage"
)

// Transformer is the capability that converts an artifact's payload to the
// opposite modality. Implementations classify failures with
// retrypolicy.Transient / retrypolicy.Permanent.
type Transformer interface {
	Transform(ctx context.Context, input models.Artifact, payload []byte, target models.Modality, prompt string) ([]byte, error)
}

// Controller drives the recursive transformation loop for seed items,
// persisting every step durably and tolerating transient Transformer
// failures. One item's failure never affects its siblings.
type Controller struct {
	store       *storage.ArtifactStore
	transformer Transformer
	policy      retrypolicy.Policy
	prompts     models.PromptSpec
}

// NewController creates a loop controller
func NewController(store *storage.ArtifactStore, transformer Transformer, policy retrypolicy.Policy, prompts models.PromptSpec) *Controller {
	return &Controller{
		store:       store,
		transformer: transformer,
		policy:      policy,
		prompts:     prompts,
	}
}

// RunAll processes seeds in parallel up to limit concurrent items. Steps
// within one item stay strictly sequential. Results are returned in seed
// order. The returned error is infrastructure-level only (store faults,
// run cancellation); per-item capability failures are reported in the
// corresponding LoopResult.
func (c *Controller) RunAll(ctx context.Context, seeds []storage.Seed, spec models.LoopSpec, limit int) ([]models.LoopResult, error) {
	if limit <= 0 {
		limit = 1
	}

	results := make([]models.LoopResult, len(seeds))
	errs := make([]error, len(seeds))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, seed := range seeds {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, seed storage.Seed) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i], errs[i] = c.RunLoop(ctx, seed, spec)
		}(i, seed)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return results, err
		}
	}
	if ctx.Err() != nil {
		return results, ctx.Err()
	}
	return results, nil
}

// RunLoop executes the full loop for one seed item. Capability errors are
// captured in the item's terminal status and never escape; the returned
// error is reserved for infrastructure faults and cancellation.
func (c *Controller) RunLoop(ctx context.Context, seed storage.Seed, spec models.LoopSpec) (models.LoopResult, error) {
	result := models.LoopResult{ItemID: seed.ItemID}

	table, err := Compile(spec)
	if err != nil {
		return result, err
	}

	if seed.Modality != table.ModalityAt(0) {
		result.Status = models.ItemFailed
		result.Error = fmt.Sprintf("seed modality %q does not match loop pattern %q", seed.Modality, spec.Pattern)
		return result, nil
	}

	artifacts, resumeFrom, err := c.restore(seed, table)
	if err != nil {
		return result, err
	}
	if resumeFrom > 1 {
		log.Printf("Item %s resuming at iteration %d", seed.ItemID, resumeFrom)
	}

	for i := resumeFrom; i <= table.StepCount(); i++ {
		if ctx.Err() != nil {
			// Abort without a Failed record: persisted state stays resumable.
			return result, ctx.Err()
		}

		step := table.Step(i)
		input := artifacts[i-1]
		output, rec, err := c.runStep(ctx, input, step)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			// Abandoned in-flight call: no Failed record, the item resumes later.
			return result, err
		}
		if saveErr := c.store.SaveIterationRecord(rec); saveErr != nil {
			return result, saveErr
		}
		if err != nil {
			log.Printf("Item %s failed at iteration %d after %d attempts: %v", seed.ItemID, i, rec.AttemptCount, err)
			result.Status = models.ItemFailed
			result.Artifacts = artifacts
			result.Error = err.Error()
			return result, nil
		}
		artifacts = append(artifacts, output)
	}

	result.Status = models.ItemCompleted
	result.Artifacts = artifacts
	log.Printf("Item %s completed %d iterations", seed.ItemID, table.StepCount())
	return result, nil
}

// restore registers the seed as iteration 0 (unless already present) and
// returns the contiguous run of already-Succeeded artifacts plus the index
// to resume from. Already-Succeeded steps trigger zero Transformer calls.
func (c *Controller) restore(seed storage.Seed, table *StepTable) ([]models.Artifact, int, error) {
	existing, err := c.store.LoadArtifacts(seed.ItemID)
	if err != nil {
		return nil, 0, err
	}
	records, err := c.store.LoadIterationRecords(seed.ItemID)
	if err != nil {
		return nil, 0, err
	}

	succeeded := make(map[int]bool, len(records))
	for _, rec := range records {
		if rec.Status == models.StepSucceeded {
			succeeded[rec.IterationIndex] = true
		}
	}

	byIndex := make(map[int]models.Artifact, len(existing))
	for _, a := range existing {
		byIndex[a.IterationIndex] = a
	}

	var artifacts []models.Artifact
	if a, ok := byIndex[0]; ok {
		artifacts = append(artifacts, a)
	} else {
		a, err := c.store.SaveArtifact(seed.ItemID, 0, seed.Modality, seed.Payload)
		if err != nil {
			return nil, 0, err
		}
		artifacts = append(artifacts, a)
	}

	resumeFrom := 1
	for i := 1; i <= table.StepCount(); i++ {
		a, ok := byIndex[i]
		if !ok || !succeeded[i] {
			break
		}
		artifacts = append(artifacts, a)
		resumeFrom = i + 1
	}
	return artifacts, resumeFrom, nil
}

// runStep invokes the Transformer under the retry policy and persists the
// produced artifact. The IterationRecord is returned for persistence even
// when the step fails.
func (c *Controller) runStep(ctx context.Context, input models.Artifact, step Step) (models.Artifact, models.IterationRecord, error) {
	rec := models.IterationRecord{
		ItemID:         input.ItemID,
		IterationIndex: step.Index,
		InputRef:       input.Ref,
		StartedAt:      time.Now().UTC(),
	}

	payload, err := c.store.ReadArtifact(input.ItemID, input.Ref)
	if err != nil {
		rec.Status = models.StepFailed
		rec.Error = err.Error()
		rec.CompletedAt = time.Now().UTC()
		return models.Artifact{}, rec, err
	}

	prompt := c.prompts.ToText
	if step.Target == models.ModalityImage {
		prompt = c.prompts.ToImage
	}

	output, attempts, err := retrypolicy.Do(ctx, c.policy, func() ([]byte, error) {
		return c.transformer.Transform(ctx, input, payload, step.Target, prompt)
	})
	rec.AttemptCount = attempts
	rec.CompletedAt = time.Now().UTC()

	if err != nil {
		rec.Status = models.StepFailed
		rec.Error = err.Error()
		return models.Artifact{}, rec, err
	}

	artifact, err := c.store.SaveArtifact(input.ItemID, step.Index, step.Target, output)
	if err != nil {
		rec.Status = models.StepFailed
		rec.Error = err.Error()
		return models.Artifact{}, rec, err
	}

	rec.Status = models.StepSucceeded
	rec.OutputRef = artifact.Ref
	return artifact, rec, nil
}
