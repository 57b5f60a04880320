package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"drift-benchmark/core/models"
	"drift-benchmark/core/retrypolicy"
	"drift-benchmark/storage"
)

// fakeTransformer scripts per-call outcomes and counts invocations per item
type fakeTransformer struct {
	mu    sync.Mutex
	calls map[string]int
	// failures maps "itemID/index-of-call" to an error returned for that call
	failures map[string]error
}

func newFakeTransformer() *fakeTransformer {
	return &fakeTransformer{calls: map[string]int{}, failures: map[string]error{}}
}

func (f *fakeTransformer) Transform(_ context.Context, input models.Artifact, payload []byte, target models.Modality, _ string) ([]byte, error) {
	f.mu.Lock()
	f.calls[input.ItemID]++
	n := f.calls[input.ItemID]
	err := f.failures[fmt.Sprintf("%s/%d", input.ItemID, n)]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%s-from-%s-%d", target, input.Modality, input.IterationIndex)), nil
}

func (f *fakeTransformer) callCount(itemID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[itemID]
}

func testController(t *testing.T, transformer Transformer) (*Controller, *storage.ArtifactStore) {
	t.Helper()
	store, err := storage.NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}
	policy := retrypolicy.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	prompts := models.PromptSpec{ToText: "describe", ToImage: "depict"}
	return NewController(store, transformer, policy, prompts), store
}

func imageSeed(itemID string) storage.Seed {
	return storage.Seed{ItemID: itemID, Modality: models.ModalityImage, Payload: []byte{0x89}}
}

var itiSpec = models.LoopSpec{Pattern: "I-T-I", IterationCount: 2, SeedModality: models.ModalityImage}

func TestRunLoopCompletes(t *testing.T) {
	ft := newFakeTransformer()
	c, store := testController(t, ft)

	result, err := c.RunLoop(context.Background(), imageSeed("item-a"), itiSpec)
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if result.Status != models.ItemCompleted {
		t.Fatalf("status = %q: %s", result.Status, result.Error)
	}
	if len(result.Artifacts) != 3 {
		t.Fatalf("artifacts = %d, want 3", len(result.Artifacts))
	}

	wantModalities := []models.Modality{models.ModalityImage, models.ModalityText, models.ModalityImage}
	for i, a := range result.Artifacts {
		if a.IterationIndex != i {
			t.Errorf("artifact %d index = %d", i, a.IterationIndex)
		}
		if a.Modality != wantModalities[i] {
			t.Errorf("artifact %d modality = %q", i, a.Modality)
		}
	}

	records, err := store.LoadIterationRecords("item-a")
	if err != nil {
		t.Fatalf("LoadIterationRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	for i, rec := range records {
		if rec.Status != models.StepSucceeded || rec.AttemptCount != 1 {
			t.Errorf("record %d = %+v", i, rec)
		}
	}
}

func TestRunLoopRetriesTransientFailures(t *testing.T) {
	ft := newFakeTransformer()
	// First two calls fail transiently, third succeeds.
	ft.failures["item-a/1"] = retrypolicy.Transient(errors.New("timeout"))
	ft.failures["item-a/2"] = retrypolicy.Transient(errors.New("timeout"))
	c, store := testController(t, ft)

	result, err := c.RunLoop(context.Background(), imageSeed("item-a"), itiSpec)
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if result.Status != models.ItemCompleted {
		t.Fatalf("status = %q: %s", result.Status, result.Error)
	}

	records, _ := store.LoadIterationRecords("item-a")
	if records[0].AttemptCount != 3 || records[0].Status != models.StepSucceeded {
		t.Errorf("iteration 1 record = %+v, want 3 attempts succeeded", records[0])
	}
	if records[1].AttemptCount != 1 {
		t.Errorf("iteration 2 record = %+v, want 1 attempt", records[1])
	}
}

func TestRunLoopPermanentFailureTerminatesItem(t *testing.T) {
	ft := newFakeTransformer()
	ft.failures["item-a/2"] = retrypolicy.Permanent(errors.New("content policy rejection"))
	c, store := testController(t, ft)

	result, err := c.RunLoop(context.Background(), imageSeed("item-a"), itiSpec)
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if result.Status != models.ItemFailed {
		t.Fatalf("status = %q, want failed", result.Status)
	}
	// Only one call for the failing step: permanent errors are not retried.
	if got := ft.callCount("item-a"); got != 2 {
		t.Errorf("transformer calls = %d, want 2", got)
	}

	records, _ := store.LoadIterationRecords("item-a")
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[1].Status != models.StepFailed || records[1].AttemptCount != 1 {
		t.Errorf("failed record = %+v", records[1])
	}
}

func TestRunLoopRetryBudgetExhausted(t *testing.T) {
	ft := newFakeTransformer()
	for i := 1; i <= 3; i++ {
		ft.failures[fmt.Sprintf("item-a/%d", i)] = retrypolicy.Transient(errors.New("rate limited"))
	}
	c, store := testController(t, ft)

	result, err := c.RunLoop(context.Background(), imageSeed("item-a"), itiSpec)
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if result.Status != models.ItemFailed {
		t.Fatalf("status = %q, want failed", result.Status)
	}

	records, _ := store.LoadIterationRecords("item-a")
	if records[0].AttemptCount != 3 || records[0].Status != models.StepFailed {
		t.Errorf("record = %+v", records[0])
	}
}

func TestRunLoopResumeSkipsSucceededSteps(t *testing.T) {
	ft := newFakeTransformer()
	c, _ := testController(t, ft)
	seed := imageSeed("item-a")

	first, err := c.RunLoop(context.Background(), seed, itiSpec)
	if err != nil || first.Status != models.ItemCompleted {
		t.Fatalf("first run: %v %+v", err, first)
	}
	callsAfterFirst := ft.callCount("item-a")

	second, err := c.RunLoop(context.Background(), seed, itiSpec)
	if err != nil || second.Status != models.ItemCompleted {
		t.Fatalf("second run: %v %+v", err, second)
	}
	if ft.callCount("item-a") != callsAfterFirst {
		t.Errorf("resume issued %d extra transformer calls", ft.callCount("item-a")-callsAfterFirst)
	}
	if len(second.Artifacts) != 3 {
		t.Errorf("resumed artifacts = %d, want 3", len(second.Artifacts))
	}
}

func TestRunLoopResumeAfterMidLoopFailure(t *testing.T) {
	ft := newFakeTransformer()
	for i := 1; i <= 3; i++ {
		ft.failures[fmt.Sprintf("item-a/%d", i)] = retrypolicy.Transient(errors.New("timeout"))
	}
	c, _ := testController(t, ft)
	seed := imageSeed("item-a")

	first, err := c.RunLoop(context.Background(), seed, itiSpec)
	if err != nil || first.Status != models.ItemFailed {
		t.Fatalf("first run: %v %+v", err, first)
	}

	// The transient fault cleared; the retry re-attempts only iteration 1.
	second, err := c.RunLoop(context.Background(), seed, itiSpec)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Status != models.ItemCompleted {
		t.Fatalf("second run status = %q: %s", second.Status, second.Error)
	}
}

func TestRunAllIsolatesItemFailures(t *testing.T) {
	ft := newFakeTransformer()
	ft.failures["item-a/2"] = retrypolicy.Permanent(errors.New("invalid input"))
	c, _ := testController(t, ft)

	seeds := []storage.Seed{imageSeed("item-a"), imageSeed("item-b")}
	results, err := c.RunAll(context.Background(), seeds, itiSpec, 2)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if results[0].Status != models.ItemFailed {
		t.Errorf("item-a status = %q, want failed", results[0].Status)
	}
	if results[1].Status != models.ItemCompleted {
		t.Errorf("item-b status = %q, want completed", results[1].Status)
	}
}

func TestRunAllStopsOnCancellation(t *testing.T) {
	ft := newFakeTransformer()
	c, _ := testController(t, ft)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.RunAll(ctx, []storage.Seed{imageSeed("item-a")}, itiSpec, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if ft.callCount("item-a") != 0 {
		t.Errorf("transformer called %d times after cancellation", ft.callCount("item-a"))
	}
}
