package runner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"drift-benchmark/core/models"
	"drift-benchmark/core/retrypolicy"
	"drift-benchmark/storage"
)

type stubTransformer struct {
	mu    sync.Mutex
	calls int
	// failItems maps item ids whose first transformation fails permanently
	failItems map[string]bool
}

func (s *stubTransformer) Transform(_ context.Context, input models.Artifact, _ []byte, target models.Modality, _ string) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	fail := s.failItems[input.ItemID]
	s.mu.Unlock()
	if fail {
		return nil, retrypolicy.Permanent(errors.New("content blocked"))
	}
	return []byte("derived " + string(target)), nil
}

type stubEvaluator struct {
	mu    sync.Mutex
	calls int
}

func (s *stubEvaluator) Evaluate(_ context.Context, _, _ models.Artifact, _, _ []byte, _ string) (map[string]models.Score, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	scores := make(map[string]models.Score, len(models.ScoreDimensions))
	for _, dim := range models.ScoreDimensions {
		scores[dim] = models.Score{Value: 6.0, Justification: "close match"}
	}
	return scores, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	phases []models.RunStatus
	items  []models.ItemResult
}

func (o *recordingObserver) PhaseChanged(_ string, _, to models.RunStatus, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, to)
}

func (o *recordingObserver) ItemFinished(result models.ItemResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, result)
}

func seedDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{0x89, 0x50}, 0o644); err != nil {
			t.Fatalf("write seed: %v", err)
		}
	}
	return dir
}

func testRun(t *testing.T, seedURI string, mode models.RunMode) *models.Run {
	t.Helper()
	return &models.Run{
		ID:   "run-1",
		Name: "drift-smoke",
		Mode: mode,
		Spec: &models.RunSpec{
			ExperimentName: "drift-smoke",
			SeedSource:     models.SeedSourceSpec{URI: seedURI},
			Loop:           models.LoopSpec{Pattern: "I-T-I", IterationCount: 2, SeedModality: models.ModalityImage},
			Prompts:        models.PromptSpec{ToText: "describe", ToImage: "depict"},
			Retry:          models.RetrySpec{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
			Evaluation: models.EvaluationSpec{
				Enabled:       true,
				Rubrics:       models.RubricSpec{CrossModal: "cross-modal-default", IntraText: "intra-text-default", IntraImage: "intra-image-default"},
				PartialPolicy: models.PartialSkip,
			},
			Concurrency: 2,
			OutputRoot:  t.TempDir(),
		},
		SpecYAML: "experiment:\n  name: drift-smoke\n",
	}
}

func TestExecuteFullRun(t *testing.T) {
	seeds := seedDir(t, "cat.png", "dog.png")
	run := testRun(t, seeds, models.ModeFull)
	obs := &recordingObserver{}
	r := NewRunner(&stubTransformer{}, &stubEvaluator{}, obs)

	if err := r.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	wantPhases := []models.RunStatus{
		models.RunStatusGenerating,
		models.RunStatusEvaluating,
		models.RunStatusCompleted,
	}
	if len(obs.phases) != len(wantPhases) {
		t.Fatalf("phases = %v", obs.phases)
	}
	for i, want := range wantPhases {
		if obs.phases[i] != want {
			t.Errorf("phase %d = %q, want %q", i, obs.phases[i], want)
		}
	}
	if len(obs.items) != 2 {
		t.Fatalf("item callbacks = %d, want 2", len(obs.items))
	}
	for _, item := range obs.items {
		if item.LoopStatus != string(models.ItemCompleted) || item.IterationsDone != 2 {
			t.Errorf("item = %+v", item)
		}
		// I-T-I with two iterations yields three comparison pairs per item
		if item.PairsScored != 3 || item.PairsUnscored != 0 {
			t.Errorf("item pairs = %+v", item)
		}
	}

	root := filepath.Join(run.Spec.OutputRoot, "drift-smoke")
	var summary models.RunSummary
	data, err := os.ReadFile(filepath.Join(root, "summary.json"))
	if err != nil {
		t.Fatalf("summary.json: %v", err)
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("summary.json parse: %v", err)
	}
	if summary.Degraded || len(summary.Items) != 2 {
		t.Errorf("summary = %+v", summary)
	}

	for _, name := range []string{"metadata.json", "config_snapshot.yaml"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
}

func TestExecuteSkipsFailedItemsUnderSkipPolicy(t *testing.T) {
	seeds := seedDir(t, "cat.png", "dog.png")
	run := testRun(t, seeds, models.ModeFull)
	ev := &stubEvaluator{}
	r := NewRunner(&stubTransformer{failItems: map[string]bool{"cat": true}}, ev, &recordingObserver{})

	if err := r.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Only dog's three pairs are evaluated; cat failed mid-loop.
	if ev.calls != 3 {
		t.Errorf("evaluator calls = %d, want 3", ev.calls)
	}

	root := filepath.Join(run.Spec.OutputRoot, "drift-smoke")
	data, _ := os.ReadFile(filepath.Join(root, "summary.json"))
	var summary models.RunSummary
	json.Unmarshal(data, &summary)
	if !summary.Degraded {
		t.Error("summary with failed item not degraded")
	}
}

func TestExecuteScoreCompletedPolicyEvaluatesPrefix(t *testing.T) {
	seeds := seedDir(t, "cat.png")
	run := testRun(t, seeds, models.ModeFull)
	run.Spec.Evaluation.PartialPolicy = models.PartialScoreCompleted
	// Fails on the first transformation, leaving only the seed artifact.
	ev := &stubEvaluator{}
	r := NewRunner(&stubTransformer{failItems: map[string]bool{"cat": true}}, ev, &recordingObserver{})

	if err := r.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// A lone seed artifact has no pairs; the policy still routes the item
	// through the engine without error.
	if ev.calls != 0 {
		t.Errorf("evaluator calls = %d, want 0", ev.calls)
	}
}

func TestExecuteEvaluateOnlyMode(t *testing.T) {
	run := testRun(t, "unused", models.ModeEvaluateOnly)

	// Populate the store the way a completed generation pass would.
	root := filepath.Join(run.Spec.OutputRoot, "drift-smoke")
	store, err := storage.NewArtifactStore(root)
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}
	modalities := []models.Modality{models.ModalityImage, models.ModalityText, models.ModalityImage}
	for i, m := range modalities {
		if _, err := store.SaveArtifact("cat", i, m, []byte("payload")); err != nil {
			t.Fatalf("SaveArtifact: %v", err)
		}
	}

	ev := &stubEvaluator{}
	tr := &stubTransformer{}
	obs := &recordingObserver{}
	r := NewRunner(tr, ev, obs)

	if err := r.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tr.calls != 0 {
		t.Errorf("transformer called %d times in evaluate-only mode", tr.calls)
	}
	if ev.calls != 3 {
		t.Errorf("evaluator calls = %d, want 3", ev.calls)
	}
	wantPhases := []models.RunStatus{models.RunStatusEvaluating, models.RunStatusCompleted}
	if len(obs.phases) != 2 || obs.phases[0] != wantPhases[0] || obs.phases[1] != wantPhases[1] {
		t.Errorf("phases = %v", obs.phases)
	}
}

func TestExecuteCancelledRun(t *testing.T) {
	seeds := seedDir(t, "cat.png")
	run := testRun(t, seeds, models.ModeFull)
	obs := &recordingObserver{}
	r := NewRunner(&stubTransformer{}, &stubEvaluator{}, obs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Execute(ctx, run)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	last := obs.phases[len(obs.phases)-1]
	if last != models.RunStatusCancelled {
		t.Errorf("final phase = %q, want cancelled", last)
	}
}
