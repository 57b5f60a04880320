package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"drift-benchmark/config"
	"drift-benchmark/core/models"
	"drift-benchmark/core/runner"
	"drift-benchmark/core/spec"
	"drift-benchmark/providers/gemini"

	"github.com/google/uuid"
)

// logObserver prints run progress instead of persisting it
type logObserver struct{}

func (logObserver) PhaseChanged(runID string, from, to models.RunStatus, reason string) {
	log.Printf("Run %s: %s -> %s (%s)", runID, from, to, reason)
}

func (logObserver) ItemFinished(result models.ItemResult) {
	log.Printf("Item %s: %s, %d iterations, %d pairs scored, %d unscored",
		result.ItemID, result.LoopStatus, result.IterationsDone, result.PairsScored, result.PairsUnscored)
}

func main() {
	configPath := flag.String("config", "", "path to the benchmark spec YAML")
	mode := flag.String("mode", string(models.ModeFull), "run mode: full or evaluate-only")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("-config is required")
	}

	specYAML, err := os.ReadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to read spec: %v", err)
	}
	parsed, err := spec.ParseBenchmarkSpec(string(specYAML))
	if err != nil {
		log.Fatalf("Invalid benchmark spec: %v", err)
	}

	runMode := models.RunMode(*mode)
	switch runMode {
	case models.ModeFull, models.ModeEvaluateOnly:
	default:
		log.Fatalf("Unknown mode %q", *mode)
	}

	cfg := config.Load()
	if cfg.GeminiAPIKey == "" {
		log.Fatal("GEMINI_API_KEY is required")
	}

	client := gemini.NewClient(cfg.GeminiBaseURL, cfg.GeminiAPIKey)
	evaluator := gemini.NewEvaluator(client)
	r := runner.NewRunner(client, evaluator, logObserver{})

	run := &models.Run{
		ID:       uuid.New().String(),
		Name:     parsed.ExperimentName,
		Mode:     runMode,
		Status:   models.RunStatusPending,
		Spec:     parsed,
		SpecYAML: string(specYAML),
	}

	// First interrupt cancels the run cleanly; a second one kills it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.Execute(ctx, run); err != nil {
		log.Fatalf("Run %s did not complete: %v", run.ID, err)
	}
}
