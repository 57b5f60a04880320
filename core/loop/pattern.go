package loop

import (
	"fmt"
	"strings"

	"drift-benchmark/core/models"
)

// Step is one transformation step in a compiled loop table
type Step struct {
	Index  int // iteration index of the produced artifact (1-based)
	Source models.Modality
	Target models.Modality
}

// StepTable is the finite state machine compiled from a loop pattern:
// the modality at every iteration index, seed included. Adding a new loop
// shape is a matter of extending the compiled cycle, not the control flow.
type StepTable struct {
	modalities []models.Modality // index 0..N
}

// Compile derives the full modality sequence for a loop spec. The pattern
// names the repeating modality cycle (e.g. "I-T-I" cycles image, text);
// IterationCount is the number of transformation steps, so the table holds
// IterationCount+1 entries.
func Compile(spec models.LoopSpec) (*StepTable, error) {
	symbols := strings.Split(strings.ToUpper(spec.Pattern), "-")
	if len(symbols) < 2 {
		return nil, fmt.Errorf("loop pattern %q must name at least two modalities", spec.Pattern)
	}
	if spec.IterationCount <= 0 {
		return nil, fmt.Errorf("iteration count must be positive, got %d", spec.IterationCount)
	}

	cycle := make([]models.Modality, 0, len(symbols))
	for _, sym := range symbols {
		switch sym {
		case "I":
			cycle = append(cycle, models.ModalityImage)
		case "T":
			cycle = append(cycle, models.ModalityText)
		default:
			return nil, fmt.Errorf("loop pattern %q has unknown modality symbol %q", spec.Pattern, sym)
		}
	}

	// A pattern that returns to its first modality ("I-T-I") describes a
	// closed cycle; its period excludes the repeated terminal symbol.
	period := len(cycle)
	if cycle[0] == cycle[len(cycle)-1] {
		period = len(cycle) - 1
	}

	for i := 1; i < len(cycle); i++ {
		if cycle[i] == cycle[i-1] {
			return nil, fmt.Errorf("loop pattern %q repeats modality in adjacent steps", spec.Pattern)
		}
	}

	modalities := make([]models.Modality, spec.IterationCount+1)
	for i := range modalities {
		modalities[i] = cycle[i%period]
	}

	if spec.SeedModality != "" && spec.SeedModality != modalities[0] {
		return nil, fmt.Errorf("seed modality %q does not match pattern %q", spec.SeedModality, spec.Pattern)
	}

	return &StepTable{modalities: modalities}, nil
}

// Length returns the number of artifacts a completed loop yields (N+1)
func (t *StepTable) Length() int { return len(t.modalities) }

// StepCount returns the number of transformation steps (N)
func (t *StepTable) StepCount() int { return len(t.modalities) - 1 }

// ModalityAt returns the modality of the artifact at iteration index i
func (t *StepTable) ModalityAt(i int) models.Modality { return t.modalities[i] }

// Step returns the transformation step producing iteration index i (i >= 1)
func (t *StepTable) Step(i int) Step {
	return Step{
		Index:  i,
		Source: t.modalities[i-1],
		Target: t.modalities[i],
	}
}
