package spec

import (
	"fmt"
	"strings"
	"time"

	"drift-benchmark/core/models"

	"gopkg.in/yaml.v3"
)

// BenchmarkSpec represents the YAML benchmark specification
type BenchmarkSpec struct {
	Experiment BenchmarkSpecExperiment `yaml:"experiment"`
}

// BenchmarkSpecExperiment represents the experiment section of the spec
type BenchmarkSpecExperiment struct {
	Name        string               `yaml:"name"`
	Seeds       BenchmarkSpecSeeds   `yaml:"seeds"`
	Loop        BenchmarkSpecLoop    `yaml:"loop"`
	Prompts     BenchmarkSpecPrompts `yaml:"prompts"`
	Retry       BenchmarkSpecRetry   `yaml:"retry"`
	Evaluation  BenchmarkSpecEval    `yaml:"evaluation"`
	Concurrency int                  `yaml:"concurrency"`
	OutputRoot  string               `yaml:"output_root,omitempty"`
}

// BenchmarkSpecSeeds locates the seed artifacts
type BenchmarkSpecSeeds struct {
	URI string `yaml:"uri"` // local directory or s3://bucket/prefix
}

// BenchmarkSpecLoop represents the loop section
type BenchmarkSpecLoop struct {
	Pattern    string `yaml:"pattern"` // e.g. "I-T-I"
	Iterations int    `yaml:"iterations"`
}

// BenchmarkSpecPrompts holds the per-target-modality prompt templates
type BenchmarkSpecPrompts struct {
	ToText  string `yaml:"to_text"`
	ToImage string `yaml:"to_image"`
}

// BenchmarkSpecRetry bounds retries of capability calls
type BenchmarkSpecRetry struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"` // Go duration, e.g. "500ms"
	MaxDelay    string `yaml:"max_delay"`
}

// BenchmarkSpecEval represents the evaluation section
type BenchmarkSpecEval struct {
	Enabled       *bool                `yaml:"enabled,omitempty"`
	Rubrics       BenchmarkSpecRubrics `yaml:"rubrics"`
	PartialPolicy string               `yaml:"partial_policy,omitempty"` // skip | score-completed
}

// BenchmarkSpecRubrics selects the rubric prompt per comparison kind
type BenchmarkSpecRubrics struct {
	CrossModal string `yaml:"cross_modal"`
	IntraText  string `yaml:"intra_text"`
	IntraImage string `yaml:"intra_image"`
}

// ParseBenchmarkSpec parses a YAML benchmark specification into a RunSpec
func ParseBenchmarkSpec(specYAML string) (*models.RunSpec, error) {
	var bs BenchmarkSpec
	if err := yaml.Unmarshal([]byte(specYAML), &bs); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	exp := bs.Experiment
	if exp.Name == "" {
		return nil, fmt.Errorf("experiment.name is required")
	}
	if exp.Seeds.URI == "" {
		return nil, fmt.Errorf("experiment.seeds.uri is required")
	}
	if exp.Loop.Iterations <= 0 {
		return nil, fmt.Errorf("experiment.loop.iterations must be positive")
	}

	seedModality, err := parsePattern(exp.Loop.Pattern)
	if err != nil {
		return nil, err
	}

	rs := &models.RunSpec{
		ExperimentName: exp.Name,
		SeedSource:     models.SeedSourceSpec{URI: exp.Seeds.URI},
		Loop: models.LoopSpec{
			Pattern:        strings.ToUpper(exp.Loop.Pattern),
			IterationCount: exp.Loop.Iterations,
			SeedModality:   seedModality,
		},
		Prompts: models.PromptSpec{
			ToText:  exp.Prompts.ToText,
			ToImage: exp.Prompts.ToImage,
		},
		Concurrency: exp.Concurrency,
		OutputRoot:  exp.OutputRoot,
	}

	// Parse retry bounds
	rs.Retry = models.RetrySpec{
		MaxAttempts: exp.Retry.MaxAttempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
	if exp.Retry.BaseDelay != "" {
		d, err := time.ParseDuration(exp.Retry.BaseDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid retry.base_delay: %w", err)
		}
		rs.Retry.BaseDelay = d
	}
	if exp.Retry.MaxDelay != "" {
		d, err := time.ParseDuration(exp.Retry.MaxDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid retry.max_delay: %w", err)
		}
		rs.Retry.MaxDelay = d
	}

	// Parse evaluation section
	rs.Evaluation = models.EvaluationSpec{
		Enabled: true,
		Rubrics: models.RubricSpec{
			CrossModal: exp.Evaluation.Rubrics.CrossModal,
			IntraText:  exp.Evaluation.Rubrics.IntraText,
			IntraImage: exp.Evaluation.Rubrics.IntraImage,
		},
	}
	if exp.Evaluation.Enabled != nil {
		rs.Evaluation.Enabled = *exp.Evaluation.Enabled
	}
	switch exp.Evaluation.PartialPolicy {
	case "", string(models.PartialSkip):
		rs.Evaluation.PartialPolicy = models.PartialSkip
	case string(models.PartialScoreCompleted):
		rs.Evaluation.PartialPolicy = models.PartialScoreCompleted
	default:
		return nil, fmt.Errorf("unknown evaluation.partial_policy: %q", exp.Evaluation.PartialPolicy)
	}

	// Set defaults
	if rs.Retry.MaxAttempts <= 0 {
		rs.Retry.MaxAttempts = 3
	}
	if rs.Concurrency <= 0 {
		rs.Concurrency = 4
	}
	if rs.OutputRoot == "" {
		rs.OutputRoot = "runs"
	}
	if rs.Evaluation.Rubrics.CrossModal == "" {
		rs.Evaluation.Rubrics.CrossModal = "cross-modal-default"
	}
	if rs.Evaluation.Rubrics.IntraText == "" {
		rs.Evaluation.Rubrics.IntraText = "intra-text-default"
	}
	if rs.Evaluation.Rubrics.IntraImage == "" {
		rs.Evaluation.Rubrics.IntraImage = "intra-image-default"
	}

	return rs, nil
}

// parsePattern validates a modality pattern string and returns its seed
// modality. Patterns alternate strictly, e.g. "I-T-I" or "T-I-T".
func parsePattern(pattern string) (models.Modality, error) {
	if pattern == "" {
		return "", fmt.Errorf("experiment.loop.pattern is required")
	}

	symbols := strings.Split(strings.ToUpper(pattern), "-")
	if len(symbols) < 2 {
		return "", fmt.Errorf("loop pattern %q must name at least two modalities", pattern)
	}

	var prev models.Modality
	for i, sym := range symbols {
		var m models.Modality
		switch sym {
		case "I":
			m = models.ModalityImage
		case "T":
			m = models.ModalityText
		default:
			return "", fmt.Errorf("loop pattern %q has unknown modality symbol %q", pattern, sym)
		}
		if i > 0 && m == prev {
			return "", fmt.Errorf("loop pattern %q repeats modality %q in adjacent steps", pattern, sym)
		}
		prev = m
	}

	if symbols[0] == "I" {
		return models.ModalityImage, nil
	}
	return models.ModalityText, nil
}
