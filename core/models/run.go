package models

import "time"

// Run represents one benchmark run submitted for execution
type Run struct {
	ID             string
	Name           string
	Mode           RunMode
	Status         RunStatus
	Spec           *RunSpec
	SpecYAML       string // Original spec for replay/debug
	ItemsTotal     int
	ItemsCompleted int
	ItemsFailed    int
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// RunMode selects which core stages a run executes
type RunMode string

const (
	ModeFull         RunMode = "full"          // generate + evaluate
	ModeEvaluateOnly RunMode = "evaluate-only" // evaluate a pre-populated store
)

// RunStatus represents the current status of a run
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusGenerating RunStatus = "generating"
	RunStatusEvaluating RunStatus = "evaluating"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// RunSpec is the validated in-memory form of a benchmark spec.
// It is immutable once a run starts; the core never reads ambient state.
type RunSpec struct {
	ExperimentName string
	SeedSource     SeedSourceSpec
	Loop           LoopSpec
	Prompts        PromptSpec
	Retry          RetrySpec
	Evaluation     EvaluationSpec
	Concurrency    int // max items processed in parallel
	OutputRoot     string
}

// SeedSourceSpec locates the initial artifacts for a run
type SeedSourceSpec struct {
	URI string // local directory path or s3://bucket/prefix
}

// LoopSpec describes the recursive transformation loop
type LoopSpec struct {
	Pattern        string // e.g. "I-T-I", "T-I-T"
	IterationCount int
	SeedModality   Modality
}

// PromptSpec holds the per-target-modality prompt templates
type PromptSpec struct {
	ToText  string // prompt used when producing text from an image
	ToImage string // prompt used when producing an image from text
}

// RetrySpec bounds retries of external capability calls
type RetrySpec struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// EvaluationSpec configures the evaluation stage
type EvaluationSpec struct {
	Enabled       bool
	Rubrics       RubricSpec
	PartialPolicy PartialPolicy
}

// RubricSpec selects the rubric prompt per comparison kind
type RubricSpec struct {
	CrossModal string
	IntraText  string
	IntraImage string
}

// PartialPolicy decides how items that failed mid-loop are evaluated
type PartialPolicy string

const (
	PartialSkip           PartialPolicy = "skip"
	PartialScoreCompleted PartialPolicy = "score-completed"
)

// RunEvent represents a state transition event for a run
type RunEvent struct {
	ID         int64
	RunID      string
	At         time.Time
	FromStatus *RunStatus
	ToStatus   RunStatus
	Reason     string
	MetaJSON   map[string]interface{}
}

// ItemResult is the per-item outcome reported in a run summary
type ItemResult struct {
	RunID          string    `json:"run_id,omitempty"`
	ItemID         string    `json:"item_id"`
	LoopStatus     string    `json:"loop_status"`
	IterationsDone int       `json:"iterations_done"`
	PairsScored    int       `json:"pairs_scored"`
	PairsUnscored  int       `json:"pairs_unscored"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RunSummary aggregates per-item results for the reporting layer
type RunSummary struct {
	RunID       string       `json:"run_id"`
	Experiment  string       `json:"experiment"`
	Items       []ItemResult `json:"items"`
	Degraded    bool         `json:"degraded"` // true when any pair is unscored
	GeneratedAt time.Time    `json:"generated_at"`
}
