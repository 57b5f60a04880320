package models

import "time"

// PairKind tags the kind of comparison a pair represents
type PairKind string

const (
	PairCrossModal PairKind = "cross-modal"
	PairIntraText  PairKind = "intra-modal-text"
	PairIntraImage PairKind = "intra-modal-image"
)

// Anchor names which reference artifact an intra-modal pair compares against
type Anchor string

const (
	AnchorSeed     Anchor = "seed"
	AnchorPrevious Anchor = "previous"
	AnchorStep     Anchor = "step" // cross-modal pairs compare within one step
)

// ComparisonPair is one required comparison, derived deterministically from
// a completed artifact sequence. Left is always the earlier iteration index.
type ComparisonPair struct {
	ItemID     string   `json:"item_id"`
	Kind       PairKind `json:"kind"`
	Anchor     Anchor   `json:"anchor"`
	LeftIndex  int      `json:"left_index"`
	RightIndex int      `json:"right_index"`
	LeftRef    string   `json:"left_ref"`
	RightRef   string   `json:"right_ref"`
}

// ScoreDimensions is the fixed five-dimension rubric, in canonical order
var ScoreDimensions = []string{
	"content_correspondence",
	"compositional_alignment",
	"fidelity_completeness",
	"stylistic_congruence",
	"semantic_intent",
}

// Score bounds for every rubric dimension
const (
	ScoreMin = 1.0
	ScoreMax = 10.0
)

// Score is one rubric dimension's value and justification
type Score struct {
	Value         float64 `json:"value"`
	Justification string  `json:"justification"`
}

// RatingRecord is the persisted result of evaluating one comparison pair.
// Immutable once written; one record per pair per item. Unscored records
// are sentinels written after evaluator retries are exhausted.
type RatingRecord struct {
	ItemID     string           `json:"item_id"`
	Pair       ComparisonPair   `json:"pair"`
	Scores     map[string]Score `json:"scores,omitempty"`
	Unscored   bool             `json:"unscored,omitempty"`
	Error      string           `json:"error,omitempty"`
	ComputedAt time.Time        `json:"computed_at"`
}
