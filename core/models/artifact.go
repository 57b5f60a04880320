package models

import "time"

// Modality is the representation class of an artifact
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityText  Modality = "text"
)

// Opposite returns the other modality of a two-modality loop
func (m Modality) Opposite() Modality {
	if m == ModalityImage {
		return ModalityText
	}
	return ModalityImage
}

// Artifact is one generated (or seed) artifact in an item's loop.
// Immutable once written; IterationIndex is 0 for the seed and strictly
// increasing per item.
type Artifact struct {
	ItemID         string    `json:"item_id"`
	IterationIndex int       `json:"iteration_index"`
	Modality       Modality  `json:"modality"`
	// Ref is the payload reference: a file path for images, either a file
	// path or the inline text for text artifacts.
	Ref       string    `json:"ref"`
	Text      string    `json:"text,omitempty"` // inline payload for text artifacts
	CreatedAt time.Time `json:"created_at"`
}

// StepStatus is the terminal status of one loop step
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// IterationRecord is the durable record of one loop step.
// Owned exclusively by the loop controller and written in index order.
type IterationRecord struct {
	ItemID         string     `json:"item_id"`
	IterationIndex int        `json:"iteration_index"`
	InputRef       string     `json:"input_ref"`
	OutputRef      string     `json:"output_ref,omitempty"`
	AttemptCount   int        `json:"attempt_count"`
	Status         StepStatus `json:"status"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    time.Time  `json:"completed_at"`
}

// ItemStatus is the terminal state of one item's loop
type ItemStatus string

const (
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
)

// LoopResult is returned by the loop controller for one item
type LoopResult struct {
	ItemID    string
	Status    ItemStatus
	Artifacts []Artifact // ordered by iteration index, seed first
	Error     string     // terminal error for failed items
}
