package facematch

import "context"

// ConfidenceBand is a coarse categorical summary of match certainty,
// distinct from the raw numeric score.
type ConfidenceBand string

const (
	ConfidenceLow    ConfidenceBand = "LOW"
	ConfidenceMedium ConfidenceBand = "MEDIUM"
	ConfidenceHigh   ConfidenceBand = "HIGH"
)

// Outcome is the immutable result of one verification attempt.
type Outcome struct {
	Verified       bool           `json:"verified"`
	MatchScore     float64        `json:"matchScore"`
	Confidence     ConfidenceBand `json:"confidenceBand"`
	LivenessPassed bool           `json:"livenessPassed"`
	Message        string         `json:"message"`
}

// Invoker runs the external face-matching engine against two stored
// artifacts and returns its raw, uninterpreted output.
type Invoker interface {
	Invoke(ctx context.Context, documentRef, videoRef string) (string, error)
}
