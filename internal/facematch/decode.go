package facematch

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// MalformedOutputError indicates verifier output that could not be decoded
// into an Outcome. The decoder never papers over missing or mistyped fields
// with defaults; a verifier that stops emitting matchScore is a broken
// verifier, not a neutral result.
type MalformedOutputError struct {
	Reason string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed verifier output: %s", e.Reason)
}

// verifierRecord mirrors the engine's output contract. Required fields are
// pointers so absence is distinguishable from zero values.
type verifierRecord struct {
	Verified      *bool    `json:"verified"`
	MatchScore    *float64 `json:"matchScore"`
	Confidence    *string  `json:"confidence"`
	LivenessCheck *bool    `json:"livenessCheck"`
	Message       string   `json:"message"`
}

// Decode parses the verifier's raw output into an Outcome.
//
// verified and matchScore are required; confidence is optional per the
// engine's contract and is derived from the score when absent; livenessCheck
// defaults to false when absent, which can only make a verdict stricter.
func Decode(raw string) (*Outcome, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &MalformedOutputError{Reason: "empty output"}
	}

	var record verifierRecord
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&record); err != nil {
		return nil, &MalformedOutputError{Reason: err.Error()}
	}
	// The contract is exactly one record; anything after it means the
	// output stream is not what it claims to be.
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); err != io.EOF {
		return nil, &MalformedOutputError{Reason: "trailing data after record"}
	}

	if record.Verified == nil {
		return nil, &MalformedOutputError{Reason: "missing required field verified"}
	}
	if record.MatchScore == nil {
		return nil, &MalformedOutputError{Reason: "missing required field matchScore"}
	}
	score := *record.MatchScore
	if score < 0 || score > 1 {
		return nil, &MalformedOutputError{Reason: fmt.Sprintf("matchScore %v outside [0,1]", score)}
	}

	confidence, err := resolveConfidence(record.Confidence, score)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		Verified:   *record.Verified,
		MatchScore: score,
		Confidence: confidence,
		Message:    record.Message,
	}
	if record.LivenessCheck != nil {
		outcome.LivenessPassed = *record.LivenessCheck
	}
	if outcome.Message == "" {
		if outcome.Verified {
			outcome.Message = "face verification successful"
		} else {
			outcome.Message = "face match failed"
		}
	}
	return outcome, nil
}

func resolveConfidence(reported *string, score float64) (ConfidenceBand, error) {
	if reported == nil {
		switch {
		case score >= 0.80:
			return ConfidenceHigh, nil
		case score >= 0.50:
			return ConfidenceMedium, nil
		default:
			return ConfidenceLow, nil
		}
	}
	switch ConfidenceBand(strings.ToUpper(*reported)) {
	case ConfidenceLow:
		return ConfidenceLow, nil
	case ConfidenceMedium:
		return ConfidenceMedium, nil
	case ConfidenceHigh:
		return ConfidenceHigh, nil
	default:
		return "", &MalformedOutputError{Reason: fmt.Sprintf("unknown confidence %q", *reported)}
	}
}
