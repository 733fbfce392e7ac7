package session

import (
	"errors"
	"time"
)

// Status tracks where a session is in its lifecycle. A session starts
// PENDING and moves exactly once to VERIFIED or FAILED; both are terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusVerified Status = "VERIFIED"
	StatusFailed   Status = "FAILED"
)

var (
	// ErrNotFound is returned when a session id is unknown to the registry.
	ErrNotFound = errors.New("session not found")

	// ErrDuplicateAttachment is returned when an artifact reference is
	// already set for the session; references are write-once.
	ErrDuplicateAttachment = errors.New("artifact already attached to session")

	// ErrInvalidTransition is returned when a status change is not
	// PENDING to VERIFIED or PENDING to FAILED.
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// Session is the unit of work spanning one document+video submission
// through to a verification verdict. Instances handed out by the registry
// are copies; all mutation goes through registry methods.
type Session struct {
	ID           string    `json:"id"`
	DocumentType string    `json:"documentType"`
	DocumentRef  string    `json:"documentRef,omitempty"`
	VideoRef     string    `json:"videoRef,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	Status       Status    `json:"status"`
}

// Complete reports whether both artifact references are present.
func (s *Session) Complete() bool {
	return s.DocumentRef != "" && s.VideoRef != ""
}
