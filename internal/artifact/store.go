package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind classifies the artifact being stored.
type Kind string

const (
	KindDocument Kind = "document"
	KindVideo    Kind = "video"
)

// Extensions accepted per kind. Anything outside these sets is rejected
// before it can reach a filesystem path.
var allowedExtensions = map[Kind]map[string]bool{
	KindDocument: {"jpg": true, "jpeg": true, "png": true, "webp": true},
	KindVideo:    {"webm": true, "mp4": true, "mov": true},
}

// StorageError indicates a local write fault (disk full, permissions, I/O).
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("artifact write failed at %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ValidationError indicates caller-supplied input that can never be stored.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Store persists artifact bytes and hands back stable references. Ref
// derives the reference without writing, so callers can claim it in the
// session registry before any bytes land on disk.
type Store interface {
	Ref(sessionID string, kind Kind, ext string) (string, error)
	Store(sessionID string, kind Kind, data []byte, ext string) (string, error)
}

// FSStore writes artifacts under a root directory, one subdirectory per
// kind. Paths are derived only from the session id and kind; once a
// reference has been claimed for a session, no other upload can be written
// to it.
type FSStore struct {
	root string
}

// NewFSStore creates the root and per-kind directories up front so that
// write failures later can only mean genuine I/O faults.
func NewFSStore(root string) (*FSStore, error) {
	for _, kind := range []Kind{KindDocument, KindVideo} {
		dir := filepath.Join(root, string(kind)+"s")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Path: dir, Err: err}
		}
	}
	return &FSStore{root: root}, nil
}

// Ref validates the kind and extension and returns the deterministic path
// the artifact will live at, without writing anything.
func (s *FSStore) Ref(sessionID string, kind Kind, ext string) (string, error) {
	allowed, ok := allowedExtensions[kind]
	if !ok {
		return "", &ValidationError{Reason: fmt.Sprintf("unknown artifact kind %q", kind)}
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if !allowed[ext] {
		return "", &ValidationError{Reason: fmt.Sprintf("extension %q not allowed for %s", ext, kind)}
	}

	name := fmt.Sprintf("%s_%s.%s", sessionID, kind, ext)
	return filepath.Join(s.root, string(kind)+"s", name), nil
}

// Store writes the artifact and returns its path.
func (s *FSStore) Store(sessionID string, kind Kind, data []byte, ext string) (string, error) {
	if len(data) == 0 {
		return "", &ValidationError{Reason: "artifact is empty"}
	}
	path, err := s.Ref(sessionID, kind, ext)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &StorageError{Path: path, Err: err}
	}
	return path, nil
}
