package session

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Registry is an in-memory session store. Sessions on different shards can
// be mutated concurrently; within one shard writers are serialized, so each
// session sees single-writer semantics.
type Registry struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	r := &Registry{now: time.Now}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id)) //nolint:errcheck
	return r.shards[h.Sum32()%shardCount]
}

// Create allocates a new PENDING session for the given document type and
// returns a copy of it.
func (r *Registry) Create(documentType string) *Session {
	s := &Session{
		ID:           uuid.NewString(),
		DocumentType: documentType,
		CreatedAt:    r.now().UTC(),
		Status:       StatusPending,
	}
	sh := r.shardFor(s.ID)
	sh.mu.Lock()
	sh.sessions[s.ID] = s
	sh.mu.Unlock()

	copied := *s
	return &copied
}

// Get returns a copy of the session, or ErrNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	sh := r.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	s, ok := sh.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s
	return &copied, nil
}

// AttachDocument records the document artifact reference. The reference is
// write-once; a second attachment fails with ErrDuplicateAttachment and
// leaves the original untouched.
func (r *Registry) AttachDocument(id, ref string) error {
	return r.attach(id, ref, func(s *Session) *string { return &s.DocumentRef })
}

// AttachVideo records the video artifact reference with the same
// write-once contract as AttachDocument.
func (r *Registry) AttachVideo(id, ref string) error {
	return r.attach(id, ref, func(s *Session) *string { return &s.VideoRef })
}

func (r *Registry) attach(id, ref string, field func(*Session) *string) error {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sessions[id]
	if !ok {
		return ErrNotFound
	}
	slot := field(s)
	if *slot != "" {
		return ErrDuplicateAttachment
	}
	*slot = ref
	return nil
}

// SetStatus moves a PENDING session to a terminal status. The only legal
// transitions are PENDING to VERIFIED and PENDING to FAILED; anything else
// fails with ErrInvalidTransition.
func (r *Registry) SetStatus(id string, status Status) error {
	if status != StatusVerified && status != StatusFailed {
		return ErrInvalidTransition
	}

	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusPending {
		return ErrInvalidTransition
	}
	s.Status = status
	return nil
}
