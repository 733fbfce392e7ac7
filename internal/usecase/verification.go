package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/video-kyc/internal/artifact"
	"github.com/example/video-kyc/internal/facematch"
	"github.com/example/video-kyc/internal/logging"
	"github.com/example/video-kyc/internal/repository"
	"github.com/example/video-kyc/internal/session"
)

// ErrIncompleteSession is returned by Verify when the session is missing
// its document or video artifact. Session status is left untouched.
var ErrIncompleteSession = errors.New("session is missing a document or video artifact")

// ValidationError indicates caller input that can never be processed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveRecord(ctx context.Context, record *repository.VerificationRecord) error
	FindBySessionID(ctx context.Context, sessionID string) (*repository.VerificationRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// VerificationUseCase orchestrates the KYC flow: artifact uploads, session
// lifecycle, verifier invocation, outcome decoding, and audit persistence.
// It is the only writer of session status after creation.
type VerificationUseCase struct {
	sessions       *session.Registry
	store          artifact.Store
	invoker        facematch.Invoker
	repo           VerificationRepository
	cache          Cache
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedOutcome struct {
	SessionID      string    `json:"session_id"`
	Verified       bool      `json:"verified"`
	MatchScore     float64   `json:"match_score"`
	Confidence     string    `json:"confidence"`
	LivenessPassed bool      `json:"liveness_passed"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(sessions *session.Registry, store artifact.Store, invoker facematch.Invoker, repo VerificationRepository, cache Cache, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		sessions:       sessions,
		store:          store,
		invoker:        invoker,
		repo:           repo,
		cache:          cache,
		logger:         logger.Named("verification_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// CreateSession stores the identity document and opens a new PENDING
// session referencing it.
func (uc *VerificationUseCase) CreateSession(ctx context.Context, documentType string, document []byte, ext string) (*session.Session, error) {
	if documentType == "" {
		return nil, &ValidationError{Reason: "documentType is required"}
	}
	if len(document) == 0 {
		return nil, &ValidationError{Reason: "no document uploaded"}
	}

	sess := uc.sessions.Create(documentType)
	opLogger := logging.WithOperation(uc.logger, "usecase.create_session", sess.ID)

	// The reference is claimed in the registry before any bytes are
	// written; an upload that loses the write-once claim never touches
	// the artifact path.
	ref, err := uc.store.Ref(sess.ID, artifact.KindDocument, ext)
	if err != nil {
		return nil, uc.translateStoreError(sess.ID, "usecase.store_document", err)
	}
	if err := uc.sessions.AttachDocument(sess.ID, ref); err != nil {
		return nil, logging.NewOperationError("usecase.attach_document", sess.ID, err)
	}
	if _, err := uc.store.Store(sess.ID, artifact.KindDocument, document, ext); err != nil {
		opLogger.Error("failed to store document", zap.Error(err))
		uc.settleStorageFailure(sess.ID)
		return nil, uc.translateStoreError(sess.ID, "usecase.store_document", err)
	}

	opLogger.Info("session created",
		zap.String("document_type", documentType),
		zap.Int("document_bytes", len(document)))
	return uc.sessions.Get(sess.ID)
}

// AttachVideo stores the liveness video for an existing session. The video
// reference is write-once; a second upload fails with DuplicateAttachment.
func (uc *VerificationUseCase) AttachVideo(ctx context.Context, sessionID string, video []byte, ext string) (string, error) {
	if _, err := uc.sessions.Get(sessionID); err != nil {
		return "", logging.NewOperationError("usecase.attach_video", sessionID, err)
	}
	if len(video) == 0 {
		return "", &ValidationError{Reason: "no video uploaded"}
	}

	// Claim the reference before writing: of two concurrent uploads only
	// the one holding the write-once attachment may store bytes, so a
	// rejected duplicate can never replace the winner's content.
	ref, err := uc.store.Ref(sessionID, artifact.KindVideo, ext)
	if err != nil {
		return "", uc.translateStoreError(sessionID, "usecase.store_video", err)
	}
	if err := uc.sessions.AttachVideo(sessionID, ref); err != nil {
		return "", logging.NewOperationError("usecase.attach_video", sessionID, err)
	}
	if _, err := uc.store.Store(sessionID, artifact.KindVideo, video, ext); err != nil {
		logging.WithOperation(uc.logger, "usecase.attach_video", sessionID).Error("failed to store video", zap.Error(err))
		uc.settleStorageFailure(sessionID)
		return "", uc.translateStoreError(sessionID, "usecase.store_video", err)
	}

	logging.WithOperation(uc.logger, "usecase.attach_video", sessionID).Info("video attached",
		zap.Int("video_bytes", len(video)))
	return ref, nil
}

// Verify runs the external face-matching engine for a complete session and
// settles the session status. Verifier faults of any kind land the session
// in FAILED and surface as typed errors; no fallback result is ever
// fabricated.
func (uc *VerificationUseCase) Verify(ctx context.Context, sessionID string) (*facematch.Outcome, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.verify", sessionID)

	sess, err := uc.sessions.Get(sessionID)
	if err != nil {
		return nil, logging.NewOperationError("usecase.verify", sessionID, err)
	}
	if !sess.Complete() {
		return nil, logging.NewOperationError("usecase.verify", sessionID, ErrIncompleteSession)
	}
	if sess.Status != session.StatusPending {
		return nil, logging.NewOperationError("usecase.verify", sessionID, session.ErrInvalidTransition)
	}

	raw, err := uc.invoker.Invoke(ctx, sess.DocumentRef, sess.VideoRef)
	if err != nil {
		opLogger.Error("verifier invocation failed", zap.Error(err))
		return nil, uc.settleFailure(ctx, sessionID, err)
	}

	outcome, err := facematch.Decode(raw)
	if err != nil {
		opLogger.Error("verifier output rejected", zap.Error(err))
		return nil, uc.settleFailure(ctx, sessionID, err)
	}

	status := session.StatusFailed
	if outcome.Verified {
		status = session.StatusVerified
	}
	if err := uc.sessions.SetStatus(sessionID, status); err != nil {
		return nil, logging.NewOperationError("usecase.set_status", sessionID, err)
	}

	record := &repository.VerificationRecord{
		SessionID:      sessionID,
		Verified:       outcome.Verified,
		MatchScore:     outcome.MatchScore,
		Confidence:     string(outcome.Confidence),
		LivenessPassed: outcome.LivenessPassed,
		Message:        outcome.Message,
		CreatedAt:      time.Now().UTC(),
	}
	if err := uc.repo.SaveRecord(ctx, record); err != nil {
		opLogger.Error("failed to persist verification record", zap.Error(err))
		return nil, err
	}

	uc.cacheRecord(ctx, record)

	opLogger.Info("verification settled",
		zap.Bool("verified", outcome.Verified),
		zap.Float64("match_score", outcome.MatchScore),
		zap.String("confidence", string(outcome.Confidence)))
	return outcome, nil
}

// GetSession returns a copy of the session.
func (uc *VerificationUseCase) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := uc.sessions.Get(sessionID)
	if err != nil {
		return nil, logging.NewOperationError("usecase.get_session", sessionID, err)
	}
	return sess, nil
}

// GetOutcome retrieves a cached verification record or loads it from persistence.
func (uc *VerificationUseCase) GetOutcome(ctx context.Context, sessionID string) (*repository.VerificationRecord, error) {
	cacheKey := outcomeCacheKey(sessionID)
	if cached, err := uc.withRedisGet(ctx, sessionID, "cache.get.outcome", cacheKey); err == nil {
		var payload cachedOutcome
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_outcome", sessionID).Warn("failed to decode cached outcome", zap.Error(err))
		} else {
			return &repository.VerificationRecord{
				SessionID:      sessionID,
				Verified:       payload.Verified,
				MatchScore:     payload.MatchScore,
				Confidence:     payload.Confidence,
				LivenessPassed: payload.LivenessPassed,
				Message:        payload.Message,
				CreatedAt:      payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_outcome", sessionID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindBySessionID(ctx, sessionID)
}

// settleStorageFailure fails a session whose claimed artifact reference
// could not be backed by bytes. The reference is write-once, so the session
// cannot be completed by a retry and must not stay PENDING.
func (uc *VerificationUseCase) settleStorageFailure(sessionID string) {
	if err := uc.sessions.SetStatus(sessionID, session.StatusFailed); err != nil {
		logging.WithOperation(uc.logger, "usecase.settle_storage_failure", sessionID).Error("failed to mark session failed", zap.Error(err))
	}
}

// settleFailure moves the session to FAILED, records the failed attempt,
// and returns the original typed error wrapped with a sanitized message.
func (uc *VerificationUseCase) settleFailure(ctx context.Context, sessionID string, cause error) error {
	opLogger := logging.WithOperation(uc.logger, "usecase.settle_failure", sessionID)

	if err := uc.sessions.SetStatus(sessionID, session.StatusFailed); err != nil {
		opLogger.Error("failed to mark session failed", zap.Error(err))
	}

	record := &repository.VerificationRecord{
		SessionID:  sessionID,
		Verified:   false,
		Confidence: string(facematch.ConfidenceLow),
		Message:    failureMessage(cause),
		CreatedAt:  time.Now().UTC(),
	}
	if err := uc.repo.SaveRecord(ctx, record); err != nil {
		opLogger.Error("failed to persist failure record", zap.Error(err))
	}
	uc.cacheRecord(ctx, record)

	return logging.NewOperationError("usecase.verify", sessionID, cause)
}

// cacheRecord is best effort: the verdict is already settled and persisted,
// so a cache fault is logged and retried but never fails the operation.
func (uc *VerificationUseCase) cacheRecord(ctx context.Context, record *repository.VerificationRecord) {
	cached := cachedOutcome{
		SessionID:      record.SessionID,
		Verified:       record.Verified,
		MatchScore:     record.MatchScore,
		Confidence:     record.Confidence,
		LivenessPassed: record.LivenessPassed,
		Message:        record.Message,
		CreatedAt:      record.CreatedAt,
	}
	serialized, err := json.Marshal(cached)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_record", record.SessionID).Warn("failed to serialize outcome", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, record.SessionID, "cache.set.outcome", func() error {
		return uc.cache.Set(ctx, outcomeCacheKey(record.SessionID), string(serialized), 5*time.Minute)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_record", record.SessionID).Warn("failed to cache outcome", zap.Error(err))
	}
}

func (uc *VerificationUseCase) translateStoreError(sessionID, operation string, err error) error {
	var validation *artifact.ValidationError
	if errors.As(err, &validation) {
		return &ValidationError{Reason: validation.Reason}
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func outcomeCacheKey(sessionID string) string {
	return fmt.Sprintf("kyc:outcome:%s", sessionID)
}

// failureMessage maps verifier faults to messages safe for callers: no
// internal paths, no raw verifier output.
func failureMessage(cause error) string {
	var procErr *facematch.ProcessError
	switch {
	case errors.Is(cause, facematch.ErrTimeout):
		return "verification timed out"
	case errors.As(cause, &procErr):
		return "verification engine failed"
	default:
		var malformed *facematch.MalformedOutputError
		if errors.As(cause, &malformed) {
			return "verification engine returned an unreadable result"
		}
		return "verification could not be completed"
	}
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, sessionID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			// A plain miss is a normal read path, not a fault.
			if !errors.Is(err, redis.Nil) {
				opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, sessionID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, sessionID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
