package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/video-kyc/internal/logging"
)

// VerificationRecord is the persisted audit row for one completed
// verification attempt. One row per session; verification is one-shot.
type VerificationRecord struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	SessionID      string    `gorm:"column:session_id;uniqueIndex;size:64" json:"sessionId"`
	Verified       bool      `gorm:"column:verified" json:"verified"`
	MatchScore     float64   `gorm:"column:match_score" json:"matchScore"`
	Confidence     string    `gorm:"column:confidence;size:16" json:"confidenceBand"`
	LivenessPassed bool      `gorm:"column:liveness_passed" json:"livenessPassed"`
	Message        string    `gorm:"column:message;type:text" json:"message"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"createdAt"`
}

// TableName overrides the default table name.
func (VerificationRecord) TableName() string {
	return "verification_records"
}

// MetricsAggregation holds raw aggregates computed by the database.
type MetricsAggregation struct {
	TotalCount    int64
	VerifiedCount int64
	AverageScore  float64
}

// VerificationRepository provides persistence APIs for verification records.
type VerificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{
		db:             db,
		logger:         logger.Named("verification_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationRecord{})
}

// SaveRecord persists a verification record.
func (r *VerificationRepository) SaveRecord(ctx context.Context, record *VerificationRecord) error {
	return r.executeWithRetry(ctx, "repository.save_record", record.SessionID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// FindBySessionID retrieves the verification record for a session.
func (r *VerificationRepository) FindBySessionID(ctx context.Context, sessionID string) (*VerificationRecord, error) {
	var record VerificationRecord
	err := r.executeWithRetry(ctx, "repository.find_record", sessionID, func() error {
		return r.db.WithContext(ctx).First(&record, "session_id = ?", sessionID).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// AggregateMetrics computes verification totals across all records.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationRecord{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN verified THEN 1 ELSE 0 END), 0) AS verified_count, " +
				"COALESCE(AVG(match_score), 0) AS average_score").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, sessionID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
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
