package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalVerifications int64   `json:"total_verifications"`
	VerifiedCount      int64   `json:"verified_count"`
	VerifiedRate       float64 `json:"verified_rate"`
	AverageMatchScore  float64 `json:"average_match_score"`
}

// GetMetricsSummary aggregates verification metrics from persisted records.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalVerifications: aggregation.TotalCount,
		VerifiedCount:      aggregation.VerifiedCount,
		AverageMatchScore:  aggregation.AverageScore,
	}

	if aggregation.TotalCount > 0 {
		summary.VerifiedRate = float64(aggregation.VerifiedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
