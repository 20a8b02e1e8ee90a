package service

import (
	"context"
	"math"
	"time"

	"github.com/smallbiznis/aitime/internal/billing"
	"github.com/smallbiznis/aitime/internal/config"
	consumptiondomain "github.com/smallbiznis/aitime/internal/consumption/domain"
	estimatordomain "github.com/smallbiznis/aitime/internal/estimator/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	historyWindow           = 30 * 24 * time.Hour
	percentile              = 0.95
	highSampleFloor         = 10
	mediumSampleFloor       = 3
	updateMultiplier        = 0.7
	largeMultiplier         = 1.3
	smallMultiplier         = 0.8
	fallbackEstimateSeconds = 120
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Estimates *config.EstimatesHolder
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	estimates *config.EstimatesHolder
}

func NewService(p Params) estimatordomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("estimator.service"),
		estimates: p.Estimates,
	}
}

// EstimateDuration predicts the likely cost of an operation from the 95th
// percentile of settled, successful charges over the trailing 30 days,
// falling back to the static per-type default. Estimates are advisory:
// the reads are unlocked and may observe stale aggregates.
func (s *Service) EstimateDuration(ctx context.Context, opType consumptiondomain.OperationType, opCtx estimatordomain.OperationContext) (estimatordomain.Estimate, error) {
	if !opType.Valid() {
		return estimatordomain.Estimate{}, billing.NewError(billing.CodeInvalidOperationType,
			"unknown operation type "+string(opType), nil)
	}

	samples, base := s.historicalBase(ctx, opType)
	if samples == 0 {
		base = float64(s.staticDefault(opType))
	}

	if opCtx.IsUpdate {
		base *= updateMultiplier
	}
	switch opCtx.ProjectSize {
	case estimatordomain.ProjectSizeLarge:
		base *= largeMultiplier
	case estimatordomain.ProjectSizeSmall:
		base *= smallMultiplier
	}

	estimated := billing.BillableSeconds(int64(math.Ceil(base)))
	if estimated < billing.BillingIncrementSeconds {
		estimated = billing.BillingIncrementSeconds
	}

	return estimatordomain.Estimate{
		OperationType:    opType,
		EstimatedSeconds: estimated,
		Confidence:       confidenceFor(samples),
		BasedOnSamples:   samples,
	}, nil
}

// historicalBase returns the sample count and p95 of billable seconds for
// the operation type. Estimation is advisory, so data-access failures fall
// back to the static default instead of blocking the caller.
func (s *Service) historicalBase(ctx context.Context, opType consumptiondomain.OperationType) (int64, float64) {
	since := time.Now().UTC().Add(-historyWindow)

	var samples int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM ai_consumption
		 WHERE operation_type = ?
		   AND status = ?
		   AND success = ?
		   AND created_at >= ?`,
		string(opType),
		string(consumptiondomain.StatusSettled),
		true,
		since,
	).Scan(&samples).Error
	if err != nil {
		s.log.Warn("estimate history lookup failed", zap.Error(err))
		return 0, 0
	}
	if samples == 0 {
		return 0, 0
	}

	// Percentile index computed here so the same SQL runs on every dialect.
	offset := int64(math.Ceil(percentile*float64(samples))) - 1
	if offset < 0 {
		offset = 0
	}

	var p95 int64
	err = s.db.WithContext(ctx).Raw(
		`SELECT billable_seconds
		 FROM ai_consumption
		 WHERE operation_type = ?
		   AND status = ?
		   AND success = ?
		   AND created_at >= ?
		 ORDER BY billable_seconds ASC
		 LIMIT 1 OFFSET ?`,
		string(opType),
		string(consumptiondomain.StatusSettled),
		true,
		since,
		offset,
	).Scan(&p95).Error
	if err != nil {
		s.log.Warn("estimate percentile lookup failed", zap.Error(err))
		return 0, 0
	}

	return samples, float64(p95)
}

func (s *Service) staticDefault(opType consumptiondomain.OperationType) int64 {
	if s.estimates != nil {
		if seconds, ok := s.estimates.Get().Defaults[string(opType)]; ok && seconds > 0 {
			return seconds
		}
	}
	if seconds, ok := config.DefaultEstimatesConfig().Defaults[string(opType)]; ok {
		return seconds
	}
	return fallbackEstimateSeconds
}

func confidenceFor(samples int64) estimatordomain.Confidence {
	switch {
	case samples >= highSampleFloor:
		return estimatordomain.ConfidenceHigh
	case samples >= mediumSampleFloor:
		return estimatordomain.ConfidenceMedium
	default:
		return estimatordomain.ConfidenceLow
	}
}
