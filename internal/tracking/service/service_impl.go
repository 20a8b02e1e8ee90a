package service

import (
	"context"
	"math"
	"strings"

	"github.com/google/uuid"
	balancedomain "github.com/smallbiznis/aitime/internal/balance/domain"
	"github.com/smallbiznis/aitime/internal/billing"
	"github.com/smallbiznis/aitime/internal/clock"
	consumptiondomain "github.com/smallbiznis/aitime/internal/consumption/domain"
	estimatordomain "github.com/smallbiznis/aitime/internal/estimator/domain"
	trackingdomain "github.com/smallbiznis/aitime/internal/tracking/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log            *zap.Logger
	Clock          clock.Clock
	BalanceSvc     balancedomain.Service
	EstimatorSvc   estimatordomain.Service
	ConsumptionSvc consumptiondomain.Service
}

type Service struct {
	log            *zap.Logger
	clock          clock.Clock
	balanceSvc     balancedomain.Service
	estimatorSvc   estimatordomain.Service
	consumptionSvc consumptiondomain.Service
}

func NewService(p Params) trackingdomain.Service {
	return &Service{
		log:            p.Log.Named("tracking.service"),
		clock:          p.Clock,
		balanceSvc:     p.BalanceSvc,
		estimatorSvc:   p.EstimatorSvc,
		consumptionSvc: p.ConsumptionSvc,
	}
}

func (s *Service) StartTracking(ctx context.Context, userID, buildID string, opType consumptiondomain.OperationType, opCtx estimatordomain.OperationContext, existingOperationID string) (*trackingdomain.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, trackingdomain.ErrInvalidUser
	}
	buildID = strings.TrimSpace(buildID)
	if buildID == "" {
		return nil, trackingdomain.ErrInvalidBuildID
	}
	if !opType.Valid() {
		return nil, billing.NewError(billing.CodeInvalidOperationType,
			"unknown operation type "+string(opType), nil)
	}

	estimate, err := s.estimatorSvc.EstimateDuration(ctx, opType, opCtx)
	if err != nil {
		return nil, err
	}

	bal, err := s.balanceSvc.GetUserBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bal.TotalSeconds < estimate.EstimatedSeconds {
		return nil, &billing.InsufficientAITimeError{
			RequiredSeconds:  estimate.EstimatedSeconds,
			AvailableSeconds: bal.TotalSeconds,
			Balance:          bal.TierBreakdown,
			EstimatedSeconds: estimate.EstimatedSeconds,
		}
	}

	operationID := strings.TrimSpace(existingOperationID)
	if operationID == "" {
		operationID = uuid.NewString()
	}

	session := &trackingdomain.Session{
		TrackingID: trackingdomain.TrackingID{
			BuildID:       buildID,
			OperationType: opType,
			OperationID:   operationID,
		},
		StartedAt:        s.clock.Now(),
		EstimatedSeconds: estimate.EstimatedSeconds,
		Confidence:       estimate.Confidence,
		BasedOnSamples:   estimate.BasedOnSamples,
	}

	s.log.Debug("tracking started",
		zap.String("user_id", userID),
		zap.String("tracking_id", session.TrackingID.String()),
		zap.Int64("estimated_seconds", estimate.EstimatedSeconds),
		zap.String("confidence", string(estimate.Confidence)),
	)
	return session, nil
}

func (s *Service) EndTracking(ctx context.Context, userID, trackingID string, end trackingdomain.EndContext) (*consumptiondomain.ConsumptionRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, trackingdomain.ErrInvalidUser
	}
	tid, err := trackingdomain.ParseTrackingID(trackingID)
	if err != nil {
		return nil, err
	}
	if end.StartedAt.IsZero() {
		return nil, trackingdomain.ErrInvalidStartedAt
	}

	elapsed := s.clock.Now().Sub(end.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	durationSeconds := int64(math.Ceil(elapsed.Seconds()))

	return s.consumptionSvc.RecordConsumption(ctx, consumptiondomain.RecordConsumptionRequest{
		UserID:          strings.TrimSpace(userID),
		BuildID:         tid.BuildID,
		OperationType:   tid.OperationType,
		OperationID:     tid.OperationID,
		DurationSeconds: durationSeconds,
		Success:         end.Success,
		ErrorType:       end.ErrorType,
		Metadata:        end.Metadata,
	})
}
