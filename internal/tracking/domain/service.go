// Package domain contains the tracking-session contract: the caller-held
// handle spanning the start and end of one chargeable AI operation.
package domain

import (
	"context"
	"errors"
	"time"

	consumptiondomain "github.com/smallbiznis/aitime/internal/consumption/domain"
	estimatordomain "github.com/smallbiznis/aitime/internal/estimator/domain"
)

// Session is the ephemeral token returned by StartTracking. It is never
// persisted; only the ledger row it eventually produces is.
type Session struct {
	TrackingID       TrackingID                 `json:"tracking_id"`
	StartedAt        time.Time                  `json:"started_at"`
	EstimatedSeconds int64                      `json:"estimated_seconds"`
	Confidence       estimatordomain.Confidence `json:"confidence"`
	BasedOnSamples   int64                      `json:"based_on_samples"`
}

// EndContext settles a session. StartedAt comes back from the caller so a
// crashed caller can retry with the original start time and the same
// operation id, resolving to the identical ledger outcome.
type EndContext struct {
	StartedAt time.Time
	Success   bool
	ErrorType string
	Metadata  map[string]any
}

type Service interface {
	// StartTracking estimates and authorizes an operation. A retrying
	// caller must pass its previous operation id as existingOperationID;
	// that reuse is what makes the eventual ledger write idempotent.
	StartTracking(ctx context.Context, userID, buildID string, opType consumptiondomain.OperationType, opCtx estimatordomain.OperationContext, existingOperationID string) (*Session, error)

	// EndTracking measures elapsed time and settles the charge through
	// the consumption ledger, exactly once per operation id.
	EndTracking(ctx context.Context, userID, trackingID string, end EndContext) (*consumptiondomain.ConsumptionRecord, error)
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidBuildID   = errors.New("invalid_build_id")
	ErrInvalidStartedAt = errors.New("invalid_started_at")
)
