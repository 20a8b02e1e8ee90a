package domain

import (
	"context"
	"errors"
)

// RecordConsumptionRequest settles one tracked operation against the
// user's balance. BuildID, OperationType and OperationID together form the
// idempotency key; retries must carry the identical triple.
type RecordConsumptionRequest struct {
	UserID          string
	BuildID         string
	OperationType   OperationType
	OperationID     string
	DurationSeconds int64
	Success         bool
	ErrorType       string
	Metadata        map[string]any
}

// IdempotencyKey renders the stable ledger key, buildId::operationType::operationId.
func (r RecordConsumptionRequest) IdempotencyKey() string {
	return r.BuildID + "::" + string(r.OperationType) + "::" + r.OperationID
}

// Service is the transactional consumption ledger: it claims an idempotent
// ledger slot, locks the user's balance row, debits the tiers in priority
// order and finalizes the row, all in one transaction.
type Service interface {
	RecordConsumption(ctx context.Context, req RecordConsumptionRequest) (*ConsumptionRecord, error)
}

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidBuildID     = errors.New("invalid_build_id")
	ErrInvalidOperationID = errors.New("invalid_operation_id")
	ErrInvalidDuration    = errors.New("invalid_duration")
)
