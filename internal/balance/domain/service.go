package domain

import (
	"context"
	"errors"
)

// Service owns user_balances rows. The consumption ledger is the only
// other writer, and it debits inside its own transaction; no component
// outside these two may mutate balance.
type Service interface {
	GetUserBalance(ctx context.Context, userID string) (*Balance, error)
	CheckSufficientBalance(ctx context.Context, userID string, seconds int64) (bool, error)
	AddPurchasedMinutes(ctx context.Context, userID string, minutes int64, source PurchaseSource) (*Balance, error)
	ResetDailyAllocation(ctx context.Context) (int64, error)
}

var (
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidMinutes        = errors.New("invalid_minutes")
	ErrInvalidPurchaseSource = errors.New("invalid_purchase_source")
)
