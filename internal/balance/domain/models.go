// Package domain contains the persistence model and contract for per-user
// AI-time balances.
package domain

import (
	"time"

	"github.com/smallbiznis/aitime/internal/billing"
)

// UserBalance is the stored per-user row. The daily gift is derived from
// the cap minus DailyGiftUsedSeconds, never stored directly. Every counter
// is clamped to >= 0 on every write.
type UserBalance struct {
	UserID               string    `gorm:"primaryKey;type:text"`
	WelcomeBonusSeconds  int64     `gorm:"not null;default:0"`
	DailyGiftUsedSeconds int64     `gorm:"not null;default:0"`
	PaidSeconds          int64     `gorm:"not null;default:0"`
	SubscriptionSeconds  int64     `gorm:"not null;default:0"`
	CreatedAt            time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UserBalance) TableName() string { return "user_balances" }

// Balance is the read model returned to callers.
type Balance struct {
	UserID string `json:"user_id"`
	billing.TierBreakdown
	TotalSeconds int64 `json:"total_seconds"`
}

// PurchaseSource distinguishes one-time packages from subscription grants.
type PurchaseSource string

const (
	SourcePackage      PurchaseSource = "package"
	SourceSubscription PurchaseSource = "subscription"
)
