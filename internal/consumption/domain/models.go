// Package domain contains the append-once ledger model for AI-time
// consumption.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aitime/internal/billing"
	"gorm.io/datatypes"
)

// OperationType is the fixed set of chargeable AI operations.
type OperationType string

const (
	OpMainBuild          OperationType = "main_build"
	OpMetadataGeneration OperationType = "metadata_generation"
	OpUpdate             OperationType = "update"
	OpPlanConsultation   OperationType = "plan_consultation"
	OpPlanQuestion       OperationType = "plan_question"
	OpPlanFeature        OperationType = "plan_feature"
	OpPlanFix            OperationType = "plan_fix"
	OpPlanAnalysis       OperationType = "plan_analysis"
	OpWebsiteMigration   OperationType = "website_migration"
)

var operationTypes = map[OperationType]struct{}{
	OpMainBuild:          {},
	OpMetadataGeneration: {},
	OpUpdate:             {},
	OpPlanConsultation:   {},
	OpPlanQuestion:       {},
	OpPlanFeature:        {},
	OpPlanFix:            {},
	OpPlanAnalysis:       {},
	OpWebsiteMigration:   {},
}

// Valid reports whether t belongs to the enumerated operation set.
func (t OperationType) Valid() bool {
	_, ok := operationTypes[t]
	return ok
}

// RecordStatus marks the ledger-row lifecycle: pending while the claim
// placeholder is held inside the transaction, settled once finalized.
// Pending rows must never escape a transaction.
type RecordStatus string

const (
	StatusPending RecordStatus = "pending"
	StatusSettled RecordStatus = "settled"
)

// ConsumptionRecord is one ledger row per operation. Rows are inserted once
// under a unique idempotency key and updated in place exactly once; for
// every settled row WelcomeUsed + DailyUsed + PaidUsed == BillableSeconds.
type ConsumptionRecord struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	UserID         string        `gorm:"type:text;not null;index"`
	IdempotencyKey string        `gorm:"type:text;not null;uniqueIndex:ux_ai_consumption_idempotency_key"`
	BuildID        string        `gorm:"type:text;not null"`
	OperationType  OperationType `gorm:"type:text;not null;index:ix_ai_consumption_type_created_at,priority:1"`
	OperationID    string        `gorm:"type:text;not null"`

	DurationSeconds int64 `gorm:"not null;default:0"`
	BillableSeconds int64 `gorm:"not null;default:0"`

	WelcomeUsed int64 `gorm:"not null;default:0"`
	DailyUsed   int64 `gorm:"not null;default:0"`
	PaidUsed    int64 `gorm:"not null;default:0"`

	WelcomeBefore      int64 `gorm:"not null;default:0"`
	DailyBefore        int64 `gorm:"not null;default:0"`
	PaidBefore         int64 `gorm:"not null;default:0"`
	SubscriptionBefore int64 `gorm:"not null;default:0"`
	WelcomeAfter       int64 `gorm:"not null;default:0"`
	DailyAfter         int64 `gorm:"not null;default:0"`
	PaidAfter          int64 `gorm:"not null;default:0"`
	SubscriptionAfter  int64 `gorm:"not null;default:0"`

	Success   bool         `gorm:"not null;default:false"`
	ErrorType string       `gorm:"type:text"`
	Status    RecordStatus `gorm:"type:text;not null;default:'pending'"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index:ix_ai_consumption_type_created_at,priority:2"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ConsumptionRecord) TableName() string { return "ai_consumption" }

// BalanceBefore reconstructs the pre-debit tier snapshot.
func (r *ConsumptionRecord) BalanceBefore() billing.TierBreakdown {
	return billing.TierBreakdown{
		WelcomeBonusSeconds: r.WelcomeBefore,
		DailyGiftSeconds:    r.DailyBefore,
		PaidSeconds:         r.PaidBefore,
		SubscriptionSeconds: r.SubscriptionBefore,
	}
}

// BalanceAfter reconstructs the post-debit tier snapshot.
func (r *ConsumptionRecord) BalanceAfter() billing.TierBreakdown {
	return billing.TierBreakdown{
		WelcomeBonusSeconds: r.WelcomeAfter,
		DailyGiftSeconds:    r.DailyAfter,
		PaidSeconds:         r.PaidAfter,
		SubscriptionSeconds: r.SubscriptionAfter,
	}
}
