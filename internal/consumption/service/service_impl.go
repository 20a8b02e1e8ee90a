package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aitime/internal/billing"
	"github.com/smallbiznis/aitime/internal/config"
	consumptiondomain "github.com/smallbiznis/aitime/internal/consumption/domain"
	obsmetrics "github.com/smallbiznis/aitime/internal/observability/metrics"
	"github.com/smallbiznis/aitime/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	dailyCapSeconds int64
	obsMetrics      *obsmetrics.Metrics
}

func NewService(p Params) consumptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("consumption.service"),
		genID: p.GenID,

		dailyCapSeconds: p.Cfg.DailyGiftCapSeconds,
		obsMetrics:      p.ObsMetrics,
	}
}

// RecordConsumption implements the insert-first idempotency protocol:
//
//  1. claim a ledger slot under the idempotency key (ON CONFLICT DO
//     NOTHING); a rejected insert means a retry, which returns the settled
//     row unchanged,
//  2. lock the user's balance row for the rest of the transaction,
//  3. allocate billable seconds across the tiers in priority order,
//  4. abort (rolling back the claim too) when the tiers cannot cover the
//     charge,
//  5. debit the balance and finalize the claimed row in place.
//
// Everything happens inside one transaction, so any failure between claim
// and commit leaves zero persisted state.
func (s *Service) RecordConsumption(ctx context.Context, req consumptiondomain.RecordConsumptionRequest) (*consumptiondomain.ConsumptionRecord, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &consumptiondomain.ConsumptionRecord{
		ID:             s.genID.Generate(),
		UserID:         strings.TrimSpace(req.UserID),
		IdempotencyKey: req.IdempotencyKey(),
		BuildID:        req.BuildID,
		OperationType:  req.OperationType,
		OperationID:    req.OperationID,

		DurationSeconds: req.DurationSeconds,
		BillableSeconds: billing.BillableSeconds(req.DurationSeconds),

		Success:   req.Success,
		ErrorType: strings.TrimSpace(req.ErrorType),
		Status:    consumptiondomain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Metadata != nil {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}

	var (
		out          *consumptiondomain.ConsumptionRecord
		deduplicated bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.claimLedgerSlot(ctx, tx, record)
		if err != nil {
			return s.wrapDB(err)
		}

		if !claimed {
			existing, err := s.findByIdempotencyKey(ctx, tx, record.IdempotencyKey)
			if err != nil {
				return s.wrapDB(err)
			}
			if existing == nil {
				return billing.NewError(billing.CodeIdempotencyError,
					"ledger slot conflicted but no row found for key "+record.IdempotencyKey, nil)
			}
			if existing.Status != consumptiondomain.StatusSettled {
				// A pending row outside its transaction is an internal
				// consistency fault; surface it, never resolve it silently.
				return billing.NewError(billing.CodeIdempotencyError,
					"claimed ledger row never settled for key "+record.IdempotencyKey, nil)
			}
			out = existing
			deduplicated = true
			return nil
		}

		row, err := s.lockBalanceRow(ctx, tx, record.UserID)
		if err != nil {
			return err
		}
		if row == nil {
			return billing.NewError(billing.CodeUserBalanceNotFound,
				"no balance row for user "+record.UserID, nil)
		}

		before := billing.TierBreakdown{
			WelcomeBonusSeconds: clampNonNegative(row.WelcomeBonusSeconds),
			DailyGiftSeconds:    clampNonNegative(s.dailyCapSeconds - row.DailyGiftUsedSeconds),
			PaidSeconds:         clampNonNegative(row.PaidSeconds),
			SubscriptionSeconds: clampNonNegative(row.SubscriptionSeconds),
		}

		alloc := allocateTiers(record.BillableSeconds, before)
		if alloc.Remaining > 0 {
			// Returning an error rolls back both the claim and the lock;
			// an aborted attempt leaves no trace and a retry with the
			// same key starts clean.
			return &billing.InsufficientAITimeError{
				RequiredSeconds:  record.BillableSeconds,
				AvailableSeconds: before.Total(),
				Balance:          before,
			}
		}

		after := billing.TierBreakdown{
			WelcomeBonusSeconds: clampNonNegative(before.WelcomeBonusSeconds - alloc.Welcome),
			DailyGiftSeconds:    clampNonNegative(before.DailyGiftSeconds - alloc.Daily),
			PaidSeconds:         clampNonNegative(before.PaidSeconds - alloc.Paid),
			SubscriptionSeconds: clampNonNegative(before.SubscriptionSeconds - alloc.Subscription),
		}

		if err := s.debitBalance(ctx, tx, row, alloc, after); err != nil {
			return s.wrapDB(err)
		}

		record.WelcomeUsed = alloc.Welcome
		record.DailyUsed = alloc.Daily
		record.PaidUsed = alloc.Paid + alloc.Subscription
		record.WelcomeBefore = before.WelcomeBonusSeconds
		record.DailyBefore = before.DailyGiftSeconds
		record.PaidBefore = before.PaidSeconds
		record.SubscriptionBefore = before.SubscriptionSeconds
		record.WelcomeAfter = after.WelcomeBonusSeconds
		record.DailyAfter = after.DailyGiftSeconds
		record.PaidAfter = after.PaidSeconds
		record.SubscriptionAfter = after.SubscriptionSeconds
		record.Status = consumptiondomain.StatusSettled
		record.UpdatedAt = time.Now().UTC()

		if err := s.finalizeRecord(ctx, tx, record); err != nil {
			return s.wrapDB(err)
		}

		out = record
		return nil
	})
	if err != nil {
		if _, ok := billing.IsInsufficientAITime(err); ok && s.obsMetrics != nil {
			s.obsMetrics.RecordInsufficientBalance(ctx, string(req.OperationType))
		}
		return nil, err
	}

	if s.obsMetrics != nil {
		if deduplicated {
			s.obsMetrics.RecordDeduplicated(ctx, string(out.OperationType))
		} else {
			s.obsMetrics.RecordConsumption(ctx, string(out.OperationType), out.BillableSeconds)
		}
	}
	if !deduplicated {
		s.log.Info("consumption settled",
			zap.String("user_id", out.UserID),
			zap.String("operation_type", string(out.OperationType)),
			zap.Int64("billable_seconds", out.BillableSeconds),
			zap.Bool("success", out.Success),
		)
	}

	return out, nil
}

func validateRequest(req consumptiondomain.RecordConsumptionRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return consumptiondomain.ErrInvalidUser
	}
	if strings.TrimSpace(req.BuildID) == "" {
		return consumptiondomain.ErrInvalidBuildID
	}
	if !req.OperationType.Valid() {
		return billing.NewError(billing.CodeInvalidOperationType,
			"unknown operation type "+string(req.OperationType), nil)
	}
	if strings.TrimSpace(req.OperationID) == "" {
		return consumptiondomain.ErrInvalidOperationID
	}
	if req.DurationSeconds < 0 {
		return consumptiondomain.ErrInvalidDuration
	}
	return nil
}

// claimLedgerSlot attempts the insert-first claim. A false return means
// the key already exists and the caller is a duplicate.
func (s *Service) claimLedgerSlot(ctx context.Context, tx *gorm.DB, record *consumptiondomain.ConsumptionRecord) (bool, error) {
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		// Some dialects report the conflict instead of swallowing it.
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) findByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*consumptiondomain.ConsumptionRecord, error) {
	var record consumptiondomain.ConsumptionRecord
	err := tx.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

type balanceRow struct {
	UserID               string
	WelcomeBonusSeconds  int64
	DailyGiftUsedSeconds int64
	PaidSeconds          int64
	SubscriptionSeconds  int64
}

// lockBalanceRow takes the exclusive row lock that serializes all
// concurrent debits for one user. The lock is held until commit or
// rollback; other users' rows are unaffected. SQLite serializes writers
// itself and rejects FOR UPDATE, so the clause is skipped there.
func (s *Service) lockBalanceRow(ctx context.Context, tx *gorm.DB, userID string) (*balanceRow, error) {
	query := `SELECT user_id, welcome_bonus_seconds, daily_gift_used_seconds, paid_seconds, subscription_seconds
		 FROM user_balances
		 WHERE user_id = ?`
	if !strings.EqualFold(tx.Dialector.Name(), "sqlite") {
		query += " FOR UPDATE"
	}

	var row balanceRow
	if err := tx.WithContext(ctx).Raw(query, userID).Scan(&row).Error; err != nil {
		return nil, s.wrapDB(err)
	}
	if row.UserID == "" {
		return nil, nil
	}
	return &row, nil
}

func (s *Service) debitBalance(ctx context.Context, tx *gorm.DB, row *balanceRow, alloc tierAllocation, after billing.TierBreakdown) error {
	newDailyUsed := clampNonNegative(row.DailyGiftUsedSeconds + alloc.Daily)
	return tx.WithContext(ctx).Exec(
		`UPDATE user_balances
		 SET welcome_bonus_seconds = ?,
		     daily_gift_used_seconds = ?,
		     paid_seconds = ?,
		     subscription_seconds = ?,
		     updated_at = ?
		 WHERE user_id = ?`,
		after.WelcomeBonusSeconds,
		newDailyUsed,
		after.PaidSeconds,
		after.SubscriptionSeconds,
		time.Now().UTC(),
		row.UserID,
	).Error
}

func (s *Service) finalizeRecord(ctx context.Context, tx *gorm.DB, record *consumptiondomain.ConsumptionRecord) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE ai_consumption
		 SET welcome_used = ?,
		     daily_used = ?,
		     paid_used = ?,
		     welcome_before = ?,
		     daily_before = ?,
		     paid_before = ?,
		     subscription_before = ?,
		     welcome_after = ?,
		     daily_after = ?,
		     paid_after = ?,
		     subscription_after = ?,
		     status = ?,
		     updated_at = ?
		 WHERE id = ?`,
		record.WelcomeUsed,
		record.DailyUsed,
		record.PaidUsed,
		record.WelcomeBefore,
		record.DailyBefore,
		record.PaidBefore,
		record.SubscriptionBefore,
		record.WelcomeAfter,
		record.DailyAfter,
		record.PaidAfter,
		record.SubscriptionAfter,
		string(consumptiondomain.StatusSettled),
		record.UpdatedAt,
		record.ID,
	).Error
}

// tierAllocation is the per-tier split of one billable charge, in strict
// priority order: welcome bonus, daily gift, paid, then subscription.
type tierAllocation struct {
	Welcome      int64
	Daily        int64
	Paid         int64
	Subscription int64
	Remaining    int64
}

func allocateTiers(billable int64, available billing.TierBreakdown) tierAllocation {
	remaining := billable
	alloc := tierAllocation{}

	alloc.Welcome = minInt64(remaining, available.WelcomeBonusSeconds)
	remaining -= alloc.Welcome

	alloc.Daily = minInt64(remaining, available.DailyGiftSeconds)
	remaining -= alloc.Daily

	alloc.Paid = minInt64(remaining, available.PaidSeconds)
	remaining -= alloc.Paid

	alloc.Subscription = minInt64(remaining, available.SubscriptionSeconds)
	remaining -= alloc.Subscription

	alloc.Remaining = remaining
	return alloc
}

func (s *Service) wrapDB(err error) error {
	var be *billing.Error
	if errors.As(err, &be) {
		return err
	}
	return billing.NewError(billing.CodeDBNotAvailable, "consumption ledger unavailable", err)
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
