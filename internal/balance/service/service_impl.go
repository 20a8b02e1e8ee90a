package service

import (
	"context"
	"errors"
	"strings"
	"time"

	balancedomain "github.com/smallbiznis/aitime/internal/balance/domain"
	"github.com/smallbiznis/aitime/internal/billing"
	"github.com/smallbiznis/aitime/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
	Cfg config.Config
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	welcomeBonusSeconds int64
	dailyCapSeconds     int64
}

func NewService(p Params) balancedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("balance.service"),

		welcomeBonusSeconds: p.Cfg.WelcomeBonusSeconds,
		dailyCapSeconds:     p.Cfg.DailyGiftCapSeconds,
	}
}

// DailyCapSeconds exposes the configured daily gift cap to the ledger,
// which needs it for its own derived daily-gift math.
func (s *Service) DailyCapSeconds() int64 { return s.dailyCapSeconds }

func (s *Service) GetUserBalance(ctx context.Context, userID string) (*balancedomain.Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, balancedomain.ErrInvalidUser
	}

	row, err := s.loadOrInit(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	return s.toBalance(row), nil
}

func (s *Service) CheckSufficientBalance(ctx context.Context, userID string, seconds int64) (bool, error) {
	bal, err := s.GetUserBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return bal.TotalSeconds >= seconds, nil
}

func (s *Service) AddPurchasedMinutes(ctx context.Context, userID string, minutes int64, source balancedomain.PurchaseSource) (*balancedomain.Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, balancedomain.ErrInvalidUser
	}
	if minutes <= 0 {
		return nil, balancedomain.ErrInvalidMinutes
	}

	var column string
	switch source {
	case balancedomain.SourcePackage:
		column = "paid_seconds"
	case balancedomain.SourceSubscription:
		column = "subscription_seconds"
	default:
		return nil, balancedomain.ErrInvalidPurchaseSource
	}

	seconds := minutes * 60
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadOrInit(ctx, tx, userID); err != nil {
			return err
		}
		result := tx.WithContext(ctx).Exec(
			`UPDATE user_balances
			 SET `+column+` = `+column+` + ?, updated_at = ?
			 WHERE user_id = ?`,
			seconds,
			time.Now().UTC(),
			userID,
		)
		if result.Error != nil {
			return s.wrapDB(result.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("purchased minutes added",
		zap.String("user_id", userID),
		zap.Int64("minutes", minutes),
		zap.String("source", string(source)),
	)
	return s.GetUserBalance(ctx, userID)
}

func (s *Service) ResetDailyAllocation(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE user_balances
		 SET daily_gift_used_seconds = 0, updated_at = ?
		 WHERE daily_gift_used_seconds > 0`,
		time.Now().UTC(),
	)
	if result.Error != nil {
		return 0, s.wrapDB(result.Error)
	}
	return result.RowsAffected, nil
}

// loadOrInit fetches the balance row, lazily creating it with the welcome
// bonus on first sight. The conditional insert keeps concurrent first
// requests for the same user race-free.
func (s *Service) loadOrInit(ctx context.Context, tx *gorm.DB, userID string) (*balancedomain.UserBalance, error) {
	var row balancedomain.UserBalance
	err := tx.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, s.wrapDB(err)
	}

	now := time.Now().UTC()
	fresh := balancedomain.UserBalance{
		UserID:              userID,
		WelcomeBonusSeconds: s.welcomeBonusSeconds,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&fresh)
	if result.Error != nil {
		return nil, s.wrapDB(result.Error)
	}
	if result.RowsAffected > 0 {
		s.log.Info("balance initialized",
			zap.String("user_id", userID),
			zap.Int64("welcome_bonus_seconds", s.welcomeBonusSeconds),
		)
		return &fresh, nil
	}

	// Lost the insert race; the winner's row is authoritative.
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		return nil, s.wrapDB(err)
	}
	return &row, nil
}

func (s *Service) toBalance(row *balancedomain.UserBalance) *balancedomain.Balance {
	breakdown := billing.TierBreakdown{
		WelcomeBonusSeconds: clampNonNegative(row.WelcomeBonusSeconds),
		DailyGiftSeconds:    clampNonNegative(s.dailyCapSeconds - row.DailyGiftUsedSeconds),
		PaidSeconds:         clampNonNegative(row.PaidSeconds),
		SubscriptionSeconds: clampNonNegative(row.SubscriptionSeconds),
	}
	return &balancedomain.Balance{
		UserID:        row.UserID,
		TierBreakdown: breakdown,
		TotalSeconds:  breakdown.Total(),
	}
}

// wrapDB surfaces data-access failures explicitly; masking them as a zero
// balance would incorrectly block legitimate usage.
func (s *Service) wrapDB(err error) error {
	return billing.NewError(billing.CodeDBNotAvailable, "balance store unavailable", err)
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
