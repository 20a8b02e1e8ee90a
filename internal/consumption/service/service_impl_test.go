package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	balancedomain "github.com/smallbiznis/aitime/internal/balance/domain"
	"github.com/smallbiznis/aitime/internal/billing"
	"github.com/smallbiznis/aitime/internal/config"
	consumptiondomain "github.com/smallbiznis/aitime/internal/consumption/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const testDailyCap = int64(1800)

func setupConsumptionService(t *testing.T) (consumptiondomain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, db.AutoMigrate(
		&balancedomain.UserBalance{},
		&consumptiondomain.ConsumptionRecord{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		GenID: node,
		Cfg:   config.Config{DailyGiftCapSeconds: testDailyCap},
	})
	return svc, db
}

func seedBalance(t *testing.T, db *gorm.DB, userID string, welcome, dailyRemaining, paid, subscription int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.Create(&balancedomain.UserBalance{
		UserID:               userID,
		WelcomeBonusSeconds:  welcome,
		DailyGiftUsedSeconds: testDailyCap - dailyRemaining,
		PaidSeconds:          paid,
		SubscriptionSeconds:  subscription,
		CreatedAt:            now,
		UpdatedAt:            now,
	}).Error)
}

func loadBalanceRow(t *testing.T, db *gorm.DB, userID string) balancedomain.UserBalance {
	t.Helper()
	var row balancedomain.UserBalance
	require.NoError(t, db.Where("user_id = ?", userID).First(&row).Error)
	return row
}

func baseRequest(userID string) consumptiondomain.RecordConsumptionRequest {
	return consumptiondomain.RecordConsumptionRequest{
		UserID:          userID,
		BuildID:         "build-1",
		OperationType:   consumptiondomain.OpMainBuild,
		OperationID:     "op-1",
		DurationSeconds: 95,
		Success:         true,
	}
}

func TestRecordConsumptionDebitsTiersInPriorityOrder(t *testing.T) {
	svc, db := setupConsumptionService(t)
	ctx := context.Background()
	seedBalance(t, db, "user-1", 80, 50, 1000, 0)

	record, err := svc.RecordConsumption(ctx, baseRequest("user-1"))
	require.NoError(t, err)

	assert.Equal(t, int64(95), record.DurationSeconds)
	assert.Equal(t, int64(100), record.BillableSeconds)
	assert.Equal(t, int64(80), record.WelcomeUsed)
	assert.Equal(t, int64(20), record.DailyUsed)
	assert.Equal(t, int64(0), record.PaidUsed)
	assert.Equal(t, record.BillableSeconds, record.WelcomeUsed+record.DailyUsed+record.PaidUsed)
	assert.Equal(t, consumptiondomain.StatusSettled, record.Status)

	before := record.BalanceBefore()
	assert.Equal(t, int64(80), before.WelcomeBonusSeconds)
	assert.Equal(t, int64(50), before.DailyGiftSeconds)
	after := record.BalanceAfter()
	assert.Equal(t, int64(0), after.WelcomeBonusSeconds)
	assert.Equal(t, int64(30), after.DailyGiftSeconds)
	assert.Equal(t, int64(1000), after.PaidSeconds)

	row := loadBalanceRow(t, db, "user-1")
	assert.Equal(t, int64(0), row.WelcomeBonusSeconds)
	assert.Equal(t, testDailyCap-30, row.DailyGiftUsedSeconds)
	assert.Equal(t, int64(1000), row.PaidSeconds)
}

func TestRecordConsumptionSpendsSubscriptionAfterPaid(t *testing.T) {
	svc, db := setupConsumptionService(t)
	ctx := context.Background()
	seedBalance(t, db, "user-1", 0, 0, 30, 100)

	req := baseRequest("user-1")
	req.DurationSeconds = 50

	record, err := svc.RecordConsumption(ctx, req)
	require.NoError(t, err)

	// Paid and subscription collapse into one reported tier but drain in
	// paid-first order.
	assert.Equal(t, int64(50), record.PaidUsed)
	row := loadBalanceRow(t, db, "user-1")
	assert.Equal(t, int64(0), row.PaidSeconds)
	assert.Equal(t, int64(80), row.SubscriptionSeconds)
}

func TestRecordConsumptionIdempotentRetry(t *testing.T) {
	svc, db := setupConsumptionService(t)
	ctx := context.Background()
	seedBalance(t, db, "user-1", 3600, 1800, 0, 0)

	req := baseRequest("user-1")

	first, err := svc.RecordConsumption(ctx, req)
	require.NoError(t, err)

	second, err := svc.RecordConsumption(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.BillableSeconds, second.BillableSeconds)
	assert.Equal(t, first.WelcomeUsed, second.WelcomeUsed)

	var count int64
	require.NoError(t, db.Model(&consumptiondomain.ConsumptionRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// The retry must not debit again.
	row := loadBalanceRow(t, db, "user-1")
	assert.Equal(t, int64(3500), row.WelcomeBonusSeconds)
}

func TestRecordConsumptionInsufficientBalanceLeavesNoTrace(t *testing.T) {
	svc, db := setupConsumptionService(t)
	ctx := context.Background()
	seedBalance(t, db, "user-1", 30, 20, 0, 0)

	_, err := svc.RecordConsumption(ctx, baseRequest("user-1"))

	ie, ok := billing.IsInsufficientAITime(err)
	require.True(t, ok, "err=%v", err)
	assert.Equal(t, int64(100), ie.RequiredSeconds)
	assert.Equal(t, int64(50), ie.AvailableSeconds)
	assert.Equal(t, int64(30), ie.Balance.WelcomeBonusSeconds)

	// Rollback removed the claimed ledger row and left the balance alone.
	var count int64
	require.NoError(t, db.Model(&consumptiondomain.ConsumptionRecord{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	row := loadBalanceRow(t, db, "user-1")
	assert.Equal(t, int64(30), row.WelcomeBonusSeconds)
	assert.Equal(t, testDailyCap-20, row.DailyGiftUsedSeconds)

	// A retry after topping up starts clean under the same key.
	require.NoError(t, db.Model(&balancedomain.UserBalance{}).
		Where("user_id = ?", "user-1").
		Update("paid_seconds", 600).Error)
	record, err := svc.RecordConsumption(ctx, baseRequest("user-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(50), record.PaidUsed)
}

func TestRecordConsumptionSequentialOverdraw(t *testing.T) {
	svc, db := setupConsumptionService(t)
	ctx := context.Background()
	seedBalance(t, db, "user-1", 100, 0, 0, 0)

	first := baseRequest("user-1")
	first.OperationID = "op-a"
	_, err := svc.RecordConsumption(ctx, first)
	require.NoError(t, err)

	second := baseRequest("user-1")
	second.OperationID = "op-b"
	_, err = svc.RecordConsumption(ctx, second)
	_, ok := billing.IsInsufficientAITime(err)
	assert.True(t, ok, "err=%v", err)

	row := loadBalanceRow(t, db, "user-1")
	assert.Equal(t, int64(0), row.WelcomeBonusSeconds)
}

func TestRecordConsumptionStalePendingRow(t *testing.T) {
	svc, db := setupConsumptionService(t)
	ctx := context.Background()
	seedBalance(t, db, "user-1", 3600, 1800, 0, 0)

	req := baseRequest("user-1")
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, db.Create(&consumptiondomain.ConsumptionRecord{
		ID:             node.Generate(),
		UserID:         "user-1",
		IdempotencyKey: req.IdempotencyKey(),
		BuildID:        req.BuildID,
		OperationType:  req.OperationType,
		OperationID:    req.OperationID,
		Status:         consumptiondomain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}).Error)

	_, err = svc.RecordConsumption(ctx, req)
	assert.True(t, billing.IsCode(err, billing.CodeIdempotencyError), "err=%v", err)
}

func TestRecordConsumptionMissingBalanceRow(t *testing.T) {
	svc, _ := setupConsumptionService(t)

	_, err := svc.RecordConsumption(context.Background(), baseRequest("ghost"))
	assert.True(t, billing.IsCode(err, billing.CodeUserBalanceNotFound), "err=%v", err)
}

func TestRecordConsumptionValidation(t *testing.T) {
	svc, _ := setupConsumptionService(t)
	ctx := context.Background()

	req := baseRequest("")
	_, err := svc.RecordConsumption(ctx, req)
	assert.ErrorIs(t, err, consumptiondomain.ErrInvalidUser)

	req = baseRequest("user-1")
	req.BuildID = ""
	_, err = svc.RecordConsumption(ctx, req)
	assert.ErrorIs(t, err, consumptiondomain.ErrInvalidBuildID)

	req = baseRequest("user-1")
	req.OperationType = "deploy"
	_, err = svc.RecordConsumption(ctx, req)
	assert.True(t, billing.IsCode(err, billing.CodeInvalidOperationType))

	req = baseRequest("user-1")
	req.OperationID = ""
	_, err = svc.RecordConsumption(ctx, req)
	assert.ErrorIs(t, err, consumptiondomain.ErrInvalidOperationID)

	req = baseRequest("user-1")
	req.DurationSeconds = -1
	_, err = svc.RecordConsumption(ctx, req)
	assert.ErrorIs(t, err, consumptiondomain.ErrInvalidDuration)
}

func TestRecordConsumptionFailedOperationStillBilled(t *testing.T) {
	svc, db := setupConsumptionService(t)
	ctx := context.Background()
	seedBalance(t, db, "user-1", 3600, 1800, 0, 0)

	req := baseRequest("user-1")
	req.Success = false
	req.ErrorType = "build_failed"

	record, err := svc.RecordConsumption(ctx, req)
	require.NoError(t, err)
	assert.False(t, record.Success)
	assert.Equal(t, "build_failed", record.ErrorType)
	assert.Equal(t, int64(100), record.BillableSeconds)

	row := loadBalanceRow(t, db, "user-1")
	assert.Equal(t, int64(3500), row.WelcomeBonusSeconds)
}

func TestAllocateTiers(t *testing.T) {
	cases := []struct {
		name      string
		billable  int64
		available billing.TierBreakdown
		want      tierAllocation
	}{
		{
			name:      "welcome covers all",
			billable:  50,
			available: billing.TierBreakdown{WelcomeBonusSeconds: 100},
			want:      tierAllocation{Welcome: 50},
		},
		{
			name:     "spills across welcome and daily",
			billable: 100,
			available: billing.TierBreakdown{
				WelcomeBonusSeconds: 80,
				DailyGiftSeconds:    50,
				PaidSeconds:         1000,
			},
			want: tierAllocation{Welcome: 80, Daily: 20},
		},
		{
			name:     "drains all four tiers",
			billable: 100,
			available: billing.TierBreakdown{
				WelcomeBonusSeconds: 10,
				DailyGiftSeconds:    20,
				PaidSeconds:         30,
				SubscriptionSeconds: 40,
			},
			want: tierAllocation{Welcome: 10, Daily: 20, Paid: 30, Subscription: 40},
		},
		{
			name:     "shortfall reported as remaining",
			billable: 200,
			available: billing.TierBreakdown{
				WelcomeBonusSeconds: 50,
				DailyGiftSeconds:    50,
			},
			want: tierAllocation{Welcome: 50, Daily: 50, Remaining: 100},
		},
		{
			name:      "zero billable touches nothing",
			billable:  0,
			available: billing.TierBreakdown{WelcomeBonusSeconds: 100},
			want:      tierAllocation{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, allocateTiers(tc.billable, tc.available))
		})
	}
}
