package scheduler

import (
	"context"
	"errors"
	"time"

	balancedomain "github.com/smallbiznis/aitime/internal/balance/domain"
	"github.com/smallbiznis/aitime/internal/clock"
	"github.com/smallbiznis/aitime/internal/lock"
	obsmetrics "github.com/smallbiznis/aitime/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrInvalidConfig indicates a required dependency was not supplied.
var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

const dailyResetLockPrefix = "aitime:daily_reset:"

type Params struct {
	fx.In

	Log        *zap.Logger
	BalanceSvc balancedomain.Service
	Clock      clock.Clock
	Locker     *lock.Locker        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Config     Config              `optional:"true"`
}

// Scheduler renews the daily gift tier: once per UTC day it zeroes every
// account's daily usage counter, restoring the full cap.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	balanceSvc balancedomain.Service
	clock      clock.Clock
	locker     *lock.Locker
	obsMetrics *obsmetrics.Metrics

	lastResetDay time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.BalanceSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		balanceSvc: p.BalanceSvc,
		clock:      p.Clock,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}, nil
}

// RunForever ticks until the context is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started", zap.Duration("interval", s.cfg.RunInterval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce fires the daily reset when a UTC day boundary has passed since
// the last successful run. Exposed for the operator endpoint and tests.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if !s.cfg.ResetEnabled {
		return
	}

	day := s.clock.Now().UTC().Truncate(24 * time.Hour)
	if !day.After(s.lastResetDay) {
		return
	}

	if s.locker != nil {
		key := dailyResetLockPrefix + day.Format("2006-01-02")
		token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("daily reset lock unavailable", zap.Error(err))
			return
		}
		if !ok {
			// Another instance owns today's reset. The UPDATE itself is
			// idempotent, so skipping here is an optimization, not a
			// correctness requirement.
			s.lastResetDay = day
			return
		}
		defer func() {
			_ = s.locker.Release(ctx, key, token)
		}()
	}

	rows, err := s.balanceSvc.ResetDailyAllocation(ctx)
	if err != nil {
		s.log.Error("daily reset failed", zap.Error(err))
		return
	}

	s.lastResetDay = day
	if s.obsMetrics != nil {
		s.obsMetrics.RecordDailyReset(ctx, rows)
	}
	s.log.Info("daily gift reset",
		zap.String("day", day.Format("2006-01-02")),
		zap.Int64("accounts", rows),
	)
}
