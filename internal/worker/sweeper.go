package worker

import (
	"context"
	"time"

	"sambatan-service/internal/redisclient"
	"sambatan-service/internal/service"
	"sambatan-service/internal/util"

	"go.uber.org/zap"
)

// DeadlineSweeper is the single clock of the system. On each tick it expires
// due pools and fires due order timers. A Redis lease keeps one instance
// sweeping at a time; every deadline is an at-least-once edge absorbed by
// idempotent downstream handling, so a lease handover mid-tick is harmless.
type DeadlineSweeper struct {
	pools    *service.PoolService
	orders   *service.OrderService
	redis    *redisclient.Client
	logger   *zap.Logger
	interval time.Duration
	leaseTTL time.Duration
	held     bool
}

// NewDeadlineSweeper creates a new deadline sweeper
func NewDeadlineSweeper(
	pools *service.PoolService,
	orders *service.OrderService,
	redis *redisclient.Client,
	interval, leaseTTL time.Duration,
) *DeadlineSweeper {
	return &DeadlineSweeper{
		pools:    pools,
		orders:   orders,
		redis:    redis,
		logger:   util.GetLogger(),
		interval: interval,
		leaseTTL: leaseTTL,
	}
}

// Start ticks until the context is cancelled.
func (s *DeadlineSweeper) Start(ctx context.Context) {
	s.logger.Info("Deadline sweeper starting", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Deadline sweeper stopping")
			if s.held {
				// Hand the lease to a peer instead of waiting out the TTL.
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := s.redis.ReleaseSweepLease(releaseCtx); err != nil {
					s.logger.Warn("Failed to release sweep lease", zap.Error(err))
				}
				cancel()
			}
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *DeadlineSweeper) sweep(ctx context.Context) {
	acquired, err := s.redis.AcquireSweepLease(ctx, s.leaseTTL)
	if err != nil {
		s.logger.Warn("Sweep lease check failed, sweeping anyway", zap.Error(err))
	} else if !acquired {
		return
	} else {
		s.held = true
	}

	start := time.Now()
	now := time.Now()

	expired := s.pools.ExpireDue(ctx, now)
	recovered := s.pools.ReconcileFinalizations(ctx, now)
	swept := s.orders.SweepDeadlines(ctx, now)

	util.SweepDuration.Observe(time.Since(start).Seconds())
	if expired > 0 || recovered > 0 || swept > 0 {
		s.logger.Info("Sweep completed",
			zap.Int("pools_expired", expired),
			zap.Int("finalizations_recovered", recovered),
			zap.Int("order_timers_fired", swept),
			zap.Duration("took", time.Since(start)))
	}
}
