package assignment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/newbihanigroup-creator/khaacho-sub005/config"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/redisclient"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/store"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/util"
)

const (
	sweepLockKey   = "assignment-sweep"
	sweepBatchSize = 100
)

// Sweeper periodically expires overdue assignments. A redis lock keeps one
// leader per interval across instances; losing the lock just means another
// instance is sweeping.
type Sweeper struct {
	store    *store.Store
	redis    *redisclient.Client
	machine  *Machine
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates the timeout sweeper
func NewSweeper(st *store.Store, redis *redisclient.Client, machine *Machine, cfg config.TimeoutConfig) *Sweeper {
	return &Sweeper{
		store:    st,
		redis:    redis,
		machine:  machine,
		interval: time.Duration(cfg.SweepIntervalSeconds) * time.Second,
		logger:   util.NamedLogger("sweeper"),
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	// The lease outlives the interval so a slow sweep keeps its leadership;
	// the token release frees it early on the common path.
	token, err := s.redis.AcquireLock(ctx, sweepLockKey, 2*s.interval)
	if err != nil {
		s.logger.Error("Failed to acquire sweep lock", zap.Error(err))
		return
	}
	if token == "" {
		return
	}
	defer func() {
		if err := s.redis.ReleaseLock(ctx, sweepLockKey, token); err != nil {
			s.logger.Error("Failed to release sweep lock", zap.Error(err))
		}
	}()

	start := time.Now()
	expired, err := s.store.GetExpiredAssignments(ctx, start, sweepBatchSize)
	if err != nil {
		s.logger.Error("Failed to load expired assignments", zap.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	s.logger.Info("Sweeping expired assignments", zap.Int("count", len(expired)))
	for i := range expired {
		if ctx.Err() != nil {
			return
		}
		// One failure must not strand the rest of the batch.
		if err := s.machine.HandleTimeout(ctx, &expired[i]); err != nil {
			s.logger.Error("Failed to handle timeout",
				zap.Int64("order_id", expired[i].OrderID),
				zap.Int64("assignment_id", expired[i].ID),
				zap.Error(err))
		}
	}
	util.SweepLatency.Observe(time.Since(start).Seconds())
}
