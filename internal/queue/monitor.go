package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newbihanigroup-creator/khaacho-sub005/config"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/gateway"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/store"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/util"
)

const (
	monitorInterval = 5 * time.Minute
	// stallGrace pads the job lease so a handler finishing right at its
	// deadline still gets to write its own outcome before recovery claims it.
	stallGrace = 1 * time.Minute
)

// Monitor is the queue's recovery loop. It requeues RUNNING jobs whose lease
// expired (a crashed or killed worker never finalized them) and nags an
// admin while dead-letter entries await manual re-drive. Re-drive itself
// stays a human decision through the admin API.
type Monitor struct {
	store    *store.Store
	notifier gateway.AdminNotifier
	cfg      config.QueueConfig
	logger   *zap.Logger
}

// NewMonitor creates the queue recovery monitor
func NewMonitor(st *store.Store, notifier gateway.AdminNotifier, cfg config.QueueConfig) *Monitor {
	return &Monitor{
		store:    st,
		notifier: notifier,
		cfg:      cfg,
		logger:   util.NamedLogger("queue-monitor"),
	}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.recoverStalled(ctx)
			m.checkDeadLetters(ctx)
		}
	}
}

func (m *Monitor) recoverStalled(ctx context.Context) {
	cutoff := stallCutoff(time.Now().UTC(), time.Duration(m.cfg.JobTimeoutSeconds)*time.Second)
	requeued, deadLettered, err := m.store.RecoverStalledJobs(ctx, cutoff)
	if err != nil {
		m.logger.Error("Failed to recover stalled jobs", zap.Error(err))
		return
	}
	if requeued == 0 && deadLettered == 0 {
		return
	}
	util.JobsRecoveredTotal.Add(float64(requeued + deadLettered))
	m.logger.Warn("Recovered stalled jobs",
		zap.Int("requeued", requeued),
		zap.Int("dead_lettered", deadLettered))
}

// stallCutoff is the lease boundary: a RUNNING job last touched before it
// can no longer be executing, since handlers run under jobTimeout.
func stallCutoff(now time.Time, jobTimeout time.Duration) time.Time {
	return now.Add(-(jobTimeout + stallGrace))
}

func (m *Monitor) checkDeadLetters(ctx context.Context) {
	n, err := m.store.CountDeadLetters(ctx)
	if err != nil {
		m.logger.Error("Failed to count dead letters", zap.Error(err))
		return
	}
	if n == 0 {
		return
	}
	m.logger.Warn("Dead letters awaiting re-drive", zap.Int("count", n))
	if err := m.notifier.Notify(ctx, gateway.SeverityWarn,
		"Dead letters awaiting re-drive",
		fmt.Sprintf("%d entries need review", n)); err != nil {
		m.logger.Error("Failed to send dead letter reminder", zap.Error(err))
	}
}
