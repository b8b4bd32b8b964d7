package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/gateway"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/util"
)

const (
	pollInterval    = 1 * time.Second
	finalizeTimeout = 10 * time.Second
)

// Pool runs the registered queues. Each queue name gets its own set of
// worker goroutines; concurrency comes from the queue config with optional
// per-queue overrides.
type Pool struct {
	queue    *Queue
	notifier gateway.AdminNotifier
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewPool creates a worker pool for the queue
func NewPool(q *Queue, notifier gateway.AdminNotifier) *Pool {
	return &Pool{
		queue:    q,
		notifier: notifier,
		logger:   util.NamedLogger("queue-worker"),
	}
}

// Start launches the workers. They stop when ctx is cancelled; Wait blocks
// until in-flight jobs finish.
func (p *Pool) Start(ctx context.Context) {
	for _, name := range p.queue.queueNames() {
		concurrency := p.queue.cfg.DefaultConcurrency
		if n, ok := p.queue.cfg.ConcurrencyOverrides[name]; ok {
			concurrency = n
		}
		p.logger.Info("Starting queue workers",
			zap.String("queue", name),
			zap.Int("concurrency", concurrency))
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.runWorker(ctx, name)
		}
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, queueName string) {
	defer p.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Drain everything due before sleeping again.
		for {
			job, err := p.queue.store.ClaimDueJob(ctx, queueName, time.Now().UTC())
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("Failed to claim job", zap.String("queue", queueName), zap.Error(err))
				}
				break
			}
			if job == nil {
				break
			}
			p.process(ctx, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, job *models.Job) {
	// State writes get a detached context: during shutdown the worker ctx is
	// already cancelled when the in-flight handler returns, and finalizing
	// with it would leave the row RUNNING forever.
	writeCtx, cancelWrite := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancelWrite()

	handler, ok := p.queue.handler(job.QueueName)
	if !ok {
		// Registered queues always have handlers; this covers jobs left over
		// from a queue that no longer exists.
		p.finalize(writeCtx, job, fmt.Errorf("no handler registered for queue %s", job.QueueName))
		return
	}

	start := time.Now()
	err := p.execute(ctx, handler, job)
	util.JobDuration.WithLabelValues(job.QueueName).Observe(time.Since(start).Seconds())

	if err == nil {
		if markErr := p.queue.store.MarkJobSucceeded(writeCtx, job.ID); markErr != nil {
			p.logger.Error("Failed to mark job succeeded",
				zap.String("job_id", job.ID), zap.Error(markErr))
			return
		}
		util.JobsSucceededTotal.WithLabelValues(job.QueueName).Inc()
		p.logger.Info("Job succeeded",
			zap.String("queue", job.QueueName),
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempt))
		return
	}

	p.finalize(writeCtx, job, err)
}

// execute runs the handler under the per-job deadline, converting a panic
// into a failed attempt so one bad payload cannot kill the worker.
func (p *Pool) execute(ctx context.Context, handler Handler, job *models.Job) (err error) {
	jobCtx, cancel := context.WithTimeout(ctx, time.Duration(p.queue.cfg.JobTimeoutSeconds)*time.Second)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(jobCtx, job.Payload)
}

// finalize routes a failed attempt: reschedule with backoff while attempts
// remain, otherwise dead-letter and escalate.
func (p *Pool) finalize(ctx context.Context, job *models.Job, handlerErr error) {
	if job.Attempt < job.MaxAttempts {
		delay := Backoff(
			time.Duration(p.queue.cfg.BackoffBaseSeconds)*time.Second,
			time.Duration(p.queue.cfg.BackoffCapSeconds)*time.Second,
			job.Attempt)
		nextRun := time.Now().UTC().Add(delay)
		if err := p.queue.store.RescheduleJob(ctx, job, handlerErr.Error(), nextRun); err != nil {
			p.logger.Error("Failed to reschedule job",
				zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		util.JobsRetriedTotal.WithLabelValues(job.QueueName).Inc()
		p.logger.Warn("Job failed, rescheduled",
			zap.String("queue", job.QueueName),
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempt),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Duration("backoff", delay),
			zap.Error(handlerErr))
		return
	}

	entry, err := p.queue.store.MoveJobToDeadLetter(ctx, job, handlerErr.Error())
	if err != nil {
		p.logger.Error("Failed to dead-letter job",
			zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	util.JobsDeadLetteredTotal.WithLabelValues(job.QueueName).Inc()
	p.logger.Error("Job moved to dead letter queue",
		zap.String("queue", job.QueueName),
		zap.String("job_id", job.ID),
		zap.Int64("dead_letter_id", entry.ID),
		zap.Int("attempts", job.Attempt),
		zap.Error(handlerErr))

	if p.notifier != nil {
		notifyErr := p.notifier.Notify(ctx, gateway.SeverityWarn,
			fmt.Sprintf("Job dead-lettered on queue %s", job.QueueName),
			fmt.Sprintf("job=%s attempts=%d last_error=%s", job.ID, job.Attempt, handlerErr.Error()))
		if notifyErr != nil {
			p.logger.Error("Failed to notify admin of dead letter", zap.Error(notifyErr))
		}
	}
}
