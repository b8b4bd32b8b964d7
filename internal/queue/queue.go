package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newbihanigroup-creator/khaacho-sub005/config"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/store"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/util"
)

// Queue names. Handlers are registered per name and each name gets its own
// worker pool.
const (
	QueueNotifyVendor   = "notify.vendor"
	QueueNotifyRetailer = "notify.retailer"
	QueueNotifyAdmin    = "notify.admin"
	QueueReminder       = "reminder.vendor"
	QueueScoreRecalc    = "score.recalc"
)

// Handler processes one job payload. Returning an error triggers the retry
// schedule; the context carries the per-job execution deadline.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Options tune a single enqueue.
type Options struct {
	// DedupKey collapses duplicate enqueues while an identical job is still
	// QUEUED or RUNNING. Finished jobs never block a new one.
	DedupKey string
	// Delay postpones the first run.
	Delay time.Duration
	// MaxAttempts overrides the queue-wide default when > 0.
	MaxAttempts int
}

// Queue is the durable task queue: jobs are rows, workers claim them with
// SKIP LOCKED, and failures follow an exponential backoff schedule before
// landing in the dead-letter table.
type Queue struct {
	store  *store.Store
	cfg    config.QueueConfig
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewQueue creates the queue
func NewQueue(st *store.Store, cfg config.QueueConfig) *Queue {
	return &Queue{
		store:    st,
		cfg:      cfg,
		logger:   util.NamedLogger("queue"),
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a queue name. Must be called before Start.
func (q *Queue) Register(queueName string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[queueName] = h
}

func (q *Queue) handler(queueName string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[queueName]
	return h, ok
}

func (q *Queue) queueNames() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	names := make([]string, 0, len(q.handlers))
	for name := range q.handlers {
		names = append(names, name)
	}
	return names
}

// Enqueue persists a job and returns its id. With a dedup hit the id of the
// already-pending job comes back instead of a new one.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload interface{}, opts *Options) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := &models.Job{
		ID:          uuid.New().String(),
		QueueName:   queueName,
		Payload:     body,
		MaxAttempts: q.cfg.MaxAttempts,
		NextRunAt:   time.Now().UTC(),
	}
	if opts != nil {
		if opts.DedupKey != "" {
			key := opts.DedupKey
			job.DedupKey = &key
		}
		if opts.Delay > 0 {
			job.NextRunAt = job.NextRunAt.Add(opts.Delay)
		}
		if opts.MaxAttempts > 0 {
			job.MaxAttempts = opts.MaxAttempts
		}
	}

	id, err := q.store.InsertJob(ctx, job)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s job: %w", queueName, err)
	}
	if id != job.ID {
		q.logger.Debug("Enqueue deduplicated",
			zap.String("queue", queueName),
			zap.String("existing_job_id", id))
		return id, nil
	}

	util.JobsEnqueuedTotal.WithLabelValues(queueName).Inc()
	q.logger.Info("Job enqueued",
		zap.String("queue", queueName),
		zap.String("job_id", id),
		zap.Time("next_run_at", job.NextRunAt))
	return id, nil
}

// Backoff returns the delay before re-running a job that has failed
// `attempt` times: base doubled per attempt, capped.
func Backoff(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
