package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"securetext/internal/constants"
	apperrors "securetext/internal/errors"
	"securetext/internal/metrics"
	"securetext/internal/models"
	"securetext/internal/retry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// JobStore is the durable persistence behind the queue.
type JobStore interface {
	EnqueueJob(ctx context.Context, job *models.Job) (int64, error)
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error)
	MarkJobDone(ctx context.Context, id int64) error
	FailJob(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error
	MarkJobDead(ctx context.Context, id int64, errMsg string) error
	RequeueStaleJobs(ctx context.Context, staleBefore time.Time) (int, error)
}

// Handler executes one claimed job. A nil return acknowledges the job; a
// retryable error reschedules it; anything else dead-letters it.
type Handler func(ctx context.Context, job models.Job) error

// Queue is a durable at-least-once task queue: enqueue is fire-and-forget,
// execution happens on a background worker pool, and unacknowledged jobs
// survive process restarts.
type Queue struct {
	store    JobStore
	handlers map[models.TaskKind]Handler
	backoff  *retry.Backoff
	cfg      models.QueueConfig
	logger   *apperrors.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	jobs    chan models.Job
	running bool
	mu      sync.RWMutex
}

// New creates a queue around a job store. Zero config fields fall back to
// package defaults.
func New(store JobStore, cfg models.QueueConfig, retryCfg models.RetryConfig, logger *logrus.Logger) *Queue {
	applyQueueDefaults(&cfg)

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(retryCfg.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(retryCfg.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.MaxAttempts,
		Jitter:       true,
	})

	return &Queue{
		store:    store,
		handlers: make(map[models.TaskKind]Handler),
		backoff:  backoff,
		cfg:      cfg,
		logger:   apperrors.WrapLogger(logger),
	}
}

// Register binds a handler to a task kind. Must be called before Start.
func (q *Queue) Register(kind models.TaskKind, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = handler
}

// EnqueueDelivery persists a delivery task. Fire-and-forget: the caller
// never waits for transport execution.
func (q *Queue) EnqueueDelivery(ctx context.Context, task models.DeliveryTask) error {
	return q.enqueue(ctx, task.Kind, task)
}

// EnqueueDecrypt persists a re-decryption task for a stored push envelope.
func (q *Queue) EnqueueDecrypt(ctx context.Context, task models.DecryptTask) error {
	return q.enqueue(ctx, models.TaskDecryptPush, task)
}

func (q *Queue) enqueue(ctx context.Context, kind models.TaskKind, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to encode task payload")
	}

	job := &models.Job{
		Token:       uuid.NewString(),
		Kind:        kind,
		Payload:     data,
		MaxAttempts: q.cfg.MaxAttempts,
	}

	id, err := q.store.EnqueueJob(ctx, job)
	if err != nil {
		return apperrors.NewEnqueueError(string(kind), err)
	}

	metrics.IncrementCounter("queue_jobs_enqueued", map[string]string{"kind": string(kind)}, "Jobs accepted by the delivery queue")
	q.logger.WithFields(logrus.Fields{
		"job_id": id,
		"kind":   kind,
	}).Debug("Enqueued job")

	return nil
}

// Start launches the claim loop and worker pool. Jobs left running by a
// previous process are requeued first.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return fmt.Errorf("queue is already running")
	}

	q.ctx, q.cancel = context.WithCancel(ctx)
	q.jobs = make(chan models.Job, q.cfg.ClaimBatchSize)
	q.running = true

	q.recoverStale()

	q.wg.Add(1)
	go q.claimLoop()

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.workerLoop()
	}

	q.logger.WithFields(logrus.Fields{
		"workers":          q.cfg.Workers,
		"poll_interval_ms": q.cfg.PollIntervalMs,
	}).Info("Delivery queue started")

	return nil
}

// Stop drains the workers and blocks until they exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	q.cancel()
	q.wg.Wait()
	q.running = false
	q.logger.Info("Delivery queue stopped")
}

// IsRunning returns whether the queue is currently active.
func (q *Queue) IsRunning() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.running
}

func (q *Queue) claimLoop() {
	defer q.wg.Done()
	defer close(q.jobs)

	poll := time.NewTicker(time.Duration(q.cfg.PollIntervalMs) * time.Millisecond)
	defer poll.Stop()

	stale := time.NewTicker(time.Duration(q.cfg.StaleRunningSec) * time.Second)
	defer stale.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-stale.C:
			q.recoverStale()
		case <-poll.C:
			q.claimBatch()
		}
	}
}

func (q *Queue) claimBatch() {
	claimed, err := q.store.ClaimDueJobs(q.ctx, time.Now().UTC(), q.cfg.ClaimBatchSize)
	if err != nil {
		q.logger.WithError(err).Error("Failed to claim due jobs")
		return
	}

	for _, job := range claimed {
		select {
		case <-q.ctx.Done():
			return
		case q.jobs <- job:
		}
	}
}

func (q *Queue) recoverStale() {
	staleBefore := time.Now().UTC().Add(-time.Duration(q.cfg.StaleRunningSec) * time.Second)
	count, err := q.store.RequeueStaleJobs(q.ctx, staleBefore)
	if err != nil {
		q.logger.WithError(err).Error("Failed to requeue stale jobs")
		return
	}
	if count > 0 {
		q.logger.WithField("count", count).Warn("Requeued jobs stuck in running state")
	}
}

func (q *Queue) workerLoop() {
	defer q.wg.Done()

	for job := range q.jobs {
		q.execute(job)
	}
}

func (q *Queue) execute(job models.Job) {
	// handlers is read-only once Start has been called; Stop holds the
	// write lock while waiting for workers, so locking here would deadlock.
	handler, ok := q.handlers[job.Kind]

	fields := logrus.Fields{
		"job_id":  job.ID,
		"kind":    job.Kind,
		"attempt": job.Attempts,
	}

	if !ok {
		q.logger.WithFields(fields).Error("No handler registered for task kind")
		if err := q.store.MarkJobDead(q.ctx, job.ID, "no handler registered"); err != nil {
			q.logger.WithError(err).WithFields(fields).Error("Failed to dead-letter job")
		}
		return
	}

	err := handler(q.ctx, job)
	if err == nil {
		if ackErr := q.store.MarkJobDone(q.ctx, job.ID); ackErr != nil {
			q.logger.WithError(ackErr).WithFields(fields).Error("Failed to acknowledge job")
		}
		metrics.IncrementCounter("queue_jobs_done", map[string]string{"kind": string(job.Kind)}, "Jobs executed successfully")
		return
	}

	if apperrors.IsRetryable(err) && job.Attempts < job.MaxAttempts {
		delay := q.backoff.GetNextDelay(job.Attempts)
		q.logger.LogWarn(err, "Job failed, scheduling retry", fields, logrus.Fields{"retry_in": delay})
		if failErr := q.store.FailJob(q.ctx, job.ID, err.Error(), time.Now().UTC().Add(delay)); failErr != nil {
			q.logger.WithError(failErr).WithFields(fields).Error("Failed to reschedule job")
		}
		metrics.IncrementCounter("queue_jobs_retried", map[string]string{"kind": string(job.Kind)}, "Jobs rescheduled after transient failure")
		return
	}

	q.logger.LogError(err, "Job failed permanently", fields)
	if deadErr := q.store.MarkJobDead(q.ctx, job.ID, err.Error()); deadErr != nil {
		q.logger.WithError(deadErr).WithFields(fields).Error("Failed to dead-letter job")
	}
	metrics.IncrementCounter("queue_jobs_dead", map[string]string{"kind": string(job.Kind)}, "Jobs parked after exhausting retries")
}

func applyQueueDefaults(cfg *models.QueueConfig) {
	if cfg.Workers <= 0 {
		cfg.Workers = constants.DefaultQueueWorkers
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = constants.DefaultQueuePollIntervalMs
	}
	if cfg.ClaimBatchSize <= 0 {
		cfg.ClaimBatchSize = constants.DefaultQueueClaimBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.DefaultQueueMaxAttempts
	}
	if cfg.StaleRunningSec <= 0 {
		cfg.StaleRunningSec = constants.DefaultQueueStaleRunningSec
	}
}
