// Package worker runs follow-up jobs queued by the reconciliation flow: it
// claims jobs from the store, dispatches them by type, retries failures with
// exponential backoff and releases in-flight jobs on shutdown.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/models"
)

// Handler runs one job. Returning an error schedules a retry unless the
// error is permanent.
type Handler func(ctx context.Context, job *models.Job) error

// Store is the queue the worker drains. *store.JobStore implements it.
type Store interface {
	Enqueue(ctx context.Context, job *models.Job) error
	ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errorMsg string) error
	ScheduleRetry(ctx context.Context, id int64, errorMsg string, runAt time.Time) error
	ReleaseJob(ctx context.Context, id int64) error
	CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Stats is reported by the health endpoint.
type Stats struct {
	JobsProcessed   int64     `json:"jobs_processed"`
	JobsSucceeded   int64     `json:"jobs_succeeded"`
	JobsFailed      int64     `json:"jobs_failed"`
	JobsRetried     int64     `json:"jobs_retried"`
	ActiveJobs      int       `json:"active_jobs"`
	LastProcessedAt time.Time `json:"last_processed_at"`
}

type Config struct {
	// MaxConcurrent is the number of processor goroutines
	MaxConcurrent int
	// PollInterval is how long an idle processor sleeps
	PollInterval time.Duration
	// RetryBaseDelay is the first retry delay
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the delay between retries
	RetryMaxDelay time.Duration
	// RetryBackoffMultiplier grows the delay on each attempt
	RetryBackoffMultiplier float64
	// JobTimeout bounds a single handler run
	JobTimeout time.Duration
	// ShutdownTimeout bounds how long Stop waits for processors
	ShutdownTimeout time.Duration
	// CleanupInterval is how often finished jobs are purged
	CleanupInterval time.Duration
	// Retention is how long finished jobs are kept
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:          2,
		PollInterval:           time.Second,
		RetryBaseDelay:         5 * time.Second,
		RetryMaxDelay:          10 * time.Minute,
		RetryBackoffMultiplier: 2.0,
		JobTimeout:             time.Minute,
		ShutdownTimeout:        30 * time.Second,
		CleanupInterval:        time.Hour,
		Retention:              7 * 24 * time.Hour,
	}
}

// Worker drains the follow-up job queue.
type Worker struct {
	config   Config
	store    Store
	handlers map[string]Handler
	log      *logger.Logger

	workerID string
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopped  bool
	mu       sync.RWMutex

	// activeJobs tracks in-flight job ids so Stop can release them
	activeJobs map[int64]context.CancelFunc

	statsMu         sync.RWMutex
	jobsProcessed   int64
	jobsSucceeded   int64
	jobsFailed      int64
	jobsRetried     int64
	lastProcessedAt time.Time
}

// New fills unset config fields from DefaultConfig.
func New(config Config, store Store, log *logger.Logger) *Worker {
	def := DefaultConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = def.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = def.RetryMaxDelay
	}
	if config.RetryBackoffMultiplier <= 1 {
		config.RetryBackoffMultiplier = def.RetryBackoffMultiplier
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.Retention <= 0 {
		config.Retention = def.Retention
	}

	workerID := generateWorkerID()
	return &Worker{
		config:     config,
		store:      store,
		handlers:   make(map[string]Handler),
		log:        log.With("worker_id", workerID),
		workerID:   workerID,
		stopCh:     make(chan struct{}),
		activeJobs: make(map[int64]context.CancelFunc),
	}
}

// RegisterHandler binds a handler to a job type. It must be called before Start.
func (w *Worker) RegisterHandler(jobType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = h
}

// Start begins the worker loop
func (w *Worker) Start(ctx context.Context) {
	w.log.Infow("worker starting", "max_concurrent", w.config.MaxConcurrent)

	w.wg.Add(1)
	go w.cleanup(ctx)

	for i := 0; i < w.config.MaxConcurrent; i++ {
		w.wg.Add(1)
		go w.processor(ctx, i)
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	w.log.Infow("worker shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, w.config.ShutdownTimeout)
	defer cancel()

	w.releaseActiveJobs(shutdownCtx)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.log.Infow("worker stopped")
		return nil
	case <-shutdownCtx.Done():
		return ierr.NewError("worker shutdown timeout exceeded").Mark(ierr.ErrSystem)
	}
}

func (w *Worker) processor(ctx context.Context, id int) {
	defer w.wg.Done()

	log := w.log.With("processor", id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
			if err := w.processNextJob(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("job poll failed", "error", err)
				w.sleep(ctx, w.config.PollInterval)
			}
		}
	}
}

// processNextJob claims and runs one job, or waits one poll interval when
// the queue is empty.
func (w *Worker) processNextJob(ctx context.Context) error {
	job, err := w.store.ClaimNextJob(ctx, w.workerID)
	if err != nil {
		return err
	}
	if job == nil {
		w.sleep(ctx, w.config.PollInterval)
		return nil
	}

	w.processJob(ctx, job)
	return nil
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	w.trackActiveJob(job.ID, cancel)
	defer w.untrackActiveJob(job.ID)

	w.log.Infow("processing job",
		"job_id", job.ID,
		"job_type", job.JobType,
		"attempt", job.Attempts,
		"max_attempts", job.MaxAttempts,
	)

	w.mu.RLock()
	handler, ok := w.handlers[job.JobType]
	w.mu.RUnlock()
	if !ok {
		err := Permanent(fmt.Errorf("no handler registered for job type: %s", job.JobType))
		w.handleError(ctx, job, err, start)
		return
	}

	if err := handler(jobCtx, job); err != nil {
		if w.isStopping() && errors.Is(jobCtx.Err(), context.Canceled) {
			// Stop already released the job back to pending
			w.log.Infow("job interrupted by shutdown", "job_id", job.ID, "job_type", job.JobType)
			return
		}
		w.handleError(ctx, job, err, start)
		return
	}
	w.handleSuccess(ctx, job, start)
}

// handleError retries the job unless it is out of attempts or the error is
// permanent. Store updates use the parent context so a job timeout does not
// prevent recording the failure.
func (w *Worker) handleError(ctx context.Context, job *models.Job, err error, start time.Time) {
	log := w.log.With("job_id", job.ID, "job_type", job.JobType, "duration", time.Since(start))

	w.statsMu.Lock()
	w.jobsProcessed++
	w.jobsFailed++
	w.lastProcessedAt = time.Now()
	w.statsMu.Unlock()

	if job.CanRetry() && !isPermanent(err) {
		delay := w.retryDelay(job.Attempts)

		w.statsMu.Lock()
		w.jobsRetried++
		w.statsMu.Unlock()

		log.Warnw("job failed, retry scheduled",
			"error", err,
			"attempt", job.Attempts,
			"retry_in", delay,
		)
		if serr := w.store.ScheduleRetry(ctx, job.ID, err.Error(), time.Now().Add(delay)); serr != nil {
			log.Errorw("failed to schedule retry", "error", serr)
		}
		return
	}

	log.Errorw("job failed permanently", "error", err, "attempts", job.Attempts)
	if serr := w.store.MarkFailed(ctx, job.ID, err.Error()); serr != nil {
		log.Errorw("failed to mark job failed", "error", serr)
	}
}

func (w *Worker) handleSuccess(ctx context.Context, job *models.Job, start time.Time) {
	duration := time.Since(start)

	w.statsMu.Lock()
	w.jobsProcessed++
	w.jobsSucceeded++
	w.lastProcessedAt = time.Now()
	w.statsMu.Unlock()

	w.log.Infow("job completed", "job_id", job.ID, "job_type", job.JobType, "duration", duration)
	if err := w.store.MarkCompleted(ctx, job.ID); err != nil {
		w.log.Errorw("failed to mark job completed", "job_id", job.ID, "error", err)
	}
}

// retryDelay is the backoff delay before attempt+1, jittered by ±20%.
func (w *Worker) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.config.RetryBaseDelay
	b.Multiplier = w.config.RetryBackoffMultiplier
	b.MaxInterval = w.config.RetryMaxDelay
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (w *Worker) isStopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Worker) trackActiveJob(jobID int64, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activeJobs[jobID] = cancel
}

func (w *Worker) untrackActiveJob(jobID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.activeJobs, jobID)
}

// releaseActiveJobs cancels in-flight jobs and puts them back to pending.
func (w *Worker) releaseActiveJobs(ctx context.Context) {
	w.mu.Lock()
	jobIDs := make([]int64, 0, len(w.activeJobs))
	for id, cancel := range w.activeJobs {
		jobIDs = append(jobIDs, id)
		cancel()
	}
	w.mu.Unlock()

	for _, id := range jobIDs {
		if err := w.store.ReleaseJob(ctx, id); err != nil {
			w.log.Errorw("failed to release job", "job_id", id, "error", err)
			continue
		}
		w.log.Infow("released job back to pending", "job_id", id)
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			n, err := w.store.CleanupOldJobs(ctx, w.config.Retention)
			if err != nil {
				w.log.Warnw("job cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				w.log.Infow("purged finished jobs", "count", n)
			}
		}
	}
}

// GetStats returns current worker statistics
func (w *Worker) GetStats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	w.mu.RLock()
	active := len(w.activeJobs)
	w.mu.RUnlock()

	return Stats{
		JobsProcessed:   w.jobsProcessed,
		JobsSucceeded:   w.jobsSucceeded,
		JobsFailed:      w.jobsFailed,
		JobsRetried:     w.jobsRetried,
		ActiveJobs:      active,
		LastProcessedAt: w.lastProcessedAt,
	}
}

// Enqueue creates a new job in the queue
func (w *Worker) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.IsValid(); err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}

	if err := w.store.Enqueue(ctx, job); err != nil {
		return err
	}

	w.log.Infow("job enqueued", "job_id", job.ID, "job_type", job.JobType)
	return nil
}

// Permanent marks a handler error as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// isPermanent reports whether retrying cannot help: the handler said so, or
// the error is a client-class failure.
func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return true
	}
	return ierr.IsValidation(err) || ierr.IsNotFound(err) || ierr.IsInvariant(err)
}

func generateWorkerID() string {
	return "worker-" + uuid.NewString()[:8]
}
