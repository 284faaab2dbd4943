package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finpulse/corebank/internal/domain"
	"github.com/finpulse/corebank/internal/logging"
)

// Handler executes one job. Returning nil completes the job. A retryable
// error reschedules it with backoff until max attempts; a non-retryable
// domain error discards it immediately. Errors without a domain
// classification are assumed transient and retried.
type Handler func(ctx context.Context, job domain.Job) error

type jobQueue interface {
	ClaimAvailable(ctx context.Context, queue string, limit int) ([]domain.Job, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, lastError string, runAt time.Time) error
	Discard(ctx context.Context, id uuid.UUID, lastError string) error
}

type Config struct {
	Queue        string
	WorkerCount  int
	PollInterval time.Duration
	RetryBase    time.Duration
	RetryMax     time.Duration
}

// Orchestrator polls the durable queue and fans claimed jobs out to a fixed
// worker pool. Delivery is at-least-once: a crash between handler success
// and MarkCompleted re-runs the job, so handlers must be idempotent.
type Orchestrator struct {
	queue    jobQueue
	cfg      Config
	now      func() time.Time
	handlers map[domain.JobKind]Handler
}

func NewOrchestrator(queue jobQueue, cfg Config) *Orchestrator {
	if cfg.Queue == "" {
		cfg.Queue = domain.DefaultQueue
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	return &Orchestrator{
		queue:    queue,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		handlers: make(map[domain.JobKind]Handler),
	}
}

// Register binds a handler to a job kind. Not safe to call after Run.
func (o *Orchestrator) Register(kind domain.JobKind, h Handler) {
	o.handlers[kind] = h
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs to
// finish and record their outcome. A job a crashed process leaves in
// executing is returned to available by the scheduler's rescue pass.
func (o *Orchestrator) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("orchestrator starting",
		"queue", o.cfg.Queue, "workers", o.cfg.WorkerCount, "poll_interval", o.cfg.PollInterval)

	work := make(chan domain.Job)
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range work {
				o.process(ctx, job)
			}
		}()
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			log.Info("orchestrator stopped", "queue", o.cfg.Queue)
			return
		case <-ticker.C:
			o.pollOnce(ctx, work)
		}
	}
}

func (o *Orchestrator) pollOnce(ctx context.Context, work chan<- domain.Job) {
	log := logging.FromContext(ctx)

	claimed, err := o.queue.ClaimAvailable(ctx, o.cfg.Queue, o.cfg.WorkerCount)
	if err != nil {
		log.Error("failed to claim jobs", "queue", o.cfg.Queue, "error", err)
		return
	}
	for _, job := range claimed {
		select {
		case work <- job:
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, job domain.Job) {
	log := logging.FromContext(ctx).With(
		"job_id", job.ID, "job_kind", job.Kind, "attempt", job.Attempts)
	ctx = logging.WithLogger(ctx, log)

	err := o.invoke(ctx, job)

	// Record the outcome even when shutdown has cancelled the run context;
	// otherwise a job whose handler fails during shutdown stays executing
	// until the rescuer finds it.
	bookCtx := context.WithoutCancel(ctx)

	if err == nil {
		if err := o.queue.MarkCompleted(bookCtx, job.ID); err != nil {
			log.Error("failed to mark job completed", "error", err)
		}
		return
	}

	var de *domain.Error
	if errors.As(err, &de) && !de.Retryable() {
		log.Warn("job failed permanently, discarding", "error", err)
		if err := o.queue.Discard(bookCtx, job.ID, err.Error()); err != nil {
			log.Error("failed to discard job", "error", err)
		}
		return
	}

	if job.Attempts >= job.MaxAttempts {
		log.Error("job exhausted retries, discarding", "max_attempts", job.MaxAttempts, "error", err)
		if err := o.queue.Discard(bookCtx, job.ID, err.Error()); err != nil {
			log.Error("failed to discard job", "error", err)
		}
		return
	}

	runAt := o.now().Add(RetryDelay(job.Attempts, o.cfg.RetryBase, o.cfg.RetryMax))
	log.Warn("job failed, scheduling retry", "run_at", runAt, "error", err)
	if err := o.queue.ScheduleRetry(bookCtx, job.ID, err.Error(), runAt); err != nil {
		log.Error("failed to schedule retry", "error", err)
	}
}

// invoke dispatches to the registered handler, converting panics into
// errors so one bad job cannot take down the pool.
func (o *Orchestrator) invoke(ctx context.Context, job domain.Job) (err error) {
	handler, ok := o.handlers[job.Kind]
	if !ok {
		return domain.ErrInternal.WithDetail("reason", fmt.Sprintf("no handler registered for kind %q", job.Kind))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}
