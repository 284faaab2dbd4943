package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/finpulse/corebank/internal/domain"
)

const syncEnqueueBatch = 100

type loginRepo interface {
	ListNeedingSync(ctx context.Context, now time.Time, limit int) ([]domain.BankLogin, error)
}

type jobQueue interface {
	Enqueue(ctx context.Context, tx *sql.Tx, job *domain.Job) (bool, error)
	RescueStuck(ctx context.Context, olderThan time.Time) (int64, error)
	SweepTerminal(ctx context.Context, olderThan time.Time) (int64, error)
}

type Config struct {
	SyncEnqueueSchedule string
	JobSweepSchedule    string
	JobRetention        time.Duration
	JobMaxAttempts      int
	StuckJobTimeout     time.Duration
}

// Scheduler drives the periodic work: enqueueing bank-sync jobs for logins
// that are due, and sweeping old terminal job rows. The actual syncing runs
// through the orchestrator like everything else, so a slow bank cannot stall
// the cron loop.
type Scheduler struct {
	cron   *cron.Cron
	db     *sql.DB
	logins loginRepo
	jobs   jobQueue
	cfg    Config
	logger *slog.Logger
}

func New(db *sql.DB, logins loginRepo, jobs jobQueue, cfg Config, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		db:     db,
		logins: logins,
		jobs:   jobs,
		cfg:    cfg,
		logger: logger,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.cfg.SyncEnqueueSchedule, s.enqueueDueSyncs); err != nil {
		s.logger.Error("failed to schedule sync enqueue job", "error", err)
	} else {
		s.logger.Info("scheduled sync enqueue job", "schedule", s.cfg.SyncEnqueueSchedule)
	}

	if _, err := s.cron.AddFunc(s.cfg.JobSweepSchedule, s.maintainJobs); err != nil {
		s.logger.Error("failed to schedule job sweep", "error", err)
	} else {
		s.logger.Info("scheduled job sweep", "schedule", s.cfg.JobSweepSchedule)
	}

	s.cron.Start()
}

// Stop stops the cron loop; the returned context is done once running
// entries finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// enqueueDueSyncs inserts one bank-sync job per login whose sync interval
// has elapsed. The unique key makes this idempotent across ticks: a login
// whose previous sync job is still queued or running is skipped by the
// durable queue, not re-enqueued.
func (s *Scheduler) enqueueDueSyncs() {
	ctx := context.Background()
	now := time.Now().UTC()

	logins, err := s.logins.ListNeedingSync(ctx, now, syncEnqueueBatch)
	if err != nil {
		s.logger.Error("failed to list logins needing sync", "error", err)
		return
	}
	if len(logins) == 0 {
		return
	}

	enqueued := 0
	for _, login := range logins {
		inserted, err := s.enqueueSyncJob(ctx, login.ID, now)
		if err != nil {
			s.logger.Error("failed to enqueue sync job", "login_id", login.ID, "error", err)
			continue
		}
		if inserted {
			enqueued++
		}
	}
	s.logger.Info("sync jobs enqueued", "due", len(logins), "enqueued", enqueued)
}

func (s *Scheduler) enqueueSyncJob(ctx context.Context, loginID uuid.UUID, now time.Time) (bool, error) {
	args, err := json.Marshal(domain.BankSyncArgs{LoginID: loginID})
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	inserted, err := s.jobs.Enqueue(ctx, tx, &domain.Job{
		ID:          uuid.New(),
		Kind:        domain.JobKindBankSync,
		Args:        args,
		Queue:       domain.DefaultQueue,
		State:       domain.JobStateAvailable,
		MaxAttempts: s.cfg.JobMaxAttempts,
		ScheduledAt: now,
		UniqueKey:   domain.BankSyncUniqueKey(loginID),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return false, err
	}
	return inserted, tx.Commit()
}

// maintainJobs first rescues jobs a dead worker left in executing, then
// deletes old terminal rows. Rescue before sweep so a recovered job is
// claimable on the orchestrator's next poll.
func (s *Scheduler) maintainJobs() {
	s.rescueStuckJobs()
	s.sweepTerminalJobs()
}

func (s *Scheduler) rescueStuckJobs() {
	cutoff := time.Now().UTC().Add(-s.cfg.StuckJobTimeout)
	n, err := s.jobs.RescueStuck(context.Background(), cutoff)
	if err != nil {
		s.logger.Error("failed to rescue stuck jobs", "error", err)
		return
	}
	if n > 0 {
		s.logger.Warn("rescued stuck jobs", "count", n, "stuck_since", cutoff)
	}
}

func (s *Scheduler) sweepTerminalJobs() {
	cutoff := time.Now().UTC().Add(-s.cfg.JobRetention)
	n, err := s.jobs.SweepTerminal(context.Background(), cutoff)
	if err != nil {
		s.logger.Error("failed to sweep terminal jobs", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("swept terminal jobs", "deleted", n, "older_than", cutoff)
	}
}
