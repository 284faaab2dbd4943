package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/finpulse/corebank/internal/bank"
	"github.com/finpulse/corebank/internal/breaker"
	"github.com/finpulse/corebank/internal/config"
	"github.com/finpulse/corebank/internal/domain"
	"github.com/finpulse/corebank/internal/events"
	"github.com/finpulse/corebank/internal/jobs"
	"github.com/finpulse/corebank/internal/logging"
	"github.com/finpulse/corebank/internal/repository"
	"github.com/finpulse/corebank/internal/scheduler"
	"github.com/finpulse/corebank/internal/service/settlement"
	"github.com/finpulse/corebank/internal/service/sync"
	"github.com/finpulse/corebank/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("corebank-worker", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	db, err := connectDB(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	accounts := repository.NewAccountRepository(db)
	payments := repository.NewPaymentRepository(db)
	logins := repository.NewBankLoginRepository(db)
	txns := repository.NewTransactionRepository(db)
	spend := repository.NewDailySpendRepository(db)
	jobRepo := repository.NewJobRepository(db)

	banks := bank.NewRegistry()
	banks.Register("firstbank", bank.NewFirstBank(
		cfg.BankAPIURL, cfg.BankClientID, cfg.BankClientSecret,
		time.Duration(cfg.BankTimeoutS)*time.Second,
	))

	breakers := breaker.NewRegistry(
		cfg.BreakerFailureThreshold,
		time.Duration(cfg.BreakerCooldownS)*time.Second,
	)
	tokens := token.NewManager(logins, banks)

	publisher, err := newPublisher(cfg)
	if err != nil {
		slog.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	callTimeout := time.Duration(cfg.BankTimeoutS) * time.Second
	processor := settlement.NewProcessor(
		payments, accounts, logins, txns, spend,
		tokens, banks, breakers, publisher, db, callTimeout,
	)
	syncer := sync.NewSyncer(logins, accounts, txns, tokens, banks, breakers, callTimeout)

	orchestrator := jobs.NewOrchestrator(jobRepo, jobs.Config{
		Queue:        domain.DefaultQueue,
		WorkerCount:  cfg.WorkerCount,
		PollInterval: time.Duration(cfg.JobPollIntervalMS) * time.Millisecond,
		RetryBase:    time.Duration(cfg.JobRetryBaseS) * time.Second,
		RetryMax:     time.Duration(cfg.JobRetryMaxS) * time.Second,
	})
	orchestrator.Register(domain.JobKindPaymentSettlement, func(ctx context.Context, job domain.Job) error {
		ctx, _ = logging.Component(ctx, "settlement")
		var args domain.SettlementArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return domain.ErrInternal.WithCause(err)
		}
		_, err := processor.ProcessPayment(ctx, args.PaymentID)
		return err
	})
	orchestrator.Register(domain.JobKindBankSync, func(ctx context.Context, job domain.Job) error {
		ctx, _ = logging.Component(ctx, "sync")
		var args domain.BankSyncArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return domain.ErrInternal.WithCause(err)
		}
		return syncer.SyncLogin(ctx, args.LoginID)
	})

	sched := scheduler.New(db, logins, jobRepo, scheduler.Config{
		SyncEnqueueSchedule: cfg.SyncEnqueueSchedule,
		JobSweepSchedule:    cfg.JobSweepSchedule,
		JobRetention:        time.Duration(cfg.JobRetentionDays) * 24 * time.Hour,
		JobMaxAttempts:      cfg.JobMaxAttempts,
		StuckJobTimeout:     time.Duration(cfg.StuckJobTimeoutM) * time.Minute,
	}, logger)
	sched.Start()

	orchestrator.Run(ctx)

	slog.Info("draining scheduler")
	<-sched.Stop().Done()
	slog.Info("worker stopped")
}

func connectDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	}

	var db *sql.DB
	connect := func() error {
		var err error
		db, err = repository.NewPostgresDB(ctx, cfg.DatabaseURL, pool)
		if err != nil {
			slog.Info("waiting for database", "error", err)
			return err
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(connect, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("connectDB: %w", err)
	}
	return db, nil
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		slog.Info("no AMQP URL configured, event publishing disabled")
		return events.Nop{}, nil
	}
	return events.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsExchange)
}
