package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	// DailyCapRaw is the per-account aggregate payment cap per UTC day,
	// expressed in the account's currency.
	DailyCapRaw string          `env:"DAILY_PAYMENT_CAP" envDefault:"10000"`
	DailyCap    decimal.Decimal `env:"-"`

	BankAPIURL       string `env:"BANK_API_URL" envDefault:"http://mock-bank:8082"`
	BankClientID     string `env:"BANK_CLIENT_ID" envDefault:"corebank-local"`
	BankClientSecret string `env:"BANK_CLIENT_SECRET" envDefault:"local-secret"`
	BankTimeoutS     int    `env:"BANK_TIMEOUT_S" envDefault:"30"`

	BreakerFailureThreshold int `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerCooldownS        int `env:"BREAKER_COOLDOWN_S" envDefault:"30"`

	WorkerCount       int `env:"WORKER_COUNT" envDefault:"4"`
	JobPollIntervalMS int `env:"JOB_POLL_INTERVAL_MS" envDefault:"500"`
	JobMaxAttempts    int `env:"JOB_MAX_ATTEMPTS" envDefault:"5"`
	JobRetryBaseS     int `env:"JOB_RETRY_BASE_S" envDefault:"5"`
	JobRetryMaxS      int `env:"JOB_RETRY_MAX_S" envDefault:"300"`

	SyncEnqueueSchedule string `env:"SYNC_ENQUEUE_SCHEDULE" envDefault:"@every 1m"`
	JobSweepSchedule    string `env:"JOB_SWEEP_SCHEDULE" envDefault:"@every 10m"`
	JobRetentionDays    int    `env:"JOB_RETENTION_DAYS" envDefault:"7"`
	StuckJobTimeoutM    int    `env:"STUCK_JOB_TIMEOUT_M" envDefault:"10"`

	// Empty AMQP URL disables event publishing.
	AMQPURL        string `env:"AMQP_URL"`
	EventsExchange string `env:"EVENTS_EXCHANGE" envDefault:"corebank.events"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cap, err := decimal.NewFromString(cfg.DailyCapRaw)
	if err != nil || cap.Sign() <= 0 {
		return nil, fmt.Errorf("config.Load: invalid DAILY_PAYMENT_CAP %q", cfg.DailyCapRaw)
	}
	cfg.DailyCap = cap

	return &cfg, nil
}
