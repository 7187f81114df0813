package config

import (
	"time"

	"github.com/joho/godotenv"
)

// Config holds the configuration for the order execution service
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	DatabaseURL string
	RedisURL    string
	LogLevel    string

	Queue     QueueConfig
	Engine    EngineConfig
	Simulator SimulatorConfig

	PublishTimeout time.Duration
	OrderCacheTTL  time.Duration
	RateLimit      time.Duration
}

// QueueConfig holds the job queue and worker settings
type QueueConfig struct {
	Name         string
	Concurrency  int
	Attempts     int
	Backoff      time.Duration
	PollInterval time.Duration
}

type EngineConfig struct {
	StepDelay time.Duration
}

// SimulatorConfig tunes the simulated venues
type SimulatorConfig struct {
	QuoteLatency   time.Duration
	ExecuteLatency time.Duration
	FailureRate    float64
}

// Load reads .env when present and then the process environment. envPath may be empty.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		HTTPAddr:    GetEnvString("HTTP_ADDR", DefaultHTTPAddr),
		GRPCAddr:    GetEnvString("GRPC_ADDR", DefaultGRPCAddr),
		DatabaseURL: GetEnvString("DATABASE_URL", DefaultDatabaseURL),
		RedisURL:    GetEnvString("REDIS_URL", DefaultRedisURL),
		Queue: QueueConfig{
			Name: GetEnvString("QUEUE_NAME", DefaultQueueName),
		},
	}

	var err error
	if cfg.LogLevel, err = GetEnvLogLevel(); err != nil {
		return nil, err
	}
	if cfg.Queue.Concurrency, err = GetEnvInt("WORKER_CONCURRENCY", DefaultWorkerConcurrency, 1); err != nil {
		return nil, err
	}
	if cfg.Queue.Attempts, err = GetEnvInt("JOB_ATTEMPTS", DefaultJobAttempts, 1); err != nil {
		return nil, err
	}
	if cfg.Queue.Backoff, err = GetEnvMillis("JOB_BACKOFF_MS", DefaultJobBackoffMs); err != nil {
		return nil, err
	}
	if cfg.Queue.PollInterval, err = GetEnvMillis("QUEUE_POLL_INTERVAL_MS", DefaultQueuePollIntervalMs); err != nil {
		return nil, err
	}
	if cfg.Engine.StepDelay, err = GetEnvMillis("STEP_DELAY_MS", DefaultStepDelayMs); err != nil {
		return nil, err
	}
	if cfg.PublishTimeout, err = GetEnvMillis("PUBLISH_TIMEOUT_MS", DefaultPublishTimeoutMs); err != nil {
		return nil, err
	}
	if cfg.OrderCacheTTL, err = GetEnvDuration("ORDER_CACHE_TTL", DefaultOrderCacheTTL); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = GetEnvMillis("RATE_LIMIT_MS", DefaultRateLimitMs); err != nil {
		return nil, err
	}
	if cfg.Simulator.QuoteLatency, err = GetEnvMillis("SIM_QUOTE_LATENCY_MS", DefaultQuoteLatencyMs); err != nil {
		return nil, err
	}
	if cfg.Simulator.ExecuteLatency, err = GetEnvMillis("SIM_EXECUTE_LATENCY_MS", DefaultExecuteLatencyMs); err != nil {
		return nil, err
	}
	if cfg.Simulator.FailureRate, err = GetEnvFloat("SIM_FAILURE_RATE", 0, 0, 1); err != nil {
		return nil, err
	}
	return cfg, nil
}
