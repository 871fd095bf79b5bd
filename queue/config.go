package queue

import "time"

// Config holds process-level queue settings, loadable from the environment
// with caarlos0/env.
type Config struct {
	DatabasePath      string        `env:"JOBQ_DB" envDefault:"jobq.db"`
	MaxConcurrency    int           `env:"JOBQ_MAX_CONCURRENCY" envDefault:"4"`
	PollInterval      time.Duration `env:"JOBQ_POLL_INTERVAL" envDefault:"1s"`
	LivenessThreshold time.Duration `env:"JOBQ_LIVENESS_THRESHOLD" envDefault:"5m"`
	RetryBaseDelay    time.Duration `env:"JOBQ_RETRY_BASE_DELAY" envDefault:"20s"`
	RetryMaxDelay     time.Duration `env:"JOBQ_RETRY_MAX_DELAY" envDefault:"1h"`
	DefaultMaxRetries int           `env:"JOBQ_DEFAULT_MAX_RETRIES" envDefault:"3"`
}
