package fsguard

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Config controls a Coordinator. The zero value is not usable; start from
// DefaultConfig or ConfigFromEnv.
type Config struct {
	// CacheTTL is how long validation results are trusted before a file is
	// re-checked.
	CacheTTL time.Duration `env:"FSGUARD_CACHE_TTL" envDefault:"60s"`

	// BackupSuffix is appended to backup file names.
	BackupSuffix string `env:"FSGUARD_BACKUP_SUFFIX" envDefault:".backup"`

	// LockTimeout bounds how long an operation waits for its path lock in
	// total, across both the in-process lock and the cross-process flock.
	// Zero means wait indefinitely, favoring correctness over liveness
	// under contention.
	LockTimeout time.Duration `env:"FSGUARD_LOCK_TIMEOUT" envDefault:"30s"`

	// ProcessLock enables flock sidecar files ("<path>.lock") so operations
	// serialize across processes, not just goroutines.
	ProcessLock bool `env:"FSGUARD_PROCESS_LOCK" envDefault:"true"`

	// MaxWriteRetries is how many times a failed atomic write is retried
	// with exponential backoff before the format fallback kicks in.
	MaxWriteRetries uint64 `env:"FSGUARD_MAX_WRITE_RETRIES" envDefault:"2"`

	// RetryInterval is the initial backoff delay between write retries.
	RetryInterval time.Duration `env:"FSGUARD_RETRY_INTERVAL" envDefault:"50ms"`

	// FormatFallback writes the payload as JSON Lines when the primary
	// format's write keeps failing.
	FormatFallback bool `env:"FSGUARD_FORMAT_FALLBACK" envDefault:"true"`

	// ErrorFiles records write-path failures to "<path>.error", one line per
	// failure event, for external monitoring. The coordinator never reads
	// these files.
	ErrorFiles bool `env:"FSGUARD_ERROR_FILES" envDefault:"true"`

	// ErrorFileRate limits error-file appends, in events per second.
	ErrorFileRate float64 `env:"FSGUARD_ERROR_FILE_RATE" envDefault:"1"`

	// ErrorFileBurst is the burst allowance for error-file appends.
	ErrorFileBurst int `env:"FSGUARD_ERROR_FILE_BURST" envDefault:"5"`

	// AsyncWorkers is the size of the worker pool serving the Async call
	// forms.
	AsyncWorkers int `env:"FSGUARD_ASYNC_WORKERS" envDefault:"4"`

	// AsyncQueueSize is the capacity of the pending-operation queue for the
	// Async call forms. Submitters block when it is full; writes are never
	// silently dropped.
	AsyncQueueSize int `env:"FSGUARD_ASYNC_QUEUE_SIZE" envDefault:"64"`

	// Indent pretty-prints JSON documents written by SafeWriteJSON.
	Indent bool `env:"FSGUARD_JSON_INDENT" envDefault:"false"`

	// Logger receives diagnostics: degraded reads, fallback writes, recovery
	// outcomes. Defaults to a null logger; the layer is silent unless asked
	// not to be.
	Logger hclog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		CacheTTL:        60 * time.Second,
		BackupSuffix:    ".backup",
		LockTimeout:     30 * time.Second,
		ProcessLock:     true,
		MaxWriteRetries: 2,
		RetryInterval:   50 * time.Millisecond,
		FormatFallback:  true,
		ErrorFiles:      true,
		ErrorFileRate:   1,
		ErrorFileBurst:  5,
		AsyncWorkers:    4,
		AsyncQueueSize:  64,
	}
}

// ConfigFromEnv builds a configuration from FSGUARD_* environment variables,
// falling back to the defaults for unset variables.
func ConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.CacheTTL < 0 {
		return errors.Wrap(ErrInvalidArgument, "CacheTTL must not be negative")
	}
	if c.LockTimeout < 0 {
		return errors.Wrap(ErrInvalidArgument, "LockTimeout must not be negative")
	}
	if c.RetryInterval < 0 {
		return errors.Wrap(ErrInvalidArgument, "RetryInterval must not be negative")
	}
	if c.ErrorFileRate < 0 {
		return errors.Wrap(ErrInvalidArgument, "ErrorFileRate must not be negative")
	}
	if c.AsyncWorkers < 1 {
		c.AsyncWorkers = 1
	}
	if c.AsyncQueueSize < 1 {
		c.AsyncQueueSize = 1
	}
	return nil
}
