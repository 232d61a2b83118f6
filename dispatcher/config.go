package dispatcher

import (
	"errors"
	"time"
)

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int

	// MaxAttempts bounds the number of send attempts per job, the first one
	// included.
	MaxAttempts       int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	BackoffJitter     float64

	StaleAfter       time.Duration
	RecoveryInterval time.Duration

	// Retention of terminal jobs. Zero keeps them forever.
	Retention     time.Duration
	PurgeInterval time.Duration

	StoreRetries       int
	StoreRetryInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:       time.Second,
		BatchSize:          100,
		Concurrency:        10,
		MaxAttempts:        5,
		BackoffInitial:     30 * time.Second,
		BackoffMax:         time.Hour,
		BackoffMultiplier:  2,
		BackoffJitter:      0.2,
		StaleAfter:         5 * time.Minute,
		RecoveryInterval:   time.Minute,
		Retention:          30 * 24 * time.Hour,
		PurgeInterval:      time.Hour,
		StoreRetries:       3,
		StoreRetryInterval: 200 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.PollInterval <= 0 || c.RecoveryInterval <= 0 {
		return errors.New("dispatcher intervals must be positive")
	}
	if c.BatchSize < 1 || c.Concurrency < 1 {
		return errors.New("dispatcher batch size and concurrency must be >= 1")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be >= 1")
	}
	if c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial || c.BackoffMultiplier < 1 {
		return errors.New("invalid retry backoff")
	}
	if c.BackoffJitter < 0 || c.BackoffJitter >= 1 {
		return errors.New("backoff jitter must be in [0, 1)")
	}
	if c.StaleAfter <= 0 {
		return errors.New("stale after must be positive")
	}
	if c.Retention > 0 && c.PurgeInterval <= 0 {
		return errors.New("purge interval must be positive when retention is set")
	}
	return nil
}
