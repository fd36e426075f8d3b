package scheduler

import (
	"time"

	"github.com/smallbiznis/valkyrie/internal/config"
)

// Config controls when the billing close runs and how long it may hold the
// cluster-wide lock.
type Config struct {
	CronSpec   string
	JobTimeout time.Duration
	LockTTL    time.Duration
	RunOnStart bool
}

func DefaultConfig() Config {
	return Config{
		CronSpec:   "0 2 1 * *",
		JobTimeout: 10 * time.Minute,
		LockTTL:    30 * time.Minute,
		RunOnStart: true,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		CronSpec:   cfg.BillingCronSpec,
		JobTimeout: cfg.BillingJobTimeout,
		LockTTL:    cfg.BillingLockTTL,
		RunOnStart: true,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.CronSpec == "" {
		c.CronSpec = defaults.CronSpec
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout
	}
	return c
}
