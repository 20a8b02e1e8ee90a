package scheduler

import (
	"time"
)

// Config controls the maintenance loop.
type Config struct {
	RunInterval  time.Duration
	ResetEnabled bool
	LockTTL      time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:  time.Minute,
		ResetEnabled: true,
		LockTTL:      5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
