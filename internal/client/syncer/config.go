package syncer

import "time"

type Config struct {
	PollInterval  time.Duration
	SubmitTimeout time.Duration
	FetchTimeout  time.Duration

	// Read retry policy: exponential from RetryBase, capped at RetryCap,
	// RetryAttempts tries in total.
	RetryBase     time.Duration
	RetryCap      time.Duration
	RetryAttempts int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:  30 * time.Second,
		SubmitTimeout: 30 * time.Second,
		FetchTimeout:  10 * time.Second,
		RetryBase:     time.Second,
		RetryCap:      30 * time.Second,
		RetryAttempts: 5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryCap <= 0 {
		c.RetryCap = d.RetryCap
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	return c
}
