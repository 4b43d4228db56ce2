package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/client/cache"
	"github.com/dmitrijs2005/expiryx/internal/client/ledger/simulated"
	"github.com/dmitrijs2005/expiryx/internal/client/syncer"
)

const (
	ModeSimulated = "simulated"
	ModeRemote    = "remote"
)

// Simulated configures the in-process ledger.
type Simulated struct {
	StatePath        string
	SeedPath         string
	TransactionDelay time.Duration
	ConnectionDelay  time.Duration
	RevokeDelay      time.Duration
	AllowExtend      bool
}

// Config holds runtime settings for the expiryx client.
type Config struct {
	// Mode selects the ledger: ModeSimulated or ModeRemote.
	Mode       string
	LedgerAddr string
	Simulated  Simulated

	Cache cache.Config
	Sync  syncer.Config

	// BroadcastTimeout bounds the broadcast of a remote submission,
	// ConfirmTimeout the wait for its transaction to be final.
	BroadcastTimeout    time.Duration
	ConfirmTimeout      time.Duration
	OnlineCheckInterval time.Duration

	// DashboardAddr is the listen address of the HTTP dashboard API.
	// Empty disables it.
	DashboardAddr string

	LogLevel  string
	LogFormat string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Mode = ModeSimulated
	c.LedgerAddr = "127.0.0.1:50051"
	c.Simulated = Simulated{
		StatePath:        "ledger-state.json",
		TransactionDelay: 500 * time.Millisecond,
		ConnectionDelay:  200 * time.Millisecond,
		RevokeDelay:      500 * time.Millisecond,
		AllowExtend:      true,
	}
	c.Cache = cache.Config{
		Backend:     cache.BackendSQLite,
		DSN:         "expiryx.db",
		RedisAddr:   "127.0.0.1:6379",
		RedisPrefix: "expiryx",
	}
	c.Sync = syncer.DefaultConfig()
	c.BroadcastTimeout = 10 * time.Second
	c.ConfirmTimeout = 30 * time.Second
	c.OnlineCheckInterval = 5 * time.Second
	c.DashboardAddr = ""
	c.LogLevel = "info"
	c.LogFormat = "text"
}

// Validate rejects settings the client cannot start with.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSimulated, ModeRemote:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Mode == ModeRemote && c.LedgerAddr == "" {
		return fmt.Errorf("remote mode needs a ledger address")
	}
	switch c.Cache.Backend {
	case cache.BackendSQLite, cache.BackendRedis:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Sync.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	return nil
}

// SimulatedOptions maps the simulated section onto ledger options.
func (c *Config) SimulatedOptions() simulated.Options {
	return simulated.Options{
		StatePath:        c.Simulated.StatePath,
		SeedPath:         c.Simulated.SeedPath,
		TransactionDelay: c.Simulated.TransactionDelay,
		ConnectionDelay:  c.Simulated.ConnectionDelay,
		RevokeDelay:      c.Simulated.RevokeDelay,
		AllowExtend:      c.Simulated.AllowExtend,
	}
}

// LoadConfig builds a Config from defaults, then the JSON file, then the
// flags in args. Later sources take precedence over earlier ones.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
