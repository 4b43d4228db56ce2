package config

import (
	"fmt"

	"github.com/dmitrijs2005/expiryx/internal/flagx"
)

// parseFlags overlays cfg with the command-line flags in args. Every flag
// defaults to the current value, so only the flags given change anything.
func parseFlags(cfg *Config, args []string) error {
	fs := flagx.NewFlagSet("expiryx")

	var configPath string
	fs.StringVarP(&configPath, "config", "c", "", "path to config file")

	fs.StringVarP(&cfg.Mode, "mode", "m", cfg.Mode, "ledger mode: simulated or remote")
	fs.StringVarP(&cfg.LedgerAddr, "ledger", "a", cfg.LedgerAddr, "address and port of the ledger node")

	fs.StringVar(&cfg.Simulated.StatePath, "sim-state", cfg.Simulated.StatePath, "simulated ledger state file, empty keeps it in memory")
	fs.StringVar(&cfg.Simulated.SeedPath, "sim-seed", cfg.Simulated.SeedPath, "simulated ledger seed file")
	fs.DurationVar(&cfg.Simulated.TransactionDelay, "sim-tx-delay", cfg.Simulated.TransactionDelay, "simulated transaction latency")
	fs.DurationVar(&cfg.Simulated.ConnectionDelay, "sim-conn-delay", cfg.Simulated.ConnectionDelay, "simulated read latency")
	fs.DurationVar(&cfg.Simulated.RevokeDelay, "sim-revoke-delay", cfg.Simulated.RevokeDelay, "simulated revocation latency")
	fs.BoolVar(&cfg.Simulated.AllowExtend, "sim-extend", cfg.Simulated.AllowExtend, "simulated ledger supports extend")

	fs.StringVar(&cfg.Cache.Backend, "cache", cfg.Cache.Backend, "cache backend: sqlite or redis")
	fs.StringVarP(&cfg.Cache.DSN, "db", "d", cfg.Cache.DSN, "sqlite cache file")
	fs.StringVar(&cfg.Cache.RedisAddr, "redis", cfg.Cache.RedisAddr, "redis address for the redis cache")
	fs.StringVar(&cfg.Cache.RedisPrefix, "redis-prefix", cfg.Cache.RedisPrefix, "redis key prefix")

	fs.DurationVarP(&cfg.Sync.PollInterval, "poll", "p", cfg.Sync.PollInterval, "ledger poll interval")
	fs.DurationVar(&cfg.Sync.SubmitTimeout, "submit-timeout", cfg.Sync.SubmitTimeout, "how long a command waits for the ledger")
	fs.DurationVar(&cfg.Sync.FetchTimeout, "fetch-timeout", cfg.Sync.FetchTimeout, "timeout of one ledger read")
	fs.IntVar(&cfg.Sync.RetryAttempts, "retries", cfg.Sync.RetryAttempts, "ledger read attempts per poll")

	fs.DurationVar(&cfg.BroadcastTimeout, "broadcast-timeout", cfg.BroadcastTimeout, "how long a remote broadcast may take")
	fs.DurationVar(&cfg.ConfirmTimeout, "confirm-timeout", cfg.ConfirmTimeout, "how long a remote transaction may take to be final")
	fs.DurationVarP(&cfg.OnlineCheckInterval, "online-check", "i", cfg.OnlineCheckInterval, "ledger reachability check interval")
	fs.StringVar(&cfg.DashboardAddr, "dashboard", cfg.DashboardAddr, "dashboard API listen address, empty disables it")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
