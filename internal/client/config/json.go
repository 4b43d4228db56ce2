package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/dmitrijs2005/expiryx/internal/flagx"
	"github.com/dmitrijs2005/expiryx/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent
// fields leave the current value alone.
type JsonConfig struct {
	Mode       *string `json:"mode"`
	LedgerAddr *string `json:"ledger_addr"`

	Simulated *struct {
		StatePath        *string         `json:"state_path"`
		SeedPath         *string         `json:"seed_path"`
		TransactionDelay *timex.Duration `json:"transaction_delay"`
		ConnectionDelay  *timex.Duration `json:"connection_delay"`
		RevokeDelay      *timex.Duration `json:"revoke_delay"`
		AllowExtend      *bool           `json:"allow_extend"`
	} `json:"simulated"`

	Cache *struct {
		Backend       *string `json:"backend"`
		DSN           *string `json:"dsn"`
		RedisAddr     *string `json:"redis_addr"`
		RedisPassword *string `json:"redis_password"`
		RedisDB       *int    `json:"redis_db"`
		RedisPrefix   *string `json:"redis_prefix"`
	} `json:"cache"`

	Sync *struct {
		PollInterval  *timex.Duration `json:"poll_interval"`
		SubmitTimeout *timex.Duration `json:"submit_timeout"`
		FetchTimeout  *timex.Duration `json:"fetch_timeout"`
		RetryBase     *timex.Duration `json:"retry_base"`
		RetryCap      *timex.Duration `json:"retry_cap"`
		RetryAttempts *int            `json:"retry_attempts"`
	} `json:"sync"`

	BroadcastTimeout    *timex.Duration `json:"broadcast_timeout"`
	ConfirmTimeout      *timex.Duration `json:"confirm_timeout"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval"`
	DashboardAddr       *string         `json:"dashboard_addr"`
	LogLevel            *string         `json:"log_level"`
	LogFormat           *string         `json:"log_format"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func dur(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}

// parseJSON overlays cfg with the file named by -c/--config in args. No
// flag means no file.
func parseJSON(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	jc.apply(cfg)
	return nil
}

func (jc *JsonConfig) apply(cfg *Config) {
	set(&cfg.Mode, jc.Mode)
	set(&cfg.LedgerAddr, jc.LedgerAddr)

	if s := jc.Simulated; s != nil {
		set(&cfg.Simulated.StatePath, s.StatePath)
		set(&cfg.Simulated.SeedPath, s.SeedPath)
		dur(&cfg.Simulated.TransactionDelay, s.TransactionDelay)
		dur(&cfg.Simulated.ConnectionDelay, s.ConnectionDelay)
		dur(&cfg.Simulated.RevokeDelay, s.RevokeDelay)
		set(&cfg.Simulated.AllowExtend, s.AllowExtend)
	}
	if c := jc.Cache; c != nil {
		set(&cfg.Cache.Backend, c.Backend)
		set(&cfg.Cache.DSN, c.DSN)
		set(&cfg.Cache.RedisAddr, c.RedisAddr)
		set(&cfg.Cache.RedisPassword, c.RedisPassword)
		set(&cfg.Cache.RedisDB, c.RedisDB)
		set(&cfg.Cache.RedisPrefix, c.RedisPrefix)
	}
	if s := jc.Sync; s != nil {
		dur(&cfg.Sync.PollInterval, s.PollInterval)
		dur(&cfg.Sync.SubmitTimeout, s.SubmitTimeout)
		dur(&cfg.Sync.FetchTimeout, s.FetchTimeout)
		dur(&cfg.Sync.RetryBase, s.RetryBase)
		dur(&cfg.Sync.RetryCap, s.RetryCap)
		set(&cfg.Sync.RetryAttempts, s.RetryAttempts)
	}

	dur(&cfg.BroadcastTimeout, jc.BroadcastTimeout)
	dur(&cfg.ConfirmTimeout, jc.ConfirmTimeout)
	dur(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	set(&cfg.DashboardAddr, jc.DashboardAddr)
	set(&cfg.LogLevel, jc.LogLevel)
	set(&cfg.LogFormat, jc.LogFormat)
}
