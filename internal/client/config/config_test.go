package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/expiryx/internal/client/cache"
)

func defaults() *Config {
	c := &Config{}
	c.LoadDefaults()
	return c
}

func TestLoadDefaults(t *testing.T) {
	c := defaults()

	assert.Equal(t, ModeSimulated, c.Mode)
	assert.Equal(t, "127.0.0.1:50051", c.LedgerAddr)
	assert.Equal(t, cache.BackendSQLite, c.Cache.Backend)
	assert.Equal(t, 30*time.Second, c.Sync.PollInterval)
	assert.Equal(t, 5, c.Sync.RetryAttempts)
	assert.Equal(t, 10*time.Second, c.BroadcastTimeout)
	assert.NoError(t, c.Validate())
}

func TestLoadConfig_NoSources(t *testing.T) {
	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(defaults(), cfg))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "expiryx.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeConfig(t, `{
		// talk to a node
		"mode": "remote",
		"ledger_addr": "ledger.example:9000",
		"cache": {"backend": "redis", "redis_addr": "cache:6379",},
		"sync": {"poll_interval": "10s", "retry_attempts": 3},
		"online_check_interval": 2000000000,
		"broadcast_timeout": "3s",
	}`)

	cfg, err := LoadConfig([]string{"--config", path, "-a", "override:1", "--poll=1m", "--broadcast-timeout=5s"})
	require.NoError(t, err)

	want := defaults()
	want.Mode = ModeRemote
	want.LedgerAddr = "override:1"
	want.Cache.Backend = cache.BackendRedis
	want.Cache.RedisAddr = "cache:6379"
	want.Sync.PollInterval = time.Minute
	want.Sync.RetryAttempts = 3
	want.OnlineCheckInterval = 2 * time.Second
	want.BroadcastTimeout = 5 * time.Second

	assert.Empty(t, cmp.Diff(want, cfg))
}

func TestLoadConfig_Errors(t *testing.T) {
	bad := writeConfig(t, `{ this is not json`)

	tests := []struct {
		name string
		args []string
	}{
		{name: "unreadable file", args: []string{"-c", filepath.Join(t.TempDir(), "missing.json")}},
		{name: "invalid json", args: []string{"-c", bad}},
		{name: "bad duration flag", args: []string{"--poll", "soon"}},
		{name: "unknown flag", args: []string{"--frobnicate"}},
		{name: "unknown mode", args: []string{"--mode", "mainnet"}},
		{name: "unknown cache", args: []string{"--cache", "memcached"}},
		{name: "zero attempts", args: []string{"--retries", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestSimulatedOptions(t *testing.T) {
	c := defaults()
	c.Simulated.SeedPath = "seed.jsonc"

	opts := c.SimulatedOptions()
	assert.Equal(t, "seed.jsonc", opts.SeedPath)
	assert.Equal(t, c.Simulated.TransactionDelay, opts.TransactionDelay)
	assert.True(t, opts.AllowExtend)
}
