// Package config handles configuration for the ledger node: defaults,
// then an optional JSON file, then command-line flags.
package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/node/resources"
)

// Config holds runtime settings for ledgerd.
//
// Fields:
//   - EndpointAddrGRPC: bind address of the ledger gRPC endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty keeps the ledger in memory.
//   - BlockInterval: block production period; zero gives instant finality.
//   - AllowExtend: whether the contract accepts extend transactions.
//   - S3*: object storage for permission resources. An empty bucket
//     disables resource links.
//   - MetricsAddr: listen address of /metrics. Empty disables it.
type Config struct {
	EndpointAddrGRPC string
	DatabaseDSN      string
	BlockInterval    time.Duration
	AllowExtend      bool
	Network          string
	ContractAddress  string

	S3RootUser     string
	S3RootPassword string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string

	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

// LoadDefaults populates Config with development defaults. They are not
// fit for production.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.DatabaseDSN = ""
	c.BlockInterval = 0
	c.AllowExtend = true
	c.Network = "devnet"
	c.ContractAddress = "0x1"
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = ""
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.MetricsAddr = ""
	c.LogLevel = "info"
	c.LogFormat = "json"
}

func (c *Config) Validate() error {
	if c.EndpointAddrGRPC == "" {
		return fmt.Errorf("grpc address is required")
	}
	if c.BlockInterval < 0 {
		return fmt.Errorf("block interval must not be negative")
	}
	if c.Network == "" {
		return fmt.Errorf("network name is required")
	}
	return nil
}

// Resources reports whether object storage is configured.
func (c *Config) Resources() bool {
	return c.S3Bucket != ""
}

func (c *Config) S3() resources.S3Config {
	return resources.S3Config{
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
		Expiry:       common.PresignedURLTTL,
	}
}

// LoadConfig builds a Config from defaults, then the JSON file named by
// -c/--config, then the flags in args.
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
