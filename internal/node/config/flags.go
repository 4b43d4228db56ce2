package config

import (
	"fmt"

	"github.com/dmitrijs2005/expiryx/internal/flagx"
)

// parseFlags overlays cfg with the flags in args.
//
// Short forms:
//
//	-a  gRPC bind address
//	-d  PostgreSQL DSN
//	-u  S3 root user
//	-p  S3 root password
//	-b  S3 bucket
//	-g  S3 region
//	-e  S3 base endpoint
func parseFlags(cfg *Config, args []string) error {
	fs := flagx.NewFlagSet("ledgerd")

	var configPath string
	fs.StringVarP(&configPath, "config", "c", "", "path to config file")

	fs.StringVarP(&cfg.EndpointAddrGRPC, "addr", "a", cfg.EndpointAddrGRPC, "address and port to run server")
	fs.StringVarP(&cfg.DatabaseDSN, "dsn", "d", cfg.DatabaseDSN, "database DSN, empty keeps the ledger in memory")
	fs.DurationVar(&cfg.BlockInterval, "block-interval", cfg.BlockInterval, "block production period, 0 for instant finality")
	fs.BoolVar(&cfg.AllowExtend, "extend", cfg.AllowExtend, "accept extend transactions")
	fs.StringVar(&cfg.Network, "network", cfg.Network, "network name reported to clients")
	fs.StringVar(&cfg.ContractAddress, "contract", cfg.ContractAddress, "contract address reported to clients")

	fs.StringVarP(&cfg.S3RootUser, "s3-user", "u", cfg.S3RootUser, "S3 root user")
	fs.StringVarP(&cfg.S3RootPassword, "s3-password", "p", cfg.S3RootPassword, "S3 root password")
	fs.StringVarP(&cfg.S3Bucket, "s3-bucket", "b", cfg.S3Bucket, "S3 bucket, empty disables resource links")
	fs.StringVarP(&cfg.S3Region, "s3-region", "g", cfg.S3Region, "S3 region")
	fs.StringVarP(&cfg.S3BaseEndpoint, "s3-endpoint", "e", cfg.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "metrics listen address, empty disables it")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
