package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/dmitrijs2005/expiryx/internal/flagx"
	"github.com/dmitrijs2005/expiryx/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
type JsonConfig struct {
	EndpointAddrGRPC *string         `json:"endpoint_addr_grpc"`
	DatabaseDSN      *string         `json:"database_dsn"`
	BlockInterval    *timex.Duration `json:"block_interval"`
	AllowExtend      *bool           `json:"allow_extend"`
	Network          *string         `json:"network"`
	ContractAddress  *string         `json:"contract_address"`
	S3RootUser       *string         `json:"s3_root_user"`
	S3RootPassword   *string         `json:"s3_root_password"`
	S3Bucket         *string         `json:"s3_bucket"`
	S3Region         *string         `json:"s3_region"`
	S3BaseEndpoint   *string         `json:"s3_base_endpoint"`
	MetricsAddr      *string         `json:"metrics_addr"`
	LogLevel         *string         `json:"log_level"`
	LogFormat        *string         `json:"log_format"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

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

	set(&cfg.EndpointAddrGRPC, jc.EndpointAddrGRPC)
	set(&cfg.DatabaseDSN, jc.DatabaseDSN)
	if jc.BlockInterval != nil {
		cfg.BlockInterval = jc.BlockInterval.Duration
	}
	set(&cfg.AllowExtend, jc.AllowExtend)
	set(&cfg.Network, jc.Network)
	set(&cfg.ContractAddress, jc.ContractAddress)
	set(&cfg.S3RootUser, jc.S3RootUser)
	set(&cfg.S3RootPassword, jc.S3RootPassword)
	set(&cfg.S3Bucket, jc.S3Bucket)
	set(&cfg.S3Region, jc.S3Region)
	set(&cfg.S3BaseEndpoint, jc.S3BaseEndpoint)
	set(&cfg.MetricsAddr, jc.MetricsAddr)
	set(&cfg.LogLevel, jc.LogLevel)
	set(&cfg.LogFormat, jc.LogFormat)
	return nil
}
