// Package config loads runtime configuration for the expiryx client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or --config. Comments and
//     trailing commas are allowed.
//  3. Command-line flags, which override earlier values.
//
// # JSON schema
//
// Durations are timex.Duration values, either strings like "30s" or integer
// nanoseconds:
//
//	{
//	  // simulated | remote
//	  "mode": "remote",
//	  "ledger_addr": "127.0.0.1:50051",
//	  "cache": {"backend": "sqlite", "dsn": "expiryx.db"},
//	  "sync": {"poll_interval": "30s", "submit_timeout": "30s"},
//	  "dashboard_addr": "127.0.0.1:8088"
//	}
package config
