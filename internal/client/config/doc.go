// Package config loads runtime configuration for the couplesync CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via flags: -c or -config.
//  3. Command-line flags, which override earlier values.
//
// # JSON schema
//
// Intervals use timex.Duration, so values can be either strings like "3s"
// or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "online_check_interval": "3s",
//	  "database_path": "couplesync.db",
//	  "sync_interval": "30s",
//	  "retry_base_delay": "1s",
//	  "retry_max_delay": "5m",
//	  "max_attempts": 8
//	}
package config
