package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/flagx"
	"github.com/go-playground/validator/v10"
)

// Config holds runtime settings for the couplesync CLI.
//
// Fields:
//   - ServerEndpointAddr: host:port of the backend gRPC endpoint.
//   - OnlineCheckInterval: how often the client probes server reachability.
//   - DatabasePath: SQLite file of the local store.
//   - SyncInterval: period of the outbox drain when nothing kicks it.
//   - RetryBaseDelay, RetryMaxDelay: bounds of the outbox backoff.
//   - MaxAttempts: attempts before an outbox entry is marked failed.
//   - DrainParallelism: entities drained at the same time.
type Config struct {
	ServerEndpointAddr  string        `validate:"required"`
	OnlineCheckInterval time.Duration `validate:"gt=0"`
	DatabasePath        string        `validate:"required"`
	SyncInterval        time.Duration `validate:"gt=0"`
	RetryBaseDelay      time.Duration `validate:"gt=0"`
	RetryMaxDelay       time.Duration `validate:"gtefield=RetryBaseDelay"`
	MaxAttempts         int           `validate:"gte=1"`
	DrainParallelism    int           `validate:"gte=1,lte=64"`
	LogLevel            string        `validate:"oneof=debug info warn error"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.OnlineCheckInterval = 3 * time.Second
	c.DatabasePath = "couplesync.db"
	c.SyncInterval = 30 * time.Second
	c.RetryBaseDelay = time.Second
	c.RetryMaxDelay = 5 * time.Minute
	c.MaxAttempts = 8
	c.DrainParallelism = 4
	c.LogLevel = "warn"
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones. It panics when the result is unusable.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, flagx.JSONConfigPath()); err != nil {
		panic(err)
	}
	parseFlags(cfg, os.Args[1:])
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}
