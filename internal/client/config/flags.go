package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string             address and port of the backend server
//	-i int                online check interval, seconds
//	-f string             local database file
//	-sync int             outbox drain interval, seconds
//	-retry-base int       first retry delay, milliseconds
//	-retry-max int        retry delay cap, seconds
//	-max-attempts int     attempts before an outbox entry fails
//	-log-level string     debug, info, warn or error
//
// The function filters osArgs to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config, osArgs []string) {
	args := flagx.FilterArgs(osArgs, []string{"-a", "-i", "-f", "-sync", "-retry-base", "-retry-max", "-max-attempts", "-log-level"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.DatabasePath, "f", cfg.DatabasePath, "local database file")
	syncInterval := fs.Int("sync", int(cfg.SyncInterval.Seconds()), "outbox drain interval (in seconds)")
	retryBase := fs.Int("retry-base", int(cfg.RetryBaseDelay.Milliseconds()), "first retry delay (in milliseconds)")
	retryMax := fs.Int("retry-max", int(cfg.RetryMaxDelay.Seconds()), "retry delay cap (in seconds)")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "attempts before an outbox entry fails")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
	cfg.RetryBaseDelay = time.Duration(*retryBase) * time.Millisecond
	cfg.RetryMaxDelay = time.Duration(*retryMax) * time.Second
}
