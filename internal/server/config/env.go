package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DotEnvFile is read for COUPLESYNC_* variables when present. Variables set in
// the process environment take precedence over the file.
var DotEnvFile = ".env"

const envPrefix = "COUPLESYNC_"

// parseEnv overlays COUPLESYNC_* variables onto config. lookup is normally
// os.LookupEnv.
func parseEnv(config *Config, dotEnvPath string, lookup func(string) (string, bool)) error {
	file := map[string]string{}
	if dotEnvPath != "" {
		m, err := godotenv.Read(dotEnvPath)
		switch {
		case err == nil:
			file = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return fmt.Errorf("read %s: %w", dotEnvPath, err)
		}
	}

	get := func(name string) (string, bool) {
		key := envPrefix + name
		if v, ok := lookup(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok && v != ""
	}

	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := get(name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("GRPC_ADDR", &config.EndpointAddrGRPC)
	str("DATABASE_DSN", &config.DatabaseDSN)
	str("SECRET_KEY", &config.SecretKey)
	str("PAIRING_SECRET", &config.PairingCodeSecret)
	str("S3_USER", &config.S3RootUser)
	str("S3_PASSWORD", &config.S3RootPassword)
	str("S3_BUCKET", &config.S3Bucket)
	str("S3_REGION", &config.S3Region)
	str("S3_ENDPOINT", &config.S3BaseEndpoint)
	str("REDIS_ADDR", &config.RedisAddr)
	str("AMQP_URL", &config.AMQPURL)
	str("LOVE_PING_QUEUE", &config.LovePingQueue)
	str("LOG_LEVEL", &config.LogLevel)

	for name, dst := range map[string]*time.Duration{
		"ACCESS_TOKEN_TTL":  &config.AccessTokenValidityDuration,
		"REFRESH_TOKEN_TTL": &config.RefreshTokenValidityDuration,
		"PAIRING_CODE_TTL":  &config.PairingCodeTTL,
		"REDEEM_WINDOW":     &config.RedeemWindow,
	} {
		if err := dur(name, dst); err != nil {
			return err
		}
	}

	if v, ok := get("REDEEM_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDEEM_LIMIT: %w", envPrefix, err)
		}
		config.RedeemLimit = n
	}
	return nil
}
