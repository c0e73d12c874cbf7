package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/timex"
)

// JSONConfig is the file representation of Config. Durations use
// timex.Duration, so both "15m" and integer nanoseconds are accepted.
// Fields left out of the file keep their previous value.
type JSONConfig struct {
	EndpointAddrGRPC             string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	PairingCodeTTL               timex.Duration `json:"pairing_code_ttl"`
	PairingCodeSecret            string         `json:"pairing_code_secret"`
	S3RootUser                   string         `json:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket"`
	S3Region                     string         `json:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint"`
	RedisAddr                    string         `json:"redis_addr"`
	RedeemLimit                  int            `json:"redeem_limit"`
	RedeemWindow                 timex.Duration `json:"redeem_window"`
	AMQPURL                      string         `json:"amqp_url"`
	LovePingQueue                string         `json:"love_ping_queue"`
	LogLevel                     string         `json:"log_level"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.IsSet() {
		*dst = v.Duration
	}
}

// parseJSON overlays the file at path onto config. An empty path is a no-op.
func parseJSON(config *Config, path string) error {
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JSONConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setDuration(&config.PairingCodeTTL, c.PairingCodeTTL)
	setString(&config.PairingCodeSecret, c.PairingCodeSecret)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.RedisAddr, c.RedisAddr)
	if c.RedeemLimit > 0 {
		config.RedeemLimit = c.RedeemLimit
	}
	setDuration(&config.RedeemWindow, c.RedeemWindow)
	setString(&config.AMQPURL, c.AMQPURL)
	setString(&config.LovePingQueue, c.LovePingQueue)
	setString(&config.LogLevel, c.LogLevel)
	return nil
}
