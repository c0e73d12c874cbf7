package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func Test_parseEnv(t *testing.T) {
	dir := t.TempDir()
	dotEnv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotEnv, []byte(
		"COUPLESYNC_GRPC_ADDR=:7000\nCOUPLESYNC_REDIS_ADDR=file-redis:6379\nCOUPLESYNC_REDEEM_LIMIT=4\n"), 0o600))

	t.Run("process env wins over .env", func(t *testing.T) {
		var cfg Config
		cfg.LoadDefaults()

		err := parseEnv(&cfg, dotEnv, mapLookup(map[string]string{
			"COUPLESYNC_REDIS_ADDR":       "env-redis:6379",
			"COUPLESYNC_PAIRING_CODE_TTL": "90m",
			"COUPLESYNC_LOG_LEVEL":        "warn",
		}))
		require.NoError(t, err)

		assert.Equal(t, ":7000", cfg.EndpointAddrGRPC)
		assert.Equal(t, "env-redis:6379", cfg.RedisAddr)
		assert.Equal(t, 4, cfg.RedeemLimit)
		assert.Equal(t, 90*time.Minute, cfg.PairingCodeTTL)
		assert.Equal(t, "warn", cfg.LogLevel)
	})

	t.Run("missing .env is fine", func(t *testing.T) {
		cfg := &Config{SecretKey: "keep"}
		require.NoError(t, parseEnv(cfg, filepath.Join(dir, "none.env"), mapLookup(nil)))
		assert.Equal(t, "keep", cfg.SecretKey)
	})

	t.Run("bad duration", func(t *testing.T) {
		err := parseEnv(&Config{}, "", mapLookup(map[string]string{"COUPLESYNC_REDEEM_WINDOW": "often"}))
		assert.ErrorContains(t, err, "COUPLESYNC_REDEEM_WINDOW")
	})

	t.Run("bad limit", func(t *testing.T) {
		err := parseEnv(&Config{}, "", mapLookup(map[string]string{"COUPLESYNC_REDEEM_LIMIT": "many"}))
		assert.Error(t, err)
	})
}
