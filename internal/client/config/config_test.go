package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1:50051", c.ServerEndpointAddr)
	assert.Equal(t, 3*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, 8, c.MaxAttempts)
	assert.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	c := Config{}
	c.LoadDefaults()
	c.RetryMaxDelay = c.RetryBaseDelay / 2
	assert.Error(t, c.Validate(), "cap below base delay")

	c.LoadDefaults()
	c.MaxAttempts = 0
	assert.Error(t, c.Validate())

	c.LoadDefaults()
	c.LogLevel = "loud"
	assert.Error(t, c.Validate())
}
