package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "LB_ALGORITHM", "ALLOWED_ORIGINS",
		"HEALTH_INTERVAL_MS", "BROADCAST_INTERVAL_MS", "CIRCUIT_THRESHOLD",
		"WORKER_GO_1_URL", "WORKER_GO_1_WEIGHT",
	}
	for _, k := range keys {
		t.Setenv(k, os.Getenv(k))
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c := Load()
	assert.Equal(t, 8000, c.Port)
	assert.Equal(t, "round-robin", c.Algorithm)
	assert.Empty(t, c.Workers)
	assert.Equal(t, 5*time.Second, c.HealthInterval)
}

func TestLoadParsesWorkerURLAndWeight(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKER_GO_1_URL", "http://localhost:9001")
	t.Setenv("WORKER_GO_1_WEIGHT", "5")

	c := Load()
	if assert.Len(t, c.Workers, 1) {
		assert.Equal(t, "go-1", c.Workers[0].Name)
		assert.Equal(t, "http://localhost:9001", c.Workers[0].URL)
		assert.Equal(t, 5, c.Workers[0].Weight)
	}
}

func TestLoadSplitsAllowedOrigins(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")

	c := Load()
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, c.AllowedOrigins)
}

func TestEnvIntFallsBackOnInvalidValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-number")
	c := Load()
	assert.Equal(t, 8000, c.Port)
}
