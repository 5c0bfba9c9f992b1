package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
server:
  port: 8080
auth:
  secret: "0123456789abcdef0123456789abcdef"
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 3, cfg.Org.DefaultMaxLoans)
	assert.Equal(t, "OrgSettings", cfg.Org.Name)
	assert.Equal(t, "local", cfg.Media.Provider)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "0 0 2 * * *", cfg.Scheduler.ReconcileStock)
	assert.Equal(t, ":8080", cfg.GetServerAddress())
}

func TestParseReadsDurations(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
org:
  cache_ttl: 90s
  default_max_loans: 5
`))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Org.CacheTTL)
	assert.Equal(t, 5, cfg.Org.DefaultMaxLoans)
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad port", "server: {port: 0}\nauth: {secret: 0123456789abcdef0123456789abcdef}", "invalid server port"},
		{"short secret", "server: {port: 80}\nauth: {secret: short}", "at least 32 characters"},
		{"firestore without project", minimal + "store: {backend: firestore}", "project id"},
		{"postgres without url", minimal + "store: {backend: postgres}", "database url"},
		{"unknown backend", minimal + "store: {backend: mongo}", "unknown store backend"},
		{"cloudinary without preset", minimal + "media: {provider: cloudinary, cloud_name: demo}", "upload preset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}
