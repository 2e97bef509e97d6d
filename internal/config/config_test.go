package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.yaml")} {
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, Default(), *cfg)
		assert.Equal(t, "localhost:7777", cfg.Addr())
		assert.Empty(t, cfg.SQLitePath())
	}
}

func TestLoad_OverridesAndFillsGaps(t *testing.T) {
	path := writeConfig(t, `
broker:
  port: 9000
  cache_dir: /var/lib/mq
  write_timeout: 3s
topics:
  solve: answers
sinks:
  files: false
  sqlite: ledger.db
  nats:
    enabled: true
    url: nats://nats:4222
client:
  base_delay: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Broker.Host)
	assert.Equal(t, 9000, cfg.Broker.Port)
	assert.Equal(t, 100, cfg.Broker.CacheLength)
	assert.Equal(t, 3*time.Second, cfg.Broker.WriteTimeout)
	assert.Equal(t, "query", cfg.Topics.Query)
	assert.Equal(t, "answers", cfg.Topics.Solve)
	assert.False(t, cfg.Sinks.Files)
	assert.Equal(t, "/var/lib/mq/ledger.db", cfg.SQLitePath())
	assert.True(t, cfg.Sinks.NATS.Enabled)
	assert.Equal(t, "mq", cfg.Sinks.NATS.Prefix)
	assert.Equal(t, 3, cfg.Client.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.BaseDelay)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad yaml", "broker: [", "parse config file"},
		{"port", "broker:\n  port: 70000\n", "broker.port"},
		{"cache length", "broker:\n  cache_length: -1\n", "cache_length"},
		{"same topics", "topics:\n  query: x\n  solve: x\n", "must differ"},
		{"factor", "client:\n  backoff_factor: -2\n", "backoff_factor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSQLitePath_Absolute(t *testing.T) {
	cfg := Default()
	cfg.Sinks.SQLite = "/tmp/x.db"
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath())
}
