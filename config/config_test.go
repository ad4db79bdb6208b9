package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "pebble", cfg.Storage.Driver)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr())
	assert.NoError(t, cfg.validate())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telepath.yml")
	data := []byte(`
server:
  address: 0.0.0.0
  port: 9000
storage:
  driver: memory
logging:
  level: debug
  format: json
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr())
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Queue.DeliveredTTL, cfg.Queue.DeliveredTTL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telepath.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))

	t.Setenv("TELEPATH_PORT", "7000")
	t.Setenv("TELEPATH_STORAGE_DRIVER", "memory")
	t.Setenv("TELEPATH_DELIVERED_TTL", "48h")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "48h0m0s", cfg.Queue.DeliveredTTL.String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, true},
		{"pebble without path", func(c *Config) { c.Storage.Path = "" }, true},
		{"memory without path", func(c *Config) {
			c.Storage.Driver = "memory"
			c.Storage.Path = ""
		}, false},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, true},
		{"zero ttl", func(c *Config) { c.Queue.DeliveredTTL = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
