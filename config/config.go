// Package config loads daemon configuration from a YAML file, a .env file,
// and environment variables, with the environment taking precedence over
// the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Queue   QueueConfig   `yaml:"queue"`
	Resolve ResolveConfig `yaml:"resolve"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	// Driver is "memory" or "pebble".
	Driver string `yaml:"driver"`
	// Path is the pebble database directory.
	Path string `yaml:"path"`
	// OpTimeout bounds every storage call.
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// QueueConfig tunes the delivered-message sweep.
type QueueConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	DeliveredTTL  time.Duration `yaml:"delivered_ttl"`
}

// ResolveConfig rate-limits public key resolution per caller.
type ResolveConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// LoggingConfig tunes log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:      "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:    "pebble",
			Path:      "./telepath-data",
			OpTimeout: 5 * time.Second,
		},
		Queue: QueueConfig{
			SweepInterval: time.Hour,
			DeliveredTTL:  24 * time.Hour,
		},
		Resolve: ResolveConfig{
			RPS:   5,
			Burst: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration: defaults, then the YAML file at path (if path
// is non-empty), then a .env file (if present), then process environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Best effort; a missing .env is not an error.
	_ = godotenv.Load()

	applyEnv(&cfg)
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TELEPATH_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("TELEPATH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("TELEPATH_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("TELEPATH_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("TELEPATH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TELEPATH_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TELEPATH_DELIVERED_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.DeliveredTTL = d
		}
	}
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "pebble":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "pebble" && c.Storage.Path == "" {
		return fmt.Errorf("storage path is required for the pebble driver")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Queue.DeliveredTTL <= 0 {
		return fmt.Errorf("delivered_ttl must be positive")
	}
	return nil
}

// ListenAddr is the host:port string for the HTTP listener.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
