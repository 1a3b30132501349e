// Package config loads config.yaml with .env and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"heartrisk/db"
	"heartrisk/logging"
)

const (
	EnvHTTPPort    = "HEARTRISK_HTTP_PORT"
	EnvDatabaseURL = "DATABASE_URL"
	EnvDBPath      = "HEARTRISK_DB_PATH"
	EnvArtifactDir = "HEARTRISK_ARTIFACT_DIR"
	EnvLogLevel    = "LOG_LEVEL"
)

// Config is the full service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Log      logging.Config `yaml:"log"`
	ML       MLConfig       `yaml:"ml"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// MLConfig covers artifact serving and the train command.
type MLConfig struct {
	ArtifactDir    string         `yaml:"artifact_dir"`
	WatchArtifacts bool           `yaml:"watch_artifacts"`
	ReloadDebounce time.Duration  `yaml:"reload_debounce"`
	CacheSize      int            `yaml:"cache_size"`
	Training       TrainingConfig `yaml:"training"`
}

type TrainingConfig struct {
	DataPath  string  `yaml:"data_path"`
	Trees     int     `yaml:"trees"`
	MaxDepth  int     `yaml:"max_depth"`
	Seed      int64   `yaml:"seed"`
	TestRatio float64 `yaml:"test_ratio"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:           8080,
			Timeout:        30 * time.Second,
			MaxBodyBytes:   1 << 20,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:   db.DriverSQLite,
			Path:     "data/heartrisk.db",
			MaxConns: 10,
		},
		Log: logging.DefaultConfig(),
		ML: MLConfig{
			ArtifactDir:    "ml_models",
			WatchArtifacts: true,
			ReloadDebounce: 500 * time.Millisecond,
			CacheSize:      1024,
			Training: TrainingConfig{
				DataPath:  "Data/Heartdata.csv",
				Trees:     100,
				Seed:      42,
				TestRatio: 0.2,
			},
		},
	}
}

// Load reads path over the defaults, then applies .env and environment
// overrides. A missing config file or .env is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvHTTPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHTTPPort, err)
		}
		c.HTTP.Port = port
	}
	if v := getenv(EnvDatabaseURL); v != "" {
		c.Database.URL = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Database.Driver = db.DriverPostgres
		}
	}
	if v := getenv(EnvDBPath); v != "" {
		c.Database.Path = v
	}
	if v := getenv(EnvArtifactDir); v != "" {
		c.ML.ArtifactDir = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate rejects configurations serve cannot start with.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port %d out of range", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case db.DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path required for sqlite")
		}
	case db.DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("database url required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.ML.ArtifactDir == "" {
		return errors.New("ml artifact_dir required")
	}
	if c.ML.CacheSize < 0 {
		return errors.New("ml cache_size must not be negative")
	}
	if r := c.ML.Training.TestRatio; r <= 0 || r >= 1 {
		return fmt.Errorf("ml training test_ratio %v must be in (0, 1)", r)
	}
	return c.Log.Validate()
}

// DB converts the database section for db.Open.
func (c Config) DB() db.Config {
	return db.Config{
		Driver:   c.Database.Driver,
		Path:     c.Database.Path,
		URL:      c.Database.URL,
		MaxConns: c.Database.MaxConns,
	}
}
