// Package ops loads and validates the runtime configuration.
package ops

import (
	"os"
	"time"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"main/internal/pace"
	"main/internal/risk"
	"main/internal/session"
	"main/internal/source/wsfeed"
	"main/pkg/exception"
)

// Store backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Strategy names the config may enable.
const (
	StrategyExampleValue = "example_value"
)

// Config mirrors the YAML config layout.
type Config struct {
	Session    session.Config   `yaml:"session"`
	Pace       pace.Config      `yaml:"pace"`
	Store      StoreConfig      `yaml:"store"`
	Feed       FeedConfig       `yaml:"feed"`
	Risk       risk.Config      `yaml:"risk"`
	Strategies []StrategyConfig `yaml:"strategies"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Profiling  ProfilingConfig  `yaml:"profiling"`
}

// StoreConfig selects and locates the persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

// FeedConfig selects the data source.
type FeedConfig struct {
	// Kind is "sim" or "ws".
	Kind string        `yaml:"kind"`
	WS   wsfeed.Config `yaml:"ws"`
}

// StrategyConfig enables one strategy with its parameters.
type StrategyConfig struct {
	Name             string  `yaml:"name"`
	Enabled          bool    `yaml:"enabled"`
	AllocatedCapital float64 `yaml:"allocatedCapital"`
	MinMarketCap     float64 `yaml:"minMarketCap"`
}

// RuntimeConfig tunes the orchestrator.
type RuntimeConfig struct {
	CheckpointInterval time.Duration `yaml:"checkpointInterval"`
	ShutdownTimeout    time.Duration `yaml:"shutdownTimeout"`
	SlippageBps        float64       `yaml:"slippageBps"`
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enable        bool   `yaml:"enable"`
	ServerAddress string `yaml:"serverAddress"`
	AppName       string `yaml:"appName"`
}

func (c Config) withDefaults() Config {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendFile
	}
	if c.Store.Backend == BackendFile && c.Store.Path == "" {
		c.Store.Path = "./data"
	}
	if c.Feed.Kind == "" {
		c.Feed.Kind = "sim"
	}
	if c.Runtime.CheckpointInterval <= 0 {
		c.Runtime.CheckpointInterval = 5 * time.Minute
	}
	if c.Runtime.ShutdownTimeout <= 0 {
		c.Runtime.ShutdownTimeout = 10 * time.Second
	}
	if c.Profiling.AppName == "" {
		c.Profiling.AppName = "trader"
	}
	return c
}

// Validate rejects configurations the runtime cannot start with.
func (c Config) Validate() error {
	if err := c.Pace.Validate(); err != nil {
		return errors.Wrap(err, "pace")
	}
	switch c.Store.Backend {
	case BackendFile:
		if c.Store.Path == "" {
			return exception.ErrMissingPath
		}
	case BackendPostgres:
		if c.Store.DSN == "" {
			return exception.ErrMissingDSN
		}
	default:
		return exception.ErrUnknownBackend
	}
	if c.Feed.Kind != "sim" && c.Feed.Kind != "ws" {
		return errors.Errorf("unknown feed kind %q", c.Feed.Kind)
	}
	if c.Feed.Kind == "ws" && c.Feed.WS.URL == "" {
		return errors.New("feed.ws.url is empty")
	}
	for _, s := range c.Strategies {
		if s.Name != StrategyExampleValue {
			return exception.ErrUnknownStrategy
		}
	}
	return nil
}

// Load reads a YAML config file, fills defaults, and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
