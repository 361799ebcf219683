// Package config loads the server runtime configuration: a YAML file,
// then environment overrides, then defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	TickRateHz int    `yaml:"tick_rate_hz" env:"TICK_RATE_HZ"`
	FirstScene string `yaml:"first_scene" env:"FIRST_SCENE"`
	ScenesDir  string `yaml:"scenes_dir" env:"SCENES_DIR"`
	DataDir    string `yaml:"data_dir" env:"DATA_DIR"`
	Debug      bool   `yaml:"debug" env:"DEBUG"`

	Loader   LoaderConfig   `yaml:"loader" envPrefix:"LOADER_"`
	Observer ObserverConfig `yaml:"observer" envPrefix:"OBSERVER_"`
	EventLog EventLogConfig `yaml:"event_log" envPrefix:"EVENT_LOG_"`
	Index    IndexConfig    `yaml:"index" envPrefix:"INDEX_"`
}

type LoaderConfig struct {
	ReadBytesPerStep int   `yaml:"read_bytes_per_step" env:"READ_BYTES_PER_STEP"`
	NodesPerStep     int   `yaml:"nodes_per_step" env:"NODES_PER_STEP"`
	MaxBytes         int64 `yaml:"max_bytes" env:"MAX_BYTES"`
}

type ObserverConfig struct {
	Addr        string `yaml:"addr" env:"ADDR"`
	SendQueue   int    `yaml:"send_queue" env:"SEND_QUEUE"`
	AllowRemote bool   `yaml:"allow_remote" env:"ALLOW_REMOTE"`
}

type EventLogConfig struct {
	Disabled bool `yaml:"disabled" env:"DISABLED"`
}

type IndexConfig struct {
	Disabled  bool `yaml:"disabled" env:"DISABLED"`
	QueueSize int  `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// EnvPrefix is prepended to every environment override,
// e.g. SCENEKEEPER_LOADER_NODES_PER_STEP.
const EnvPrefix = "SCENEKEEPER_"

// Load reads path (optional), applies environment overrides and fills
// defaults. The result is validated.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ParseEnv overlays SCENEKEEPER_* environment variables onto target.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func Defaults() Config {
	return Config{
		TickRateHz: 60,
		ScenesDir:  "./scenes",
		DataDir:    "./data",
		Loader: LoaderConfig{
			ReadBytesPerStep: 16 << 10,
			NodesPerStep:     64,
			MaxBytes:         8 << 20,
		},
		Observer: ObserverConfig{
			Addr:      "127.0.0.1:8090",
			SendQueue: 256,
		},
		Index: IndexConfig{
			QueueSize: 4096,
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	d := Defaults()
	c.FirstScene = strings.TrimSpace(c.FirstScene)
	c.ScenesDir = strings.TrimSpace(c.ScenesDir)
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.TickRateHz == 0 {
		c.TickRateHz = d.TickRateHz
	}
	if c.Loader.ReadBytesPerStep == 0 {
		c.Loader.ReadBytesPerStep = d.Loader.ReadBytesPerStep
	}
	if c.Loader.NodesPerStep == 0 {
		c.Loader.NodesPerStep = d.Loader.NodesPerStep
	}
	if c.Loader.MaxBytes == 0 {
		c.Loader.MaxBytes = d.Loader.MaxBytes
	}
	if c.Observer.SendQueue == 0 {
		c.Observer.SendQueue = d.Observer.SendQueue
	}
	if c.Index.QueueSize == 0 {
		c.Index.QueueSize = d.Index.QueueSize
	}
}

func (c Config) Validate() error {
	if c.TickRateHz < 1 || c.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz must be in [1, 1000]")
	}
	if c.ScenesDir == "" {
		return fmt.Errorf("scenes_dir must not be empty")
	}
	if c.Loader.ReadBytesPerStep < 0 || c.Loader.NodesPerStep < 0 || c.Loader.MaxBytes < 0 {
		return fmt.Errorf("loader limits must be >= 0")
	}
	if int64(c.Loader.ReadBytesPerStep) > c.Loader.MaxBytes {
		return fmt.Errorf("loader.read_bytes_per_step must not exceed loader.max_bytes")
	}
	if c.Observer.SendQueue < 0 || c.Index.QueueSize < 0 {
		return fmt.Errorf("queue sizes must be >= 0")
	}
	if !c.EventLog.Disabled || !c.Index.Disabled {
		if c.DataDir == "" {
			return fmt.Errorf("data_dir is required when the event log or index is enabled")
		}
	}
	return nil
}
