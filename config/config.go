package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/opd-ai/glitter"
	"github.com/sirupsen/logrus"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GLITTER"

// Source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceImages    = "images"
)

// Config holds all glitterd configuration.
type Config struct {
	Detector glitter.Patch `yaml:"detector" envconfig:"DETECTOR"`
	Codes    []uint32      `yaml:"codes" envconfig:"CODES"`
	Source   SourceConfig  `yaml:"source" envconfig:"SOURCE"`
	Server   ServerConfig  `yaml:"server" envconfig:"SERVER"`
	Logging  LogConfig     `yaml:"logging" envconfig:"LOGGING"`
}

// SourceConfig selects the frame source.
type SourceConfig struct {
	Kind       string   `yaml:"kind" envconfig:"KIND"`
	Width      int      `yaml:"width" envconfig:"WIDTH"`
	Height     int      `yaml:"height" envconfig:"HEIGHT"`
	SquareSize int      `yaml:"squareSize" envconfig:"SQUARE_SIZE"`
	Images     []string `yaml:"images" envconfig:"IMAGES"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
	Addr    string `yaml:"addr" envconfig:"ADDR"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Codes: []uint32{1},
		Source: SourceConfig{
			Kind:       SourceSynthetic,
			Width:      1280,
			Height:     720,
			SquareSize: 96,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves the configuration from defaults, the YAML file at path
// (skipped when path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "config.Load",
		"path":     path,
		"source":   cfg.Source.Kind,
		"codes":    len(cfg.Codes),
	}).Debug("Configuration loaded")

	return cfg, nil
}

// Parse decodes YAML data over cfg. Fields absent from data keep their
// current values.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Options returns the detector options: defaults with the configured
// overrides applied.
func (c *Config) Options() glitter.Options {
	return glitter.DefaultOptions().Merge(c.Detector)
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if err := c.Options().Validate(); err != nil {
		return err
	}
	for _, code := range c.Codes {
		if code == 0 {
			return fmt.Errorf("%w: code 0 is reserved", ErrInvalidConfig)
		}
	}

	switch c.Source.Kind {
	case SourceSynthetic:
		if c.Source.Width <= 0 || c.Source.Height <= 0 {
			return fmt.Errorf("%w: synthetic source needs a size, got %dx%d",
				ErrInvalidConfig, c.Source.Width, c.Source.Height)
		}
	case SourceImages:
		if len(c.Source.Images) == 0 {
			return fmt.Errorf("%w: image source needs at least one path", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSource, c.Source.Kind)
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Logging.Format)
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("%w: server enabled without an address", ErrInvalidConfig)
	}
	return nil
}

// ConfigureLogging applies the logging section to the standard logrus logger.
func (c *Config) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	logrus.SetLevel(level)
	if c.Logging.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
