// Package config provides configuration loading and management for proofread.
// It handles loading configuration from YAML files, applies PROOFREAD_*
// environment overrides and provides default values.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"proofread/pkg/logging"
	"proofread/pkg/orientation"
	"proofread/pkg/tiffstack"
	"proofread/pkg/volumeio"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PROOFREAD_"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Server parameters
	Server struct {
		Host string `yaml:"host" env:"HOST"`
		Port int    `yaml:"port" env:"PORT"`

		// UploadDir receives uploaded images and the masks saved for them
		UploadDir string `yaml:"uploadDir" env:"UPLOAD_DIR"`

		// AllowedOrigins lists the CORS origins; empty allows any origin
		AllowedOrigins []string `yaml:"allowedOrigins" env:"ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"server"`

	// Volume loading parameters
	Volume struct {
		// ZAxis forces the slice axis of raw stacks (0, 1 or 2); -1 picks the
		// smallest axis
		ZAxis int `yaml:"zAxis" env:"Z_AXIS"`
	} `yaml:"volume"`

	// Output parameters
	Output struct {
		// TiffCompression is "none" or "deflate"
		TiffCompression string `yaml:"tiffCompression" env:"TIFF_COMPRESSION"`
	} `yaml:"output"`

	Logging logging.LogConfig `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 5000
	cfg.Server.UploadDir = "uploads"

	cfg.Volume.ZAxis = orientation.Auto

	cfg.Output.TiffCompression = string(tiffstack.None)

	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 30
	return cfg
}

// LoadConfig loads configuration from a YAML file and applies environment
// overrides. If the file doesn't exist, the defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be corrected silently.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Volume.ZAxis < orientation.Auto || c.Volume.ZAxis > 2 {
		return fmt.Errorf("invalid zAxis %d, expected -1, 0, 1 or 2", c.Volume.ZAxis)
	}
	switch tiffstack.Compression(c.Output.TiffCompression) {
	case tiffstack.None, tiffstack.Deflate:
	default:
		return fmt.Errorf("invalid tiffCompression %q, expected %q or %q",
			c.Output.TiffCompression, tiffstack.None, tiffstack.Deflate)
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// LoadOptions converts the volume section for volumeio.
func (c *Config) LoadOptions() volumeio.LoadOptions {
	if c.Volume.ZAxis == orientation.Auto {
		return volumeio.LoadOptions{}
	}
	return volumeio.LoadOptions{Override: true, ZAxis: c.Volume.ZAxis}
}

// SaveOptions converts the output section for volumeio.
func (c *Config) SaveOptions() volumeio.SaveOptions {
	return volumeio.SaveOptions{Compression: tiffstack.Compression(c.Output.TiffCompression)}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
