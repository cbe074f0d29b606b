// Package config loads the topcpud configuration file. The zero-value of any
// omitted section falls back to DefaultConfig.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prabalesh/topcpu/internal/server"
)

type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Collector CollectorConfig `json:"collector" yaml:"collector"`
	Tracing   TracingConfig   `json:"tracing" yaml:"tracing"`
}

type ServerConfig struct {
	Address        string        `json:"address" yaml:"address"`
	Port           int           `json:"port" yaml:"port"`
	Capacity       int           `json:"capacity" yaml:"capacity"`
	ReadBufferSize int           `json:"readBufferSize" yaml:"readBufferSize"`
	ReadTimeout    time.Duration `json:"readTimeout" yaml:"readTimeout"`
}

type CollectorConfig struct {
	// Root is the procfs mount point; empty selects /proc.
	Root     string        `json:"root" yaml:"root"`
	CacheTTL time.Duration `json:"cacheTTL" yaml:"cacheTTL"`
}

type TracingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Output is a file path; empty writes spans to stdout.
	Output string `json:"output" yaml:"output"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() *Config {
	defaults := server.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Address:        defaults.Address,
			Port:           defaults.Port,
			Capacity:       defaults.Capacity,
			ReadBufferSize: defaults.ReadBufferSize,
		},
	}
}

// Load reads a YAML file over DefaultConfig. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var errs []error
	if err := c.ServerSettings().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if c.Collector.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("collector.cacheTTL must be >= 0"))
	}
	return errors.Join(errs...)
}

// ServerSettings converts the server section into a server.Config.
func (c *Config) ServerSettings() server.Config {
	return server.Config{
		Address:        c.Server.Address,
		Port:           c.Server.Port,
		Capacity:       c.Server.Capacity,
		ReadBufferSize: c.Server.ReadBufferSize,
		ReadTimeout:    c.Server.ReadTimeout,
	}
}
