// Package config manages coedit server configuration.
//
// Configuration is resolved from three layers, lowest precedence first:
// built-in defaults, an optional YAML config file (default
// ~/.config/coedit/config.yaml, overridable with COEDIT_CONFIG), and
// COEDIT_-prefixed environment variables (COEDIT_LOG_LEVEL -> log.level).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "COEDIT_"

// Config holds the server configuration.
type Config struct {
	// Listen is the address the HTTP/WebSocket server binds to.
	Listen string `koanf:"listen"`

	// Log controls the zap logger.
	Log LogConfig `koanf:"log"`

	// MDNS controls LAN announcement of the server.
	MDNS MDNSConfig `koanf:"mdns"`

	// Watch enables the project-tree change watcher that broadcasts
	// reload events to connected clients.
	Watch bool `koanf:"watch"`
}

// LogConfig controls logger level and output format.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MDNSConfig controls zeroconf service registration.
type MDNSConfig struct {
	Enabled bool   `koanf:"enabled"`
	Service string `koanf:"service"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Listen: ":3000",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		MDNS: MDNSConfig{
			Enabled: false,
			Service: "_coedit._tcp",
		},
		Watch: true,
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", c.Log.Format)
	}
	if c.MDNS.Enabled && c.MDNS.Service == "" {
		return fmt.Errorf("mdns service name must not be empty when mdns is enabled")
	}
	return nil
}

// DefaultPath returns the default config file location.
// COEDIT_CONFIG overrides it.
func DefaultPath() (string, error) {
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", "coedit", "config.yaml"), nil
}

// Load resolves the configuration from defaults, the YAML file at
// configPath (ignored when missing), and COEDIT_ environment variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	cfg := Default()

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	// COEDIT_LOG_LEVEL -> log.level, COEDIT_LISTEN -> listen, etc.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(key, "_", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
