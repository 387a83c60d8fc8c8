// Package config loads the fleet's tunable parameters from a TOML file,
// falling back to documented defaults when no file is present.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultConfigFile is the config file name looked up in the current
// directory when no explicit path is given.
const DefaultConfigFile = "smartmifan.toml"

// Config holds every tunable named in the external interface, plus
// logging and Fast-Connect settings.
type Config struct {
	Debug bool `toml:"debug"`
	Log   struct {
		Level string `toml:"level"`
	} `toml:"log"`

	Network struct {
		UDPPort int `toml:"udp_port"`
	} `toml:"network"`

	Timing struct {
		TTLMs             int `toml:"ttl_ms"`
		CommandCooldownMs int `toml:"command_cooldown_ms"`
		DiscoveryMs       int `toml:"discovery_ms"`
	} `toml:"timing"`

	FastConnect struct {
		Enabled bool              `toml:"enabled"`
		Entries []FastConnectTOML `toml:"entries"`
	} `toml:"fast_connect"`
}

// FastConnectTOML is one [[fast_connect.entries]] table entry.
type FastConnectTOML struct {
	IP    string `toml:"ip"`
	Token string `toml:"token"`
	Model string `toml:"model"`
}

// NewConfig returns a Config populated with documented defaults: TTL 60s,
// coalescing window 100ms, port 54321.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.Log.Level = "info"
	cfg.Network.UDPPort = 54321
	cfg.Timing.TTLMs = 60000
	cfg.Timing.CommandCooldownMs = 100
	cfg.Timing.DiscoveryMs = 4000
	return cfg
}

// LoadConfig loads configPath if given, else DefaultConfigFile if it
// exists in the current directory, else returns documented defaults
// unmodified.
func LoadConfig(configPath string) (*Config, error) {
	cfg := NewConfig()

	filePath := configPath
	if filePath == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			filePath = DefaultConfigFile
		} else {
			return cfg, nil
		}
	}

	if _, err := toml.DecodeFile(filePath, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
