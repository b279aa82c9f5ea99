package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's configuration tree, loaded from a single YAML
// file. The core packages only ever see already-populated *Config values;
// loading and defaulting is the cmd/conduitd binary's concern.
type Config struct {
	Bridge     BridgeConfig     `yaml:"bridge"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	CLI        CLIConfig        `yaml:"cli"`
	Security   SecurityConfig   `yaml:"security"`
	Permission PermissionConfig `yaml:"permission"`
	Storage    StorageConfig    `yaml:"storage"`
	HTTP       HTTPConfig       `yaml:"http"`
}

type BridgeConfig struct {
	PortRangeStart int `yaml:"port_range_start"`
	PortRangeEnd   int `yaml:"port_range_end"`
}

type SessionsConfig struct {
	MaxActive int `yaml:"max_active"`
}

type CLIConfig struct {
	Path string `yaml:"path"`
}

type SecurityConfig struct {
	AccessToken string `yaml:"access_token"`
}

// PermissionConfig carries the connect-unrelated, reserved-but-currently-
// unused permission timeout and the seed-file path for hot-reloaded
// global default rules.
type PermissionConfig struct {
	TimeoutMs int    `yaml:"timeout_ms"`
	SeedFile  string `yaml:"seed_file"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// LoadConfig reads and defaults a Config from a YAML file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if envToken := os.Getenv("CONDUIT_ACCESS_TOKEN"); envToken != "" {
		cfg.Security.AccessToken = envToken
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Bridge.PortRangeStart == 0 {
		cfg.Bridge.PortRangeStart = 8100
	}
	if cfg.Bridge.PortRangeEnd == 0 {
		cfg.Bridge.PortRangeEnd = 8199
	}
	if cfg.Sessions.MaxActive == 0 {
		cfg.Sessions.MaxActive = 32
	}
	if cfg.CLI.Path == "" {
		cfg.CLI.Path = "agent"
	}
	if cfg.Permission.SeedFile == "" {
		cfg.Permission.SeedFile = "permission_rules.yaml"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/conduitd"
	}
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = "127.0.0.1:8080"
	}
}
