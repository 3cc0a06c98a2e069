package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"oscillate/internal/utils"
)

type Peer struct {
	Address string `yaml:"address" validate:"required,url"`
}

type MainConfig struct {
	Port          string        `yaml:"port" validate:"required,numeric"`
	WebPath       string        `yaml:"web_path"`
	Address       string        `yaml:"address" validate:"omitempty,url"`
	LogPath       string        `yaml:"log_path"`
	LogLevel      string        `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	GlobalSecret  string        `yaml:"global_secret" validate:"omitempty,min=16"`
	SendDelay     time.Duration `yaml:"send_delay" validate:"gte=0"`
	SyncInterval  time.Duration `yaml:"sync_interval" validate:"gt=0"`
	ProbeInterval time.Duration `yaml:"probe_interval" validate:"gte=0"`
	InboxSize     int           `yaml:"inbox_size" validate:"gt=0"`
	InboundLimit  string        `yaml:"inbound_limit"`
	BanDuration   time.Duration `yaml:"ban_duration" validate:"gte=0"`
	Peers         []Peer        `yaml:"peers" validate:"dive"`
}

// DefaultMainConfig returns the settings used for keys missing from the file.
func DefaultMainConfig() MainConfig {
	return MainConfig{
		Port:          "25555",
		WebPath:       "/oscillate",
		LogLevel:      "info",
		SendDelay:     time.Second,
		SyncInterval:  5 * time.Second,
		ProbeInterval: 5 * time.Second,
		InboxSize:     64,
		InboundLimit:  "200/10s",
		BanDuration:   time.Minute,
	}
}

// LoadMainConfig reads <basePath>/config/oscillate.yml over the defaults.
// A missing file is not an error. An empty basePath means the executable's directory.
func LoadMainConfig(basePath string) (*MainConfig, error) {
	if basePath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Dir(exePath)
	}
	configPath := filepath.Join(basePath, "config", "oscillate.yml")

	cfg := DefaultMainConfig()
	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills derived fields and validates the configuration.
func (c *MainConfig) Normalize() error {
	c.WebPath = utils.CanonicalizeWebPath(c.WebPath)
	if c.Address == "" {
		c.Address = "http://127.0.0.1:" + c.Port
	}
	c.Address = utils.CanonicalizeAddress(c.Address)
	for i := range c.Peers {
		c.Peers[i].Address = utils.CanonicalizeAddress(c.Peers[i].Address)
	}

	if err := utils.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.InboundLimit != "" {
		if _, _, err := utils.ParseRate(c.InboundLimit); err != nil {
			return fmt.Errorf("invalid config: inbound_limit: %w", err)
		}
	}
	return nil
}

// SeedAddresses returns the configured peer addresses.
func (c *MainConfig) SeedAddresses() []string {
	out := make([]string, 0, len(c.Peers))
	for _, p := range c.Peers {
		out = append(out, p.Address)
	}
	return out
}
