// ABOUTME: YAML configuration for the clock display and the bridge host
// ABOUTME: Load fills unset fields from Default; command-line flags override afterwards
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/classclock/classclock-go/internal/version"
	"github.com/classclock/classclock-go/pkg/timesync"
	"gopkg.in/yaml.v3"
)

// Bridge modes
const (
	// BridgeLocal queries NTP servers from this process
	BridgeLocal = "local"
	// BridgeRemote forwards NTP queries to a bridge host
	BridgeRemote = "remote"
	// BridgeNone disables the ntp provider
	BridgeNone = "none"
)

// Config is the whole configuration file
type Config struct {
	Store   StoreConfig  `yaml:"store"`
	Bridge  BridgeConfig `yaml:"bridge"`
	Sync    SyncConfig   `yaml:"sync"`
	LogFile string       `yaml:"log_file"`

	// Settings seeds the store before its first write
	Settings timesync.Settings `yaml:"settings"`
}

// StoreConfig selects where settings live
type StoreConfig struct {
	// Path of the Badger directory; empty keeps settings in memory
	Path string `yaml:"path"`
}

// BridgeConfig describes how NTP requests leave the process
type BridgeConfig struct {
	Mode string `yaml:"mode"`
	// Addr of a remote bridge host; empty means discover via mDNS
	Addr string `yaml:"addr"`

	// Host-side settings used by classclock-bridge
	Port       int    `yaml:"port"`
	Name       string `yaml:"name"`
	EnableMDNS bool   `yaml:"mdns"`
}

// SyncConfig tunes every sync run
type SyncConfig struct {
	Samples int    `yaml:"samples"`
	Timeout string `yaml:"timeout"` // e.g. "8s"
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Mode:       BridgeLocal,
			Port:       8928,
			Name:       version.BridgeName,
			EnableMDNS: true,
		},
		Sync: SyncConfig{
			Samples: timesync.DefaultSamples,
			Timeout: timesync.DefaultTimeout.String(),
		},
		LogFile:  "classclock.log",
		Settings: timesync.DefaultSettings(),
	}
}

// Load reads the YAML file at path. A missing file yields Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Unmarshal over the defaults so omitted settings keep their values
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Bridge.Mode == "" {
		c.Bridge.Mode = d.Bridge.Mode
	}
	if c.Bridge.Port == 0 {
		c.Bridge.Port = d.Bridge.Port
	}
	if c.Bridge.Name == "" {
		c.Bridge.Name = d.Bridge.Name
	}
	if c.Sync.Samples == 0 {
		c.Sync.Samples = d.Sync.Samples
	}
	if c.Sync.Timeout == "" {
		c.Sync.Timeout = d.Sync.Timeout
	}
	if c.LogFile == "" {
		c.LogFile = d.LogFile
	}
	if c.Settings.Provider == "" {
		c.Settings.Provider = d.Settings.Provider
	}
	if c.Settings.NTPPort == 0 {
		c.Settings.NTPPort = d.Settings.NTPPort
	}
	if c.Settings.AutoSyncIntervalSec == 0 {
		c.Settings.AutoSyncIntervalSec = d.Settings.AutoSyncIntervalSec
	}
}

// Validate rejects values no component can work with
func (c *Config) Validate() error {
	switch c.Bridge.Mode {
	case BridgeLocal, BridgeRemote, BridgeNone:
	default:
		return fmt.Errorf("config: unknown bridge mode %q", c.Bridge.Mode)
	}

	if _, err := c.Sync.TimeoutDuration(); err != nil {
		return err
	}

	provider, err := timesync.ParseProvider(string(c.Settings.Provider))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Settings.Provider = provider
	return nil
}

// TimeoutDuration parses Timeout; out-of-range values are clamped by the runner
func (s SyncConfig) TimeoutDuration() (time.Duration, error) {
	if s.Timeout == "" {
		return timesync.DefaultTimeout, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("config: sync timeout: %w", err)
	}
	return d, nil
}
