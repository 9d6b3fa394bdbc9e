package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Storage   StorageConfig   `toml:"storage"`
	Sync      SyncConfig      `toml:"sync"`
	Downloads DownloadsConfig `toml:"downloads"`
}

// ServerConfig contains the remote progress service connection settings.
type ServerConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
	UserID  string `toml:"user_id"`
	Metered bool   `toml:"metered"` // treat the connection as metered
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// StorageConfig contains the hot/cold tier roots and lifecycle thresholds.
type StorageConfig struct {
	HotRoot        string `toml:"hot_root"`
	ColdRoot       string `toml:"cold_root"`
	InactivityDays int    `toml:"inactivity_days"` // hot->cold after this many idle days
}

// SyncConfig contains sync cadence settings, in seconds.
type SyncConfig struct {
	SweepInterval    int     `toml:"sweep_interval"`
	PlayingUnmetered int     `toml:"playing_unmetered"`
	PlayingMetered   int     `toml:"playing_metered"`
	PauseTimeout     int     `toml:"pause_timeout"`
	RateLimit        float64 `toml:"rate_limit"` // sweep pushes per second
}

// DownloadsConfig contains download manager settings.
type DownloadsConfig struct {
	Concurrency int    `toml:"concurrency"`
	JournalPath string `toml:"journal_path"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
