// Package config loads the tool's settings file and environment overrides.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"

	"github.com/kism/maxmind-geoip-nginx/internal/support"
)

// DefaultSettingsPath is where the settings file lives unless overridden.
const DefaultSettingsPath = "/etc/maxmind-geoip-nginx/settings.toml"

//go:embed default_settings.toml
var defaultSettings []byte

type Config struct {
	MaxMind struct {
		AccountID   string `toml:"account_id"`
		LicenseKey  string `toml:"license_key"`
		DatabaseDir string `toml:"database_dir"`
		MaxAge      Timer  `toml:"max_age"`
	} `toml:"maxmind"`

	Merge struct {
		Enabled           bool    `toml:"enabled"`
		CoverageThreshold float64 `toml:"coverage_threshold"`
	} `toml:"merge"`

	Output struct {
		Path string `toml:"path"`
	} `toml:"output"`
}

// Load reads the settings file at path. A missing file is created from the
// embedded defaults first, so an initial run leaves an editable template
// behind. MaxMind credentials from the environment (MAXMIND_ACCOUNT_ID,
// MAXMIND_LICENSE_KEY) override the file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read settings file: %w", err)
		}

		log.Warn("Settings file not found, creating with default configuration", "path", path)
		if err := writeDefault(path); err != nil {
			return Config{}, err
		}
		data = defaultSettings
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse settings file: %w", err)
	}

	cfg.MaxMind.AccountID = support.GetEnv("MAXMIND_ACCOUNT_ID", cfg.MaxMind.AccountID)
	cfg.MaxMind.LicenseKey = support.GetEnv("MAXMIND_LICENSE_KEY", cfg.MaxMind.LicenseKey)

	return cfg, nil
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := os.WriteFile(path, defaultSettings, 0o644); err != nil {
		return fmt.Errorf("write default settings file: %w", err)
	}
	return nil
}
