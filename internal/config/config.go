package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the persisted workshopdl settings.
type Config struct {
	Version            int            `yaml:"version"`
	InstallationFolder string         `yaml:"installation_folder"`
	Game               GameConfig     `yaml:"game"`
	Concurrency        int            `yaml:"concurrency"`
	SteamCMD           SteamCMDConfig `yaml:"steamcmd"`
	DownloadsDir       string         `yaml:"downloads_dir,omitempty"`
	LogLevel           string         `yaml:"log_level"`
}

// GameConfig identifies the game whose workshop items are installed.
type GameConfig struct {
	AppID      string `yaml:"app_id"`
	MarkerFile string `yaml:"marker_file"`
}

// SteamCMDConfig controls where the download tool lives and where it is
// fetched from.
type SteamCMDConfig struct {
	Dir     string                  `yaml:"dir,omitempty"`
	Sources map[string]SourceConfig `yaml:"sources,omitempty"`
}

// SourceConfig overrides the release archive for one platform
// (windows, linux or macos).
type SourceConfig struct {
	URL        string `yaml:"url"`
	Executable string `yaml:"executable,omitempty"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Version: 1,
		Game: GameConfig{
			AppID:      "1942280",
			MarkerFile: "Brotato.exe",
		},
		Concurrency: 1,
		LogLevel:    "info",
	}
}

// Load reads the YAML configuration from disk if it exists, otherwise returns
// the default configuration.
func Load(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults ensures fields fall back to sensible defaults when the YAML
// omits them.
func (c *Config) ApplyDefaults() {
	defaults := Default()

	if c.Version == 0 {
		c.Version = defaults.Version
	}
	if strings.TrimSpace(c.Game.AppID) == "" {
		c.Game.AppID = defaults.Game.AppID
	}
	if strings.TrimSpace(c.Game.MarkerFile) == "" {
		c.Game.MarkerFile = defaults.Game.MarkerFile
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
}

// Marshal returns the YAML encoding of the configuration.
func (c Config) Marshal() ([]byte, error) {
	buf, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return buf, nil
}

// Save writes the configuration to path, replacing any previous file
// atomically.
func Save(path string, cfg Config) error {
	buf, err := cfg.Marshal()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "workshopdl-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("write config temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// SourceFor returns the configured archive override for a platform.
func (c Config) SourceFor(platform string) (SourceConfig, bool) {
	src, ok := c.SteamCMD.Sources[platform]
	if !ok || strings.TrimSpace(src.URL) == "" {
		return SourceConfig{}, false
	}
	return src, true
}
