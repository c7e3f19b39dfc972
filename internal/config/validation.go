package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotConfigured reports that no valid installation folder is set.
var ErrNotConfigured = errors.New("installation folder not configured")

var knownPlatforms = map[string]struct{}{
	"windows": {},
	"linux":   {},
	"macos":   {},
}

// Validate checks the configuration for structural problems and returns them
// joined. An unset installation folder is not a validation error; use
// CheckInstallationFolder for that.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Game.AppID) == "" {
		errs = append(errs, errors.New("game.app_id is empty"))
	} else if !isDigits(c.Game.AppID) {
		errs = append(errs, fmt.Errorf("game.app_id %q is not numeric", c.Game.AppID))
	}
	if strings.ContainsAny(c.Game.MarkerFile, `/\`) {
		errs = append(errs, fmt.Errorf("game.marker_file %q must be a bare file name", c.Game.MarkerFile))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel))
	}
	for platform, src := range c.SteamCMD.Sources {
		if _, ok := knownPlatforms[platform]; !ok {
			errs = append(errs, fmt.Errorf("steamcmd.sources: unknown platform %q", platform))
			continue
		}
		u, err := url.Parse(src.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("steamcmd.sources.%s.url %q is not an http(s) url", platform, src.URL))
		}
	}

	return errors.Join(errs...)
}

// CheckInstallationFolder verifies dir contains the game's marker file.
func (c Config) CheckInstallationFolder(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return ErrNotConfigured
	}
	marker := filepath.Join(dir, c.Game.MarkerFile)
	info, err := os.Stat(marker)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s does not contain %s", ErrNotConfigured, dir, c.Game.MarkerFile)
		}
		return fmt.Errorf("stat %s: %w", marker, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrNotConfigured, marker)
	}
	return nil
}

// Configured reports whether submissions are allowed: an installation folder
// is set and contains the marker file.
func (c Config) Configured() bool {
	return c.CheckInstallationFolder(c.InstallationFolder) == nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
