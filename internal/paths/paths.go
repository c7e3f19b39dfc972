package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"workshopdl/internal/config"
)

// HomeEnv overrides the per-user data directory when set.
const HomeEnv = "WORKSHOPDL_HOME"

// AppPaths captures canonical locations for workshopdl state.
type AppPaths struct {
	Root         string
	ConfigFile   string
	ToolsDir     string
	DownloadsDir string
	LogsDir      string
	HistoryDB    string
}

// Resolve determines the data root from the optional --home flag, then the
// WORKSHOPDL_HOME environment variable, then the per-user data directory.
func Resolve(homeFlag string) (AppPaths, error) {
	var (
		root string
		err  error
	)

	switch {
	case homeFlag != "":
		root, err = filepath.Abs(homeFlag)
	case os.Getenv(HomeEnv) != "":
		root, err = filepath.Abs(os.Getenv(HomeEnv))
	default:
		root, err = defaultRoot()
	}
	if err != nil {
		return AppPaths{}, fmt.Errorf("resolve data root: %w", err)
	}

	return newAppPaths(root), nil
}

func defaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("detect user home: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "workshopdl"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "workshopdl"), nil
		}
		return filepath.Join(home, "AppData", "Local", "workshopdl"), nil
	default:
		return filepath.Join(home, ".local", "share", "workshopdl"), nil
	}
}

func newAppPaths(root string) AppPaths {
	return AppPaths{
		Root:         root,
		ConfigFile:   filepath.Join(root, "workshopdl.yaml"),
		ToolsDir:     filepath.Join(root, "steamcmd"),
		DownloadsDir: filepath.Join(root, "downloads"),
		LogsDir:      filepath.Join(root, "logs"),
		HistoryDB:    filepath.Join(root, "history.db"),
	}
}

// ApplyConfig overrides directory locations configured in the YAML file.
// Relative values are resolved against the data root.
func ApplyConfig(ap AppPaths, cfg config.Config) AppPaths {
	if dir := strings.TrimSpace(cfg.SteamCMD.Dir); dir != "" {
		ap.ToolsDir = resolveAppPath(ap.Root, dir)
	}
	if dir := strings.TrimSpace(cfg.DownloadsDir); dir != "" {
		ap.DownloadsDir = resolveAppPath(ap.Root, dir)
	}
	return ap
}

func resolveAppPath(root, value string) string {
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Join(root, value)
}

// EnsureDirs creates the root, logs and downloads directories.
func (p AppPaths) EnsureDirs() error {
	dirs := []string{p.Root, p.LogsDir, p.DownloadsDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
