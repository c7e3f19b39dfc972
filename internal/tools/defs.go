package tools

import (
	"fmt"
	"net/url"
	"path"
	"runtime"
	"strings"
	"sync"
)

// Platform names a supported host family.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "macos"
)

// Release describes where the SteamCMD archive for a platform lives and
// which file inside it is the entry point.
type Release struct {
	URL        string
	Executable string
}

var defaultReleases = map[Platform]Release{
	PlatformWindows: {
		URL:        "https://steamcdn-a.akamaihd.net/client/installer/steamcmd.zip",
		Executable: "steamcmd.exe",
	},
	PlatformLinux: {
		URL:        "https://steamcdn-a.akamaihd.net/client/installer/steamcmd_linux.tar.gz",
		Executable: "steamcmd.sh",
	},
	PlatformMacOS: {
		URL:        "https://steamcdn-a.akamaihd.net/client/installer/steamcmd_osx.tar.gz",
		Executable: "steamcmd.sh",
	},
}

var (
	hostOnce     sync.Once
	hostPlatform Platform
	hostErr      error
)

// HostPlatform detects the platform of the running process. Detection happens
// once per process.
func HostPlatform() (Platform, error) {
	hostOnce.Do(func() {
		hostPlatform, hostErr = PlatformFor(runtime.GOOS)
	})
	return hostPlatform, hostErr
}

// PlatformFor maps a GOOS value to a supported platform.
func PlatformFor(goos string) (Platform, error) {
	switch goos {
	case "windows":
		return PlatformWindows, nil
	case "linux":
		return PlatformLinux, nil
	case "darwin":
		return PlatformMacOS, nil
	default:
		return "", &ProvisionError{Kind: ErrUnsupportedPlatform, Err: fmt.Errorf("GOOS %q", goos)}
	}
}

// DefaultRelease returns the built-in release for a platform.
func DefaultRelease(p Platform) (Release, bool) {
	rel, ok := defaultReleases[p]
	return rel, ok
}

// ArchiveName infers the archive file name from the release URL.
func (r Release) ArchiveName() (string, error) {
	parsed, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("parse download url: %w", err)
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "" || base == "/" {
		return "", fmt.Errorf("infer archive name from url: %s", r.URL)
	}
	return base, nil
}

type archiveFormat string

const (
	archiveFormatUnknown archiveFormat = ""
	archiveFormatZip     archiveFormat = "zip"
	archiveFormatTarGz   archiveFormat = "tar.gz"
)

func formatFromName(name string) archiveFormat {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return archiveFormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return archiveFormatTarGz
	default:
		return archiveFormatUnknown
	}
}
