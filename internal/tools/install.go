package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"workshopdl/internal/logx"
)

const userAgent = "workshopdl/1.0"

// attemptTimeout bounds one shared provisioning attempt.
const attemptTimeout = 15 * time.Minute

// Options configures a Provisioner.
type Options struct {
	// Dir is the root holding per-platform installs, the manifest and
	// temporary downloads.
	Dir string
	// GOOS overrides runtime detection; empty uses the host platform.
	GOOS string
	// Releases overrides the built-in archive per platform.
	Releases map[Platform]Release
	Client   *http.Client
	Logger   *zap.Logger
	// Notify receives human-readable progress notices.
	Notify func(msg string)
}

// Provisioner guarantees a runnable SteamCMD exists under Dir, fetching and
// unpacking it on first use.
type Provisioner struct {
	dir      string
	platform Platform
	platErr  error
	release  Release
	client   *http.Client
	logger   *zap.Logger
	notify   func(string)

	group singleflight.Group

	mu    sync.Mutex
	state ToolState
	path  string
}

// New builds a Provisioner. Platform problems are reported by Ensure.
func New(opts Options) *Provisioner {
	p := &Provisioner{
		dir:    opts.Dir,
		client: opts.Client,
		logger: logx.OrNop(opts.Logger).Named("tools"),
		notify: opts.Notify,
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 10 * time.Minute}
	}

	if opts.GOOS != "" {
		p.platform, p.platErr = PlatformFor(opts.GOOS)
	} else {
		p.platform, p.platErr = HostPlatform()
	}
	if p.platErr == nil {
		rel, ok := opts.Releases[p.platform]
		if !ok || rel.URL == "" {
			rel, _ = DefaultRelease(p.platform)
		}
		if rel.Executable == "" {
			def, _ := DefaultRelease(p.platform)
			rel.Executable = def.Executable
		}
		p.release = rel
	}
	return p
}

// InstallDir is the conventional per-platform install directory.
func (p *Provisioner) InstallDir() string {
	return filepath.Join(p.dir, string(p.platform))
}

// ExecutablePath is where the tool's entry point lives once installed.
func (p *Provisioner) ExecutablePath() string {
	return filepath.Join(p.InstallDir(), p.release.Executable)
}

// State reports the current provisioning state.
func (p *Provisioner) State() ToolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Ensure returns the path to a runnable SteamCMD, installing it when absent.
// An existing executable is returned without network access or filesystem
// changes. Concurrent calls share one install attempt.
func (p *Provisioner) Ensure(ctx context.Context) (string, error) {
	if p.platErr != nil {
		p.setState(StateFailed, "")
		return "", p.platErr
	}
	if path, ok := p.checkReady(); ok {
		return path, nil
	}

	return p.shared(ctx, "ensure", p.install)
}

// Install forces a fresh download and extraction even when a copy exists.
func (p *Provisioner) Install(ctx context.Context) (string, error) {
	if p.platErr != nil {
		p.setState(StateFailed, "")
		return "", p.platErr
	}
	return p.shared(ctx, "install", func(ctx context.Context) (string, error) {
		return p.installLocked(ctx, true)
	})
}

// shared runs fn once for all concurrent callers using the same key. The
// attempt is bounded by attemptTimeout rather than by any one caller's
// context; each caller stops waiting when its own context ends.
func (p *Provisioner) shared(ctx context.Context, key string, fn func(context.Context) (string, error)) (string, error) {
	ch := p.group.DoChan(key, func() (any, error) {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), attemptTimeout)
		defer cancel()
		return fn(actx)
	})
	select {
	case res := <-ch:
		if res.Shared {
			p.logger.Debug("joined in-flight provisioning", zap.String("key", key))
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("provision steamcmd: %w", ctx.Err())
	}
}

// Status combines the in-memory state with the manifest record.
func (p *Provisioner) Status() Status {
	st := Status{Platform: p.platform, SourceURL: p.release.URL}
	if p.platErr != nil {
		st.State = StateFailed
		st.Error = p.platErr.Error()
		return st
	}
	if path, ok := p.checkReady(); ok {
		st.Path = path
	}
	st.State = p.State()

	manifest, err := loadManifest(p.dir)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	if entry, ok := manifest.Entries[p.platform]; ok && entry.Path == st.Path {
		st.Checksum = entry.Checksum
		st.InstalledAt = entry.InstalledAt
		st.SourceURL = entry.SourceURL
	}
	return st
}

func (p *Provisioner) checkReady() (string, bool) {
	path := p.ExecutablePath()
	if isExecutable(path) {
		p.setState(StateReady, path)
		return path, true
	}
	p.mu.Lock()
	if p.state == StateReady {
		p.state = StateMissing
		p.path = ""
	}
	p.mu.Unlock()
	return "", false
}

func (p *Provisioner) setState(state ToolState, path string) {
	p.mu.Lock()
	p.state = state
	p.path = path
	p.mu.Unlock()
}

func (p *Provisioner) notice(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.logger.Info(msg)
	if p.notify != nil {
		p.notify(msg)
	}
}

func (p *Provisioner) install(ctx context.Context) (string, error) {
	return p.installLocked(ctx, false)
}

func (p *Provisioner) installLocked(ctx context.Context, force bool) (string, error) {
	if !force {
		if path, ok := p.checkReady(); ok {
			return path, nil
		}
	}

	unlock, err := acquireInstallLock(ctx, p.dir)
	if err != nil {
		p.setState(StateFailed, "")
		return "", &ProvisionError{Kind: ErrDownloadFailed, Path: p.dir, Err: err}
	}
	defer unlock()

	// Another process may have finished while we waited for the lock.
	if !force {
		if path, ok := p.checkReady(); ok {
			return path, nil
		}
	}

	path, err := p.fetchAndExtract(ctx)
	if err != nil {
		p.setState(StateFailed, "")
		p.logger.Error("provisioning failed", zap.Error(err))
		return "", err
	}
	p.setState(StateReady, path)
	p.notice("steamcmd ready at %s", path)
	return path, nil
}

func (p *Provisioner) fetchAndExtract(ctx context.Context) (string, error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", &ProvisionError{Kind: ErrDownloadFailed, Path: p.dir, Err: fmt.Errorf("prepare tools dir: %w", err)}
	}

	archiveName, err := p.release.ArchiveName()
	if err != nil {
		return "", &ProvisionError{Kind: ErrDownloadFailed, Err: err}
	}

	p.setState(StateDownloading, "")
	p.notice("downloading steamcmd from %s", p.release.URL)
	archivePath, err := p.download(ctx, archiveName)
	if err != nil {
		return "", &ProvisionError{Kind: ErrDownloadFailed, Path: p.release.URL, Err: err}
	}
	defer func() { _ = os.Remove(archivePath) }()

	p.setState(StateExtracting, "")
	p.notice("extracting %s", archiveName)

	format := formatFromName(archiveName)
	if format == archiveFormatUnknown {
		return "", &ProvisionError{Kind: ErrExtractFailed, Path: archiveName, Err: errors.New("unrecognized archive extension")}
	}

	extractDir, err := os.MkdirTemp(p.dir, string(p.platform)+"-extract-")
	if err != nil {
		return "", &ProvisionError{Kind: ErrExtractFailed, Path: p.dir, Err: fmt.Errorf("create extract dir: %w", err)}
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(extractDir)
		}
	}()

	if err := extractArchive(format, archivePath, extractDir); err != nil {
		return "", &ProvisionError{Kind: ErrExtractFailed, Path: archiveName, Err: err}
	}

	staged := filepath.Join(extractDir, p.release.Executable)
	if ok, _ := regularFile(staged); !ok {
		return "", &ProvisionError{Kind: ErrExtractFailed, Path: archiveName, Err: fmt.Errorf("archive does not contain %s", p.release.Executable)}
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(staged, 0o755); err != nil {
			return "", &ProvisionError{Kind: ErrExtractFailed, Path: staged, Err: err}
		}
	}

	installDir := p.InstallDir()
	if err := os.RemoveAll(installDir); err != nil {
		return "", &ProvisionError{Kind: ErrExtractFailed, Path: installDir, Err: fmt.Errorf("replace install dir: %w", err)}
	}
	if err := os.Rename(extractDir, installDir); err != nil {
		return "", &ProvisionError{Kind: ErrExtractFailed, Path: installDir, Err: fmt.Errorf("commit install dir: %w", err)}
	}
	committed = true

	path := p.ExecutablePath()
	p.recordManifest(path)
	return path, nil
}

func (p *Provisioner) recordManifest(path string) {
	checksum, err := computeChecksum(path)
	if err != nil {
		p.logger.Warn("checksum failed", zap.String("path", path), zap.Error(err))
	}

	manifest, err := loadManifest(p.dir)
	if err != nil {
		p.logger.Warn("manifest unreadable; rewriting", zap.Error(err))
		manifest = Manifest{Entries: map[Platform]ManifestEntry{}}
	}
	manifest.Entries[p.platform] = ManifestEntry{
		Platform:    p.platform,
		Path:        path,
		SourceURL:   p.release.URL,
		Checksum:    checksum,
		InstalledAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := saveManifest(p.dir, manifest); err != nil {
		p.logger.Warn("save manifest", zap.Error(err))
	}
}

// download streams the release archive into a temp file under
// <dir>/downloads, keeping the archive name as suffix so the format stays
// recognisable.
func (p *Provisioner) download(ctx context.Context, archiveName string) (string, error) {
	downloads := filepath.Join(p.dir, "downloads")
	if err := os.MkdirAll(downloads, 0o755); err != nil {
		return "", fmt.Errorf("prepare downloads dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.release.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", p.release.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download %s: unexpected status %s", p.release.URL, resp.Status)
	}

	tmpFile, err := os.CreateTemp(downloads, "download-*-"+archiveName)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	n, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	p.logger.Debug("archive downloaded", zap.String("path", tmpPath), zap.Int64("bytes", n))
	return tmpPath, nil
}

func acquireInstallLock(ctx context.Context, root string) (func(), error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("prepare tools root: %w", err)
	}

	lockPath := filepath.Join(root, "steamcmd.lock")
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func regularFile(path string) (bool, os.FileMode) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false, 0
	}
	return true, info.Mode()
}

func isExecutable(path string) bool {
	ok, mode := regularFile(path)
	if !ok {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return mode.Perm()&0o111 != 0
}
