package tools

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const stubScript = "#!/bin/sh\necho steamcmd\n"

type archiveEntry struct {
	Name string
	Body string
	Mode int64
}

func buildTarGz(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		mode := e.Mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{Name: e.Name, Mode: mode, Size: int64(len(e.Body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(e.Body)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func buildZip(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(e.Body)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type archiveServer struct {
	*httptest.Server
	hits atomic.Int32
}

func serveArchive(t *testing.T, body []byte, status int) *archiveServer {
	t.Helper()
	s := &archiveServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func newLinuxProvisioner(dir, url string) *Provisioner {
	return New(Options{
		Dir:      dir,
		GOOS:     "linux",
		Releases: map[Platform]Release{PlatformLinux: {URL: url}},
	})
}

func TestEnsureDownloadsAndExtractsTarGz(t *testing.T) {
	archive := buildTarGz(t, []archiveEntry{
		{Name: "steamcmd.sh", Body: stubScript, Mode: 0o755},
		{Name: "linux32/steamcmd", Body: "elf", Mode: 0o755},
	})
	srv := serveArchive(t, archive, http.StatusOK)
	dir := t.TempDir()

	var notices []string
	p := New(Options{
		Dir:      dir,
		GOOS:     "linux",
		Releases: map[Platform]Release{PlatformLinux: {URL: srv.URL + "/client/steamcmd_linux.tar.gz"}},
		Notify:   func(msg string) { notices = append(notices, msg) },
	})

	path, err := p.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	want := filepath.Join(dir, "linux", "steamcmd.sh")
	if path != want {
		t.Fatalf("expected %s, got %s", want, path)
	}
	if p.State() != StateReady {
		t.Fatalf("expected ready state, got %s", p.State())
	}
	if _, err := os.Stat(filepath.Join(dir, "linux", "linux32", "steamcmd")); err != nil {
		t.Fatalf("expected nested file extracted: %v", err)
	}
	if len(notices) < 3 {
		t.Fatalf("expected progress notices, got %v", notices)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, "downloads", "*"))
	if len(leftovers) != 0 {
		t.Fatalf("expected temp archive removed, found %v", leftovers)
	}
	extractDirs, _ := filepath.Glob(filepath.Join(dir, "linux-extract-*"))
	if len(extractDirs) != 0 {
		t.Fatalf("expected side directory committed, found %v", extractDirs)
	}

	st := p.Status()
	if st.Checksum == "" || st.InstalledAt == "" {
		t.Fatalf("expected manifest details in status, got %+v", st)
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	archive := buildTarGz(t, []archiveEntry{{Name: "steamcmd.sh", Body: stubScript, Mode: 0o755}})
	srv := serveArchive(t, archive, http.StatusOK)
	dir := t.TempDir()
	p := newLinuxProvisioner(dir, srv.URL+"/steamcmd_linux.tar.gz")

	first, err := p.Ensure(context.Background())
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	before, err := os.Stat(first)
	if err != nil {
		t.Fatal(err)
	}
	manifestBefore, err := os.ReadFile(manifestPath(dir))
	if err != nil {
		t.Fatal(err)
	}

	second, err := p.Ensure(context.Background())
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if first != second {
		t.Fatalf("paths differ: %s vs %s", first, second)
	}
	if hits := srv.hits.Load(); hits != 1 {
		t.Fatalf("expected exactly one download, got %d", hits)
	}
	after, err := os.Stat(second)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatal("executable was rewritten on second Ensure")
	}
	manifestAfter, err := os.ReadFile(manifestPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(manifestBefore, manifestAfter) {
		t.Fatal("manifest was rewritten on second Ensure")
	}
}

func TestEnsurePreexistingExecutableSkipsNetwork(t *testing.T) {
	srv := serveArchive(t, nil, http.StatusInternalServerError)
	dir := t.TempDir()
	exe := filepath.Join(dir, "linux", "steamcmd.sh")
	if err := os.MkdirAll(filepath.Dir(exe), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(exe, []byte(stubScript), 0o755); err != nil {
		t.Fatal(err)
	}

	p := newLinuxProvisioner(dir, srv.URL+"/steamcmd_linux.tar.gz")
	path, err := p.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if path != exe {
		t.Fatalf("expected %s, got %s", exe, path)
	}
	if srv.hits.Load() != 0 {
		t.Fatal("expected no network access")
	}
}

func TestEnsureCollapsesConcurrentCalls(t *testing.T) {
	archive := buildTarGz(t, []archiveEntry{{Name: "steamcmd.sh", Body: stubScript, Mode: 0o755}})
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)

	p := newLinuxProvisioner(t.TempDir(), srv.URL+"/steamcmd_linux.tar.gz")

	const callers = 5
	var wg sync.WaitGroup
	paths := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = p.Ensure(context.Background())
		}(i)
	}
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Fatalf("caller %d got %s, want %s", i, paths[i], paths[0])
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected a single download, got %d", got)
	}
}

// gatedArchive serves archive once release is closed and counts requests.
func gatedArchive(t *testing.T, archive []byte) (*httptest.Server, chan struct{}, *atomic.Int32) {
	t.Helper()
	release := make(chan struct{})
	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)
	return srv, release, hits
}

func waitForHits(t *testing.T, hits *atomic.Int32, n int32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hits.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d requests, got %d", n, hits.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInstallForcesWhileEnsureInFlight(t *testing.T) {
	archive := buildTarGz(t, []archiveEntry{{Name: "steamcmd.sh", Body: stubScript, Mode: 0o755}})
	srv, release, hits := gatedArchive(t, archive)
	p := newLinuxProvisioner(t.TempDir(), srv.URL+"/steamcmd_linux.tar.gz")

	ensured := make(chan error, 1)
	go func() {
		_, err := p.Ensure(context.Background())
		ensured <- err
	}()
	waitForHits(t, hits, 1)

	installed := make(chan error, 1)
	go func() {
		_, err := p.Install(context.Background())
		installed <- err
	}()
	close(release)

	if err := <-ensured; err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := <-installed; err != nil {
		t.Fatalf("Install: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("forced install must download again, got %d downloads", got)
	}
}

func TestEnsureSurvivesFirstCallerCancellation(t *testing.T) {
	archive := buildTarGz(t, []archiveEntry{{Name: "steamcmd.sh", Body: stubScript, Mode: 0o755}})
	srv, release, hits := gatedArchive(t, archive)
	p := newLinuxProvisioner(t.TempDir(), srv.URL+"/steamcmd_linux.tar.gz")

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := p.Ensure(firstCtx)
		first <- err
	}()
	waitForHits(t, hits, 1)

	joined := make(chan error, 1)
	var joinedPath string
	go func() {
		var err error
		joinedPath, err = p.Ensure(context.Background())
		joined <- err
	}()

	cancelFirst()
	select {
	case err := <-first:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled caller: expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(release)
	if err := <-joined; err != nil {
		t.Fatalf("joined caller inherited cancellation: %v", err)
	}
	if !isExecutable(joinedPath) {
		t.Fatalf("expected executable at %s", joinedPath)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected a single download, got %d", got)
	}
}

func TestEnsureZipForWindows(t *testing.T) {
	archive := buildZip(t, []archiveEntry{
		{Name: "steamcmd.exe", Body: "MZ"},
		{Name: "package/readme.txt", Body: "hi"},
	})
	srv := serveArchive(t, archive, http.StatusOK)
	dir := t.TempDir()

	p := New(Options{
		Dir:      dir,
		GOOS:     "windows",
		Releases: map[Platform]Release{PlatformWindows: {URL: srv.URL + "/steamcmd.zip"}},
	})
	path, err := p.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if path != filepath.Join(dir, "windows", "steamcmd.exe") {
		t.Fatalf("unexpected path %s", path)
	}
	if _, err := os.Stat(filepath.Join(dir, "windows", "package", "readme.txt")); err != nil {
		t.Fatalf("expected nested zip entry: %v", err)
	}
}

func TestEnsureUnsupportedPlatform(t *testing.T) {
	p := New(Options{Dir: t.TempDir(), GOOS: "plan9"})
	_, err := p.Ensure(context.Background())
	if !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}
	var perr *ProvisionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProvisionError, got %T", err)
	}
	if p.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", p.State())
	}
}

func TestEnsureDownloadFailure(t *testing.T) {
	srv := serveArchive(t, []byte("nope"), http.StatusNotFound)
	dir := t.TempDir()
	p := newLinuxProvisioner(dir, srv.URL+"/steamcmd_linux.tar.gz")

	_, err := p.Ensure(context.Background())
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
	if p.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", p.State())
	}
	if _, err := os.Stat(filepath.Join(dir, "steamcmd.lock")); !os.IsNotExist(err) {
		t.Fatal("expected install lock released")
	}
}

func TestEnsureExtractFailures(t *testing.T) {
	cases := []struct {
		name string
		path string
		body []byte
	}{
		{name: "unknown extension", path: "/steamcmd.rar", body: []byte("rar")},
		{name: "corrupt archive", path: "/steamcmd_linux.tar.gz", body: []byte("not gzip")},
		{name: "missing executable", path: "/steamcmd_linux.tar.gz", body: buildTarGz(t, []archiveEntry{{Name: "other.sh", Body: "x"}})},
		{name: "path traversal", path: "/steamcmd_linux.tar.gz", body: buildTarGz(t, []archiveEntry{{Name: "../evil.sh", Body: "x"}})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := serveArchive(t, tc.body, http.StatusOK)
			dir := t.TempDir()
			p := newLinuxProvisioner(dir, srv.URL+tc.path)

			_, err := p.Ensure(context.Background())
			if !errors.Is(err, ErrExtractFailed) {
				t.Fatalf("expected ErrExtractFailed, got %v", err)
			}
			if _, err := os.Stat(filepath.Join(dir, "linux")); !os.IsNotExist(err) {
				t.Fatal("install dir should not exist after failed extraction")
			}
			if _, err := os.Stat(filepath.Join(dir, "evil.sh")); err == nil {
				t.Fatal("archive entry escaped the destination")
			}
			leftovers, _ := filepath.Glob(filepath.Join(dir, "downloads", "*"))
			if len(leftovers) != 0 {
				t.Fatalf("expected temp archive removed, found %v", leftovers)
			}
		})
	}
}

func TestEnsureRetriesAfterFailure(t *testing.T) {
	archive := buildTarGz(t, []archiveEntry{{Name: "steamcmd.sh", Body: stubScript, Mode: 0o755}})
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)

	p := newLinuxProvisioner(t.TempDir(), srv.URL+"/steamcmd_linux.tar.gz")
	if _, err := p.Ensure(context.Background()); err == nil {
		t.Fatal("expected first attempt to fail")
	}

	fail.Store(false)
	if _, err := p.Ensure(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if p.State() != StateReady {
		t.Fatalf("expected ready, got %s", p.State())
	}
}

func TestEnsureReportsMissingAfterDeletion(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exec bits not meaningful on windows")
	}
	archive := buildTarGz(t, []archiveEntry{{Name: "steamcmd.sh", Body: stubScript, Mode: 0o755}})
	srv := serveArchive(t, archive, http.StatusOK)
	p := newLinuxProvisioner(t.TempDir(), srv.URL+"/steamcmd_linux.tar.gz")

	path, err := p.Ensure(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	if st := p.Status(); st.State != StateMissing || st.Path != "" {
		t.Fatalf("expected missing state for non-executable file, got %+v", st)
	}
}

func TestPlatformFor(t *testing.T) {
	cases := map[string]Platform{"windows": PlatformWindows, "linux": PlatformLinux, "darwin": PlatformMacOS}
	for goos, want := range cases {
		got, err := PlatformFor(goos)
		if err != nil || got != want {
			t.Errorf("PlatformFor(%q) = %q, %v", goos, got, err)
		}
	}
	if _, err := PlatformFor("freebsd"); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("expected unsupported platform, got %v", err)
	}
}

func TestFormatFromName(t *testing.T) {
	cases := map[string]archiveFormat{
		"steamcmd.zip":          archiveFormatZip,
		"steamcmd_linux.tar.gz": archiveFormatTarGz,
		"steamcmd_osx.TGZ":      archiveFormatTarGz,
		"steamcmd.tar.xz":       archiveFormatUnknown,
	}
	for name, want := range cases {
		if got := formatFromName(name); got != want {
			t.Errorf("formatFromName(%q) = %q, want %q", name, got, want)
		}
	}
}
