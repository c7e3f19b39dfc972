package install

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	ErrSourceMissing = errors.New("staged output missing")
	ErrCopyFailed    = errors.New("copy failed")
)

// InstallError reports the path an installation stopped at.
type InstallError struct {
	Kind error
	Path string
	Err  error
}

func (e *InstallError) Error() string {
	msg := "install: " + e.Kind.Error()
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InstallError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Result counts what an installation copied.
type Result struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// StagedDir is where SteamCMD leaves a downloaded workshop item when run with
// +force_install_dir workDir.
func StagedDir(workDir, scope, item string) string {
	return filepath.Join(workDir, "steamapps", "workshop", "content", scope, item)
}

// ModsDir is the game's mod directory.
func ModsDir(gameDir string) string {
	return filepath.Join(gameDir, "mods")
}

// Install merges the staged tree into dest. Existing files at matching paths
// are replaced, everything else in dest is left alone. Symlinks in the staged
// tree are skipped. The first failure stops the merge; files copied before it
// stay in place.
func Install(staged, dest string) (Result, error) {
	var res Result

	info, err := os.Stat(staged)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = errors.New("not a directory")
		}
		return res, &InstallError{Kind: ErrSourceMissing, Path: staged, Err: err}
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return res, &InstallError{Kind: ErrCopyFailed, Path: dest, Err: err}
	}

	err = filepath.WalkDir(staged, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &InstallError{Kind: ErrCopyFailed, Path: path, Err: walkErr}
		}
		rel, err := filepath.Rel(staged, path)
		if err != nil {
			return &InstallError{Kind: ErrCopyFailed, Path: path, Err: err}
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dest, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			return nil
		case d.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &InstallError{Kind: ErrCopyFailed, Path: target, Err: err}
			}
			return nil
		case d.Type().IsRegular():
			n, err := copyFile(path, target)
			if err != nil {
				return &InstallError{Kind: ErrCopyFailed, Path: target, Err: err}
			}
			res.Files++
			res.Bytes += n
			return nil
		default:
			return nil
		}
	})
	return res, err
}

// copyFile writes src next to dest and renames it into place so a failed
// copy never clobbers an existing file.
func copyFile(src, dest string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp dest: %w", err)
	}

	n, err := io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("copy data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("close temp dest: %w", err)
	}

	mode := info.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("chmod temp dest: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("rename temp dest: %w", err)
	}
	return n, nil
}
