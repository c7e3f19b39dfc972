package tui

import (
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode selects how a command reports queue progress.
type Mode int

const (
	// ModeTUI renders the live bubbletea table.
	ModeTUI Mode = iota
	// ModePlain writes one line per queue event.
	ModePlain
	// ModeJSON prints only the final snapshot.
	ModeJSON
)

func (m Mode) String() string {
	switch m {
	case ModeTUI:
		return "tui"
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// DetectMode picks JSON when requested, the live table for an interactive
// terminal and plain lines for everything else.
func DetectMode(out io.Writer, noProgress, jsonOutput bool) Mode {
	switch {
	case jsonOutput:
		return ModeJSON
	case noProgress || !interactive(out):
		return ModePlain
	default:
		return ModeTUI
	}
}

func interactive(out io.Writer) bool {
	f, ok := out.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	fd := f.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && !strings.EqualFold(term, "dumb")
}
