package steamcmd

import (
	"errors"
	"fmt"
)

// Process failure kinds, matched with errors.Is.
var (
	ErrSpawn       = errors.New("spawn failed")
	ErrNonZeroExit = errors.New("non-zero exit")
	ErrCancelled   = errors.New("cancelled")
)

// ProcessError describes a SteamCMD run that did not succeed.
type ProcessError struct {
	Kind     error
	ItemID   string
	ExitCode int
	Err      error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("steamcmd item %s: %s", e.ItemID, e.Kind)
	if errors.Is(e.Kind, ErrNonZeroExit) {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProcessError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
