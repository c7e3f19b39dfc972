package tui

import "workshopdl/internal/queue"

// EventMsg carries one queue event into the program.
type EventMsg struct {
	Event queue.Event
}

// WorkDoneMsg signals that all background work has completed.
type WorkDoneMsg struct{}

// ErrorMsg signals a fatal error; the TUI should quit.
type ErrorMsg struct {
	Err error
}

// SnapshotMsg replaces row state with the final queue contents.
type SnapshotMsg struct {
	Requests []queue.Request
}
