package tui

import (
	"fmt"
	"io"

	"workshopdl/internal/queue"
)

// PlainReporter writes queue events as one line each for non-interactive
// output.
type PlainReporter struct {
	w       io.Writer
	verbose bool
}

// NewPlainReporter returns a reporter writing to w. When verbose is false,
// SteamCMD output lines are omitted.
func NewPlainReporter(w io.Writer, verbose bool) *PlainReporter {
	return &PlainReporter{w: w, verbose: verbose}
}

// Follow writes events until done is closed and every event up to last()
// has been written, or the channel closes. since is the sequence number
// current when events was subscribed.
func (r *PlainReporter) Follow(events <-chan queue.Event, since int64, done <-chan struct{}, last func() int64) {
	written := since
	write := func(ev queue.Event) {
		r.Write(ev)
		written = max(written, ev.Seq)
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			write(ev)
		case <-done:
			target := last()
			for written < target {
				ev, ok := <-events
				if !ok {
					return
				}
				write(ev)
			}
			return
		}
	}
}

// Write renders a single event.
func (r *PlainReporter) Write(ev queue.Event) {
	req := ev.Request
	switch ev.Type {
	case queue.EventSubmitted:
		fmt.Fprintf(r.w, "[queue] %s (%s) queued\n", req.DisplayName, req.ItemID)
	case queue.EventStatus:
		if req.Status == queue.StatusFailed {
			fmt.Fprintf(r.w, "[queue] %s (%s) failed: %s\n", req.DisplayName, req.ItemID, req.Reason)
			return
		}
		fmt.Fprintf(r.w, "[queue] %s (%s) %s\n", req.DisplayName, req.ItemID, req.Status)
	case queue.EventInstall:
		line := fmt.Sprintf("[install] %s (%s) %s", req.DisplayName, req.ItemID, req.Install)
		if req.InstallDetail != "" {
			line += ": " + req.InstallDetail
		}
		fmt.Fprintln(r.w, line)
	case queue.EventNotice:
		fmt.Fprintf(r.w, "[%s] %s\n", ev.Stage, ev.Message)
	case queue.EventLog:
		if r.verbose {
			fmt.Fprintf(r.w, "[steamcmd] %s\n", ev.Line)
		}
	}
}
