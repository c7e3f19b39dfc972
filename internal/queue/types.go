package queue

import (
	"errors"
	"time"
)

// Status is the download lifecycle of a request.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusDownloading:
		return 1
	default:
		return 2
	}
}

// InstallState tracks the merge into the mods directory, separately from the
// download status.
type InstallState string

const (
	InstallNone    InstallState = ""
	InstallPending InstallState = "pending"
	Installed      InstallState = "installed"
	InstallFailed  InstallState = "failed"
	InstallSkipped InstallState = "skipped"
)

// Item is what a caller asks for.
type Item struct {
	ContentScopeID string `json:"content_scope_id"`
	ItemID         string `json:"item_id"`
	DisplayName    string `json:"display_name"`
}

// Request is a queue entry. Values handed out by the queue are copies.
type Request struct {
	ID             string       `json:"id"`
	ContentScopeID string       `json:"content_scope_id"`
	ItemID         string       `json:"item_id"`
	DisplayName    string       `json:"display_name"`
	Status         Status       `json:"status"`
	Reason         string       `json:"reason,omitempty"`
	Install        InstallState `json:"install,omitempty"`
	InstallDetail  string       `json:"install_detail,omitempty"`
	SubmittedAt    time.Time    `json:"submitted_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Settled reports whether the request needs no more work.
func (r Request) Settled() bool {
	switch r.Status {
	case StatusFailed:
		return true
	case StatusCompleted:
		return r.Install != InstallPending
	default:
		return false
	}
}

// EventType distinguishes published events.
type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventStatus    EventType = "status"
	EventInstall   EventType = "install"
	EventLog       EventType = "log"
	EventNotice    EventType = "notice"
)

// Event is delivered to subscribers in publish order.
type Event struct {
	Seq     int64     `json:"seq"`
	Type    EventType `json:"type"`
	At      time.Time `json:"at"`
	Request Request   `json:"request"`
	Line    string    `json:"line,omitempty"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message,omitempty"`
}

var (
	ErrNotFound          = errors.New("request not found")
	ErrDuplicateInFlight = errors.New("item already queued or downloading")
	ErrInvalidItem       = errors.New("content scope and item id are required")
	ErrNotCompleted      = errors.New("request has not completed")
)
