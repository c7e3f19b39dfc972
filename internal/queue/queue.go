package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue is an append-only, observable collection of download requests. It is
// the single writer of request state; every mutation is serialized by one
// mutex and published to subscribers in the same order.
type Queue struct {
	mu      sync.Mutex
	entries []*Request
	byID    map[string]*Request
	seq     int64
	changed chan struct{}

	subs      map[int]*subscriber
	nextSubID int
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		byID:    make(map[string]*Request),
		changed: make(chan struct{}),
		subs:    make(map[int]*subscriber),
	}
}

// Submit appends a Queued request and returns its id.
func (q *Queue) Submit(item Item) (string, error) {
	if item.ContentScopeID == "" || item.ItemID == "" {
		return "", ErrInvalidItem
	}
	if item.DisplayName == "" {
		item.DisplayName = "item " + item.ItemID
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, r := range q.entries {
		if r.ContentScopeID == item.ContentScopeID && r.ItemID == item.ItemID && !r.Status.Terminal() {
			return "", fmt.Errorf("%w: %s/%s (request %s)", ErrDuplicateInFlight, item.ContentScopeID, item.ItemID, r.ID)
		}
	}

	now := time.Now().UTC()
	r := &Request{
		ID:             uuid.NewString(),
		ContentScopeID: item.ContentScopeID,
		ItemID:         item.ItemID,
		DisplayName:    item.DisplayName,
		Status:         StatusQueued,
		SubmittedAt:    now,
		UpdatedAt:      now,
	}
	q.entries = append(q.entries, r)
	q.byID[r.ID] = r
	q.publishLocked(Event{Type: EventSubmitted, Request: *r})
	return r.ID, nil
}

// MarkDownloading moves a Queued request to Downloading.
func (q *Queue) MarkDownloading(id string) error {
	return q.transition(id, StatusDownloading, "")
}

// MarkCompleted moves a Downloading request to Completed with a pending
// install.
func (q *Queue) MarkCompleted(id string) error {
	return q.transition(id, StatusCompleted, "")
}

// MarkFailed moves a non-terminal request to Failed.
func (q *Queue) MarkFailed(id, reason string) error {
	return q.transition(id, StatusFailed, reason)
}

// transition applies forward moves only. Repeated or backward calls, and
// calls on terminal requests, are no-ops.
func (q *Queue) transition(id string, to Status, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.Status.Terminal() || to.rank() <= r.Status.rank() {
		return nil
	}
	if to == StatusCompleted && r.Status != StatusDownloading {
		return nil
	}

	r.Status = to
	r.Reason = reason
	if to == StatusCompleted {
		r.Install = InstallPending
	}
	r.UpdatedAt = time.Now().UTC()
	q.publishLocked(Event{Type: EventStatus, Request: *r})
	return nil
}

// Claim blocks until a Queued request exists, moves the oldest one to
// Downloading and returns it.
func (q *Queue) Claim(ctx context.Context) (Request, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Request{}, err
		}
		q.mu.Lock()
		for _, r := range q.entries {
			if r.Status != StatusQueued {
				continue
			}
			r.Status = StatusDownloading
			r.UpdatedAt = time.Now().UTC()
			q.publishLocked(Event{Type: EventStatus, Request: *r})
			claimed := *r
			q.mu.Unlock()
			return claimed, nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Request{}, ctx.Err()
		case <-changed:
		}
	}
}

// SetInstall records the installation outcome of a Completed request.
func (q *Queue) SetInstall(id string, state InstallState, detail string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.Status != StatusCompleted {
		return fmt.Errorf("%w: %s is %s", ErrNotCompleted, id, r.Status)
	}
	r.Install = state
	r.InstallDetail = detail
	r.UpdatedAt = time.Now().UTC()
	q.publishLocked(Event{Type: EventInstall, Request: *r})
	return nil
}

// Log relays one line of process output for a request.
func (q *Queue) Log(id, line string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	q.publishLocked(Event{Type: EventLog, Request: *r, Line: line})
	return nil
}

// Notice publishes a stage-tagged message for a request.
func (q *Queue) Notice(id, stage, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	q.publishLocked(Event{Type: EventNotice, Request: *r, Stage: stage, Message: message})
	return nil
}

// FailQueued fails every request still waiting to start and returns how many
// were affected.
func (q *Queue) FailQueued(reason string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	now := time.Now().UTC()
	for _, r := range q.entries {
		if r.Status != StatusQueued {
			continue
		}
		r.Status = StatusFailed
		r.Reason = reason
		r.UpdatedAt = now
		q.publishLocked(Event{Type: EventStatus, Request: *r})
		n++
	}
	return n
}

// Snapshot returns a point-in-time copy in insertion order.
func (q *Queue) Snapshot() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Request, len(q.entries))
	for i, r := range q.entries {
		out[i] = *r
	}
	return out
}

// Get returns a copy of one request.
func (q *Queue) Get(id string) (Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.byID[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *r, nil
}

// WaitSettled blocks until every request is settled or ctx ends.
func (q *Queue) WaitSettled(ctx context.Context) error {
	for {
		q.mu.Lock()
		settled := true
		for _, r := range q.entries {
			if !r.Settled() {
				settled = false
				break
			}
		}
		changed := q.changed
		q.mu.Unlock()

		if settled {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// LastSeq returns the sequence number of the most recent event.
func (q *Queue) LastSeq() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seq
}

// Subscribe registers an observer. The returned cancel function stops
// delivery and closes the channel.
func (q *Queue) Subscribe() (<-chan Event, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextSubID
	q.nextSubID++
	sub := newSubscriber()
	q.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.subs, id)
			q.mu.Unlock()
			sub.stop()
		})
	}
	return sub.out, cancel
}

func (q *Queue) publishLocked(ev Event) {
	q.seq++
	ev.Seq = q.seq
	ev.At = time.Now().UTC()
	for _, sub := range q.subs {
		sub.push(ev)
	}
	close(q.changed)
	q.changed = make(chan struct{})
}
