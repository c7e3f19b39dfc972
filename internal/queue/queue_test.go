package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func brotato(item string) Item {
	return Item{ContentScopeID: "1942280", ItemID: item, DisplayName: "Mod " + item}
}

func TestSubmitAppendsQueued(t *testing.T) {
	q := New()

	id1, err := q.Submit(brotato("1"))
	require.NoError(t, err)
	id2, err := q.Submit(Item{ContentScopeID: "1942280", ItemID: "2"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, id1, snap[0].ID)
	assert.Equal(t, id2, snap[1].ID)
	assert.Equal(t, StatusQueued, snap[0].Status)
	assert.Equal(t, "item 2", snap[1].DisplayName)
	assert.False(t, snap[0].SubmittedAt.IsZero())
}

func TestSubmitRejectsInvalidItem(t *testing.T) {
	q := New()
	_, err := q.Submit(Item{ItemID: "1"})
	assert.ErrorIs(t, err, ErrInvalidItem)
	assert.Empty(t, q.Snapshot())
}

func TestSubmitDuplicateInFlight(t *testing.T) {
	q := New()
	id, err := q.Submit(brotato("7"))
	require.NoError(t, err)

	_, err = q.Submit(brotato("7"))
	assert.ErrorIs(t, err, ErrDuplicateInFlight)

	// Same item in another scope is a different request.
	_, err = q.Submit(Item{ContentScopeID: "999", ItemID: "7"})
	assert.NoError(t, err)

	require.NoError(t, q.MarkDownloading(id))
	_, err = q.Submit(brotato("7"))
	assert.ErrorIs(t, err, ErrDuplicateInFlight)

	require.NoError(t, q.MarkFailed(id, "network"))
	again, err := q.Submit(brotato("7"))
	require.NoError(t, err)
	assert.NotEqual(t, id, again)
	assert.Len(t, q.Snapshot(), 3)
}

func TestTransitionsAreForwardOnly(t *testing.T) {
	q := New()
	id, err := q.Submit(brotato("1"))
	require.NoError(t, err)

	// Completing a request that never started is ignored.
	require.NoError(t, q.MarkCompleted(id))
	got, _ := q.Get(id)
	assert.Equal(t, StatusQueued, got.Status)

	require.NoError(t, q.MarkDownloading(id))
	require.NoError(t, q.MarkDownloading(id))
	require.NoError(t, q.MarkCompleted(id))

	got, _ = q.Get(id)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, InstallPending, got.Install)

	// Terminal requests ignore further marks.
	require.NoError(t, q.MarkCompleted(id))
	require.NoError(t, q.MarkFailed(id, "late"))
	require.NoError(t, q.MarkDownloading(id))

	got, _ = q.Get(id)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Empty(t, got.Reason)
}

func TestMarkFailedRecordsReason(t *testing.T) {
	q := New()
	id, _ := q.Submit(brotato("1"))
	require.NoError(t, q.MarkDownloading(id))
	require.NoError(t, q.MarkFailed(id, "exit code 8"))

	got, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "exit code 8", got.Reason)
	assert.True(t, got.Settled())
}

func TestUnknownIDs(t *testing.T) {
	q := New()
	assert.ErrorIs(t, q.MarkDownloading("nope"), ErrNotFound)
	assert.ErrorIs(t, q.MarkCompleted("nope"), ErrNotFound)
	assert.ErrorIs(t, q.MarkFailed("nope", "x"), ErrNotFound)
	assert.ErrorIs(t, q.Log("nope", "x"), ErrNotFound)
	assert.ErrorIs(t, q.Notice("nope", "s", "x"), ErrNotFound)
	assert.ErrorIs(t, q.SetInstall("nope", Installed, ""), ErrNotFound)
	_, err := q.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetInstallRequiresCompleted(t *testing.T) {
	q := New()
	id, _ := q.Submit(brotato("1"))
	assert.ErrorIs(t, q.SetInstall(id, Installed, ""), ErrNotCompleted)

	require.NoError(t, q.MarkDownloading(id))
	require.NoError(t, q.MarkCompleted(id))
	require.NoError(t, q.SetInstall(id, InstallFailed, "copy failed"))

	got, _ := q.Get(id)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, InstallFailed, got.Install)
	assert.Equal(t, "copy failed", got.InstallDetail)
}

func TestSnapshotIsACopy(t *testing.T) {
	q := New()
	id, _ := q.Submit(brotato("1"))
	snap := q.Snapshot()
	snap[0].Status = StatusFailed

	got, _ := q.Get(id)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestClaimReturnsOldestQueued(t *testing.T) {
	q := New()
	id1, _ := q.Submit(brotato("1"))
	id2, _ := q.Submit(brotato("2"))

	ctx := context.Background()
	r1, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, r1.ID)
	assert.Equal(t, StatusDownloading, r1.Status)

	r2, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, id2, r2.ID)
}

func TestClaimBlocksUntilSubmit(t *testing.T) {
	q := New()
	got := make(chan Request, 1)
	go func() {
		r, err := q.Claim(context.Background())
		if err == nil {
			got <- r
		}
	}()

	select {
	case <-got:
		t.Fatal("claim returned before any submission")
	case <-time.After(50 * time.Millisecond):
	}

	id, err := q.Submit(brotato("1"))
	require.NoError(t, err)

	select {
	case r := <-got:
		assert.Equal(t, id, r.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("claim did not wake up")
	}
}

func TestClaimHonoursContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Claim(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentClaimsNeverShareARequest(t *testing.T) {
	q := New()
	const n = 50
	for i := 0; i < n; i++ {
		_, err := q.Submit(brotato(fmt.Sprint(i)))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
				r, err := q.Claim(ctx)
				cancel()
				if err != nil {
					return
				}
				mu.Lock()
				if seen[r.ID] {
					t.Errorf("request %s claimed twice", r.ID)
				}
				seen[r.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestSubscribeDeliversInPublishOrder(t *testing.T) {
	q := New()
	events, cancel := q.Subscribe()
	defer cancel()

	id, _ := q.Submit(brotato("1"))
	require.NoError(t, q.MarkDownloading(id))
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Log(id, fmt.Sprintf("line %d", i)))
	}
	require.NoError(t, q.MarkFailed(id, "boom"))

	var got []Event
	timeout := time.After(2 * time.Second)
	for len(got) < 103 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("received %d events", len(got))
		}
	}

	assert.Equal(t, EventSubmitted, got[0].Type)
	assert.Equal(t, StatusDownloading, got[1].Request.Status)
	for i := 0; i < 100; i++ {
		assert.Equal(t, fmt.Sprintf("line %d", i), got[2+i].Line)
	}
	last := got[102]
	assert.Equal(t, EventStatus, last.Type)
	assert.Equal(t, StatusFailed, last.Request.Status)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
}

func TestSlowSubscriberDoesNotBlockPublishers(t *testing.T) {
	q := New()
	_, cancel := q.Subscribe()
	defer cancel()

	id, _ := q.Submit(brotato("1"))
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			_ = q.Log(id, "x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on an idle subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	q := New()
	events, cancel := q.Subscribe()
	cancel()
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	_, err := q.Submit(brotato("1"))
	assert.NoError(t, err)
}

func TestWaitSettled(t *testing.T) {
	q := New()
	require.NoError(t, q.WaitSettled(context.Background()))

	id, _ := q.Submit(brotato("1"))
	done := make(chan error, 1)
	go func() { done <- q.WaitSettled(context.Background()) }()

	require.NoError(t, q.MarkDownloading(id))
	require.NoError(t, q.MarkCompleted(id))

	select {
	case <-done:
		t.Fatal("settled while install pending")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.SetInstall(id, Installed, ""))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitSettled did not return")
	}
}

func TestWaitSettledHonoursContext(t *testing.T) {
	q := New()
	_, _ = q.Submit(brotato("1"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.WaitSettled(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFailQueued(t *testing.T) {
	q := New()
	id1, _ := q.Submit(brotato("1"))
	id2, _ := q.Submit(brotato("2"))
	require.NoError(t, q.MarkDownloading(id1))

	assert.Equal(t, 1, q.FailQueued("cancelled"))

	r1, _ := q.Get(id1)
	r2, _ := q.Get(id2)
	assert.Equal(t, StatusDownloading, r1.Status)
	assert.Equal(t, StatusFailed, r2.Status)
	assert.Equal(t, "cancelled", r2.Reason)
}
