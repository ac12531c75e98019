package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/squadchat/internal/model"
)

func newTestSession(backend *fakeBackend, source *fakeSource, roomID string, pageSize int) *RoomSession {
	return NewRoomSession(SessionConfig{
		RoomID:   roomID,
		SelfID:   "self",
		Backend:  backend,
		Source:   source,
		PageSize: pageSize,
	})
}

// Empty room, then a send whose echo arrives over the live channel: the
// store ends up with exactly one "hello". This is the whole send path in
// miniature, with no local echo involved.
func TestSessionEndToEnd(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{}
	// Wire persistence to the live channel the way the server hub does.
	backend.onInsert = source.push

	sess := newTestSession(backend, source, "r1", 50)
	defer sess.Close()

	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if n := len(sess.Messages()); n != 0 {
		t.Fatalf("messages after open = %d, want 0", n)
	}
	if sess.HasMore() {
		t.Error("HasMore = true for empty room")
	}

	if err := sess.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	got := sess.Messages()
	if len(got) != 1 {
		t.Fatalf("messages after echo = %d, want 1", len(got))
	}
	if got[0].Content != "hello" {
		t.Errorf("content = %q, want hello", got[0].Content)
	}
}

func TestSessionLoadMore(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{}
	for i := 0; i < 5; i++ {
		backend.seed("r1", fmt.Sprintf("m%d", i), "x", ts(i))
	}

	sess := newTestSession(backend, source, "r1", 2)
	defer sess.Close()

	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if n := len(sess.Messages()); n != 2 {
		t.Fatalf("after open = %d messages, want 2", n)
	}
	if !sess.HasMore() {
		t.Fatal("HasMore = false, want true")
	}

	if err := sess.LoadMore(context.Background()); err != nil {
		t.Fatalf("LoadMore: %v", err)
	}
	if n := len(sess.Messages()); n != 4 {
		t.Fatalf("after first LoadMore = %d messages, want 4", n)
	}

	if err := sess.LoadMore(context.Background()); err != nil {
		t.Fatalf("LoadMore: %v", err)
	}
	got := sess.Messages()
	if len(got) != 5 {
		t.Fatalf("after second LoadMore = %d messages, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Errorf("messages not ascending at %d", i)
		}
	}

	// History exhausted: further calls are no-ops, no backend traffic.
	calls := backend.fetchCalls
	if err := sess.LoadMore(context.Background()); err != nil {
		t.Fatalf("LoadMore after exhaustion: %v", err)
	}
	if backend.fetchCalls != calls {
		t.Error("LoadMore fetched past the end of history")
	}
}

func TestSessionLiveAndHistoryMerge(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{}
	backend.seed("r1", "old", "x", ts(1))

	sess := newTestSession(backend, source, "r1", 50)
	defer sess.Close()

	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// The same message arriving over both paths counts once.
	dup := msg("old", "r1", ts(1))
	source.push(dup)
	source.push(msg("live", "r1", ts(2)))

	got := sess.Messages()
	if len(got) != 2 {
		t.Fatalf("messages = %d, want 2", len(got))
	}
	if got[0].ID != "old" || got[1].ID != "live" {
		t.Errorf("order = [%s %s], want [old live]", got[0].ID, got[1].ID)
	}
}

func TestSessionIgnoresOtherRooms(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{}

	sess := newTestSession(backend, source, "r1", 50)
	defer sess.Close()
	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	source.push(msg("foreign", "r2", ts(1)))
	if n := len(sess.Messages()); n != 0 {
		t.Errorf("messages = %d, want 0 (foreign room filtered)", n)
	}
}

func TestSessionCloseDisposesChannel(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{}

	sess := newTestSession(backend, source, "r1", 50)
	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	sess.Close()
	sess.Close() // idempotent

	if n := source.openCount(); n != 0 {
		t.Errorf("open channels after Close = %d, want 0", n)
	}
	// Delivery after close must not land.
	source.push(msg("late", "r1", ts(1)))
	if n := len(sess.Messages()); n != 0 {
		t.Errorf("messages after close = %d, want 0", n)
	}
}

// A fetch that resolves after Close must not touch the store. slowBackend
// parks FetchMessages until released, so the test can close the session
// mid-flight.
type slowBackend struct {
	*fakeBackend
	release chan struct{}
}

func (b *slowBackend) FetchMessages(ctx context.Context, roomID string, limit int, before *time.Time) ([]model.Message, error) {
	<-b.release
	return b.fakeBackend.FetchMessages(ctx, roomID, limit, before)
}

func TestSessionStaleFetchDiscardedAfterClose(t *testing.T) {
	inner := newFakeBackend()
	inner.seed("r1", "m0", "x", ts(0))
	backend := &slowBackend{fakeBackend: inner, release: make(chan struct{})}
	source := &fakeSource{}

	sess := NewRoomSession(SessionConfig{
		RoomID: "r1", SelfID: "self", Backend: backend, Source: source, PageSize: 50,
	})

	done := make(chan error, 1)
	go func() { done <- sess.Open(context.Background()) }()

	sess.Close()
	close(backend.release)
	if err := <-done; err != nil {
		t.Fatalf("Open: %v", err)
	}

	if n := len(sess.Messages()); n != 0 {
		t.Errorf("messages = %d, want 0 (stale fetch discarded)", n)
	}
	if n := source.openCount(); n != 0 {
		t.Errorf("open channels = %d, want 0 (closed session must not leave a channel)", n)
	}
}

// raceBackend commits and broadcasts a message while the history snapshot is
// being read.
type raceBackend struct {
	*fakeBackend
	source *fakeSource
	once   sync.Once
}

func (b *raceBackend) FetchMessages(ctx context.Context, roomID string, limit int, before *time.Time) ([]model.Message, error) {
	out, err := b.fakeBackend.FetchMessages(ctx, roomID, limit, before)
	b.once.Do(func() {
		m := b.seed(roomID, "during", "committed mid-open", ts(5))
		b.source.push(m)
	})
	return out, err
}

// A message committed after the snapshot read but around the subscription
// must not be lost: the live channel is attached before the fetch, so the
// insert arrives over it even though the page misses it.
func TestSessionOpenCatchesInsertDuringSnapshot(t *testing.T) {
	inner := newFakeBackend()
	source := &fakeSource{}
	backend := &raceBackend{fakeBackend: inner, source: source}

	sess := NewRoomSession(SessionConfig{
		RoomID: "r1", SelfID: "self", Backend: backend, Source: source, PageSize: 50,
	})
	defer sess.Close()

	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	got := sess.Messages()
	if len(got) != 1 || got[0].ID != "during" {
		t.Fatalf("messages = %v, want exactly the message committed during the snapshot read", got)
	}
}
