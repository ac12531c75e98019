package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/squadchat/internal/model"
)

// fakeBackend is an in-memory Backend with call counters, used by every test
// in this package.
type fakeBackend struct {
	mu       sync.Mutex
	messages map[string][]model.Message // roomID -> ascending by CreatedAt
	rooms    []model.RoomDetail
	unread   map[string]int

	fetchCalls  int
	insertCalls int
	unreadCalls int

	fetchErr  error
	insertErr error
	unreadErr error

	// insertDelay simulates a slow persistence call.
	insertDelay time.Duration
	// onInsert lets a test observe (or broadcast) a persisted message.
	onInsert func(m model.Message)

	now time.Time
	seq int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		messages: map[string][]model.Message{},
		unread:   map[string]int{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// seed adds a message with the given timestamp directly to storage.
func (b *fakeBackend) seed(roomID, id, content string, at time.Time) model.Message {
	m := model.Message{ID: id, RoomID: roomID, Content: content, CreatedAt: at}
	b.mu.Lock()
	b.messages[roomID] = append(b.messages[roomID], m)
	sort.Slice(b.messages[roomID], func(i, j int) bool {
		return b.messages[roomID][i].CreatedAt.Before(b.messages[roomID][j].CreatedAt)
	})
	b.mu.Unlock()
	return m
}

func (b *fakeBackend) FetchMessages(ctx context.Context, roomID string, limit int, before *time.Time) ([]model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchCalls++
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}

	all := b.messages[roomID]
	// Newest first, strictly older than the cursor.
	out := make([]model.Message, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if before != nil && !all[i].CreatedAt.Before(*before) {
			continue
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (b *fakeBackend) InsertMessage(ctx context.Context, roomID, content string) (*model.Message, error) {
	if b.insertDelay > 0 {
		time.Sleep(b.insertDelay)
	}
	b.mu.Lock()
	b.insertCalls++
	if b.insertErr != nil {
		b.mu.Unlock()
		return nil, b.insertErr
	}
	b.seq++
	m := model.Message{
		ID:        fmt.Sprintf("m-%04d", b.seq),
		RoomID:    roomID,
		Content:   content,
		CreatedAt: b.now.Add(time.Duration(b.seq) * time.Second),
	}
	b.messages[roomID] = append(b.messages[roomID], m)
	cb := b.onInsert
	b.mu.Unlock()

	if cb != nil {
		cb(m)
	}
	return &m, nil
}

func (b *fakeBackend) FetchRooms(ctx context.Context) ([]model.RoomDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.RoomDetail, len(b.rooms))
	copy(out, b.rooms)
	return out, nil
}

func (b *fakeBackend) FetchUnreadCounts(ctx context.Context, roomIDs []string) (map[string]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unreadCalls++
	if b.unreadErr != nil {
		return nil, b.unreadErr
	}
	out := map[string]int{}
	for _, id := range roomIDs {
		if n, ok := b.unread[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (b *fakeBackend) MarkRead(ctx context.Context, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unread[roomID] = 0
	return nil
}

// fakeSource is an EventSource whose channels deliver messages pushed by the
// test. Dispose on the raw channel is a no-op so tests can verify that the
// Subscriber's gate, not the transport, is what stops delivery.
type fakeSource struct {
	mu      sync.Mutex
	open    int
	current *fakeChannel
}

type fakeChannel struct {
	source   *fakeSource
	roomIDs  map[string]struct{}
	onInsert InsertHandler
	onStatus StatusHandler
	disposed bool
}

func (s *fakeSource) OpenChannel(ctx context.Context, roomIDs []string, onInsert InsertHandler, onStatus StatusHandler) (Channel, error) {
	set := make(map[string]struct{}, len(roomIDs))
	for _, id := range roomIDs {
		set[id] = struct{}{}
	}
	ch := &fakeChannel{source: s, roomIDs: set, onInsert: onInsert, onStatus: onStatus}
	s.mu.Lock()
	s.open++
	s.current = ch
	s.mu.Unlock()
	if onStatus != nil {
		onStatus(StatusSubscribed)
	}
	return ch, nil
}

func (c *fakeChannel) Dispose() {
	c.source.mu.Lock()
	c.disposed = true
	c.source.open--
	c.source.mu.Unlock()
}

// push delivers a message through the most recently opened channel, matching
// the room filter, regardless of transport disposal.
func (s *fakeSource) push(m model.Message) {
	s.mu.Lock()
	ch := s.current
	s.mu.Unlock()
	if ch == nil {
		return
	}
	if _, ok := ch.roomIDs[m.RoomID]; !ok {
		return
	}
	ch.onInsert(m)
}

// reportStatus raises a transport status through the most recently opened
// channel, regardless of transport disposal, the way a lingering reader
// goroutine would.
func (s *fakeSource) reportStatus(st Status) {
	s.mu.Lock()
	ch := s.current
	s.mu.Unlock()
	if ch == nil || ch.onStatus == nil {
		return
	}
	ch.onStatus(st)
}

func (s *fakeSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func ts(sec int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, sec, 0, time.UTC)
}

func msg(id, roomID string, at time.Time) model.Message {
	return model.Message{ID: id, RoomID: roomID, Content: "msg " + id, CreatedAt: at}
}
