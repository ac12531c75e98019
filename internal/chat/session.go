package chat

import (
	"context"
	"sync"
	"time"

	"github.com/squadchat/internal/model"
)

// RoomSession composes the pieces behind one open conversation: the initial
// history page and a live channel feeding a shared Store, cursor bookkeeping
// for LoadMore, and the send pipeline. One session per open room; switching
// rooms means Close on the old session and a fresh one for the new room.
type RoomSession struct {
	roomID string
	store  *Store
	pag    *Paginator
	sub    *Subscriber
	sender *Sender

	mu      sync.Mutex
	cursor  *time.Time
	hasMore bool
	closed  bool
	dispose func()
}

// SessionConfig carries everything a session needs; there are no ambient
// defaults beyond the page size.
type SessionConfig struct {
	RoomID   string
	SelfID   string
	Backend  Backend
	Source   EventSource
	PageSize int
	// OnChange fires when the message sequence changes. May be nil.
	OnChange func()
	// OnStatus observes the live channel status. May be nil.
	OnStatus StatusHandler
}

func NewRoomSession(cfg SessionConfig) *RoomSession {
	return &RoomSession{
		roomID: cfg.RoomID,
		store:  NewStore(cfg.OnChange),
		pag:    NewPaginator(cfg.Backend, cfg.RoomID, cfg.PageSize),
		sub:    NewSubscriber(cfg.Source, cfg.OnStatus),
		sender: NewSender(cfg.Backend, cfg.SelfID),
	}
}

// Open attaches the live channel first and only then fetches the newest
// history page. A message committed while the snapshot is being read arrives
// over the live path, and the store's dedup absorbs anything that lands in
// both; fetching first would leave a gap between the snapshot and the
// subscription that neither path covers.
func (s *RoomSession) Open(ctx context.Context) error {
	dispose, err := s.sub.Subscribe(ctx, []string{s.roomID}, s.onInsert)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		dispose()
		return nil
	}
	s.dispose = dispose
	s.mu.Unlock()

	page, err := s.pag.FetchPage(ctx, nil)
	if err != nil {
		// A session without history is not usable; tear the channel down so
		// a failed Open leaves nothing running.
		s.mu.Lock()
		d := s.dispose
		s.dispose = nil
		s.mu.Unlock()
		if d != nil {
			d()
		}
		return err
	}
	s.ingest(page, nil)
	return nil
}

// LoadMore fetches the page older than the current cursor. No-op when the
// room's history is exhausted or the session is closed.
func (s *RoomSession) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	cursor := s.cursor
	s.mu.Unlock()

	page, err := s.pag.FetchPage(ctx, cursor)
	if err != nil {
		return err
	}
	s.ingest(page, cursor)
	return nil
}

// ingest applies a fetched page unless the session was closed while the
// fetch was in flight, or another LoadMore already advanced past reqCursor.
// Reports whether the page was discarded because of Close.
func (s *RoomSession) ingest(page *Page, reqCursor *time.Time) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return true
	}
	if !cursorsEqual(s.cursor, reqCursor) {
		// A concurrent fetch already moved the cursor; drop this result
		// rather than double-count it.
		s.mu.Unlock()
		return false
	}
	s.cursor = page.NextCursor
	s.hasMore = page.HasMore
	s.mu.Unlock()

	s.store.IngestPage(page)
	return false
}

func (s *RoomSession) onInsert(m model.Message) {
	if m.RoomID != s.roomID {
		return
	}
	s.store.IngestLive(m)
}

// SendMessage validates and persists content. The message is not echoed
// locally; it arrives back through the live channel.
func (s *RoomSession) SendMessage(ctx context.Context, content string) error {
	_, err := s.sender.Send(ctx, s.roomID, content)
	return err
}

// Messages returns the current sequence, ascending by creation time.
func (s *RoomSession) Messages() []model.Message {
	return s.store.Messages()
}

// HasMore reports whether older history may remain.
func (s *RoomSession) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Status returns the live channel status.
func (s *RoomSession) Status() Status {
	return s.sub.Status()
}

// Close disposes the live channel synchronously and marks the session
// closed, so in-flight fetches that resolve later are discarded instead of
// landing in a stale store. Safe to call more than once.
func (s *RoomSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dispose := s.dispose
	s.dispose = nil
	s.mu.Unlock()

	if dispose != nil {
		dispose()
	}
}

func cursorsEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
