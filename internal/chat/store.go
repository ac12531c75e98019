package chat

import (
	"sort"
	"sync"

	"github.com/squadchat/internal/model"
)

// Store holds the set of messages known for one room, keyed by message id,
// ordered ascending by creation time with id as the deterministic tie-break.
// History pages and live inserts are merged through the same idempotent path,
// so duplicate or out-of-order delivery is harmless.
//
// Live inserts arrive on the event source's read goroutine while pages land
// on the caller's, so the store is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	byID map[string]struct{}
	msgs []model.Message

	// onChange fires after every mutation that actually changed the set,
	// outside the store lock. May be nil.
	onChange func()
}

func NewStore(onChange func()) *Store {
	return &Store{
		byID:     make(map[string]struct{}),
		onChange: onChange,
	}
}

// IngestPage merges a fetched history page. Messages already present are
// dropped, not overwritten.
func (s *Store) IngestPage(p *Page) {
	if p == nil || len(p.Messages) == 0 {
		return
	}
	s.mu.Lock()
	changed := false
	for i := range p.Messages {
		if s.insertLocked(p.Messages[i]) {
			changed = true
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// IngestLive merges one message delivered by the live channel. No-op if the
// message is already known, e.g. delivered twice or already fetched by
// pagination.
func (s *Store) IngestLive(m model.Message) {
	s.mu.Lock()
	changed := s.insertLocked(m)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// insertLocked places m at its sorted position. Returns false on duplicate.
func (s *Store) insertLocked(m model.Message) bool {
	if _, ok := s.byID[m.ID]; ok {
		return false
	}
	s.byID[m.ID] = struct{}{}
	i := sort.Search(len(s.msgs), func(i int) bool {
		if !s.msgs[i].CreatedAt.Equal(m.CreatedAt) {
			return s.msgs[i].CreatedAt.After(m.CreatedAt)
		}
		return s.msgs[i].ID > m.ID
	})
	s.msgs = append(s.msgs, model.Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
	return true
}

// Messages returns a copy of the current sequence, ascending by creation time.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of distinct messages held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
