package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/squadchat/internal/model"
)

var (
	// ErrEmptyContent is returned before any network call when the trimmed
	// message body is empty.
	ErrEmptyContent = errors.New("chat: message content is empty")
	// ErrMissingIdentity is returned when the room or sender id is not set.
	ErrMissingIdentity = errors.New("chat: room and sender ids are required")
	// ErrSendInFlight is returned when a send for the same room has not
	// resolved yet. The second attempt is rejected, not queued.
	ErrSendInFlight = errors.New("chat: a send is already in flight for this room")
)

// Sender validates and persists outgoing messages. It deliberately does not
// echo the message into a local Store: the sent message comes back through
// the live channel, so sender and recipients render through one code path.
// An optimistic local insert reconciled by id on echo would be equally safe
// given the store's dedup, it is just not what this pipeline does.
type Sender struct {
	backend  Backend
	senderID string

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewSender(backend Backend, senderID string) *Sender {
	return &Sender{
		backend:  backend,
		senderID: senderID,
		inFlight: make(map[string]struct{}),
	}
}

// Send trims and persists content for roomID. Validation failures and the
// one-in-flight-per-room rule reject locally, before any backend call.
// Backend errors surface unchanged; there is no automatic retry, the caller
// keeps the input so the user can resubmit.
func (s *Sender) Send(ctx context.Context, roomID, content string) (*model.Message, error) {
	if roomID == "" || s.senderID == "" {
		return nil, ErrMissingIdentity
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	s.mu.Lock()
	if _, busy := s.inFlight[roomID]; busy {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	s.inFlight[roomID] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, roomID)
		s.mu.Unlock()
	}()

	return s.backend.InsertMessage(ctx, roomID, content)
}
