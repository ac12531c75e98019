package chat

import (
	"context"
	"sync"

	"github.com/squadchat/internal/model"
)

// Subscriber maintains at most one live channel per scope (a set of room
// ids). Opening a new scope disposes the previous channel first, so a room
// switch never leaks a connection or double-delivers.
//
// Two guarantees the raw EventSource does not give:
//
//   - Disposal is synchronous: once the returned disposer has returned, the
//     insert handler will not be invoked again, even if the transport delivers
//     an event while it tears down.
//   - The insert handler can be swapped without reopening the channel
//     (SwapHandler), so a consumer re-rendering with a fresh closure does not
//     pay a resubscribe.
type Subscriber struct {
	source   EventSource
	onStatus StatusHandler

	mu     sync.Mutex
	active *subscription
	status Status
}

func NewSubscriber(source EventSource, onStatus StatusHandler) *Subscriber {
	return &Subscriber{source: source, onStatus: onStatus, status: StatusDisconnected}
}

// subscription is one channel attempt with a gated, swappable handler slot.
type subscription struct {
	ch Channel

	mu       sync.RWMutex
	handler  InsertHandler
	disposed bool
}

// deliver invokes the handler under the read lock, so dispose (which takes
// the write lock) cannot return while a delivery is still running.
func (s *subscription) deliver(m model.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disposed || s.handler == nil {
		return
	}
	s.handler(m)
}

// dispose blocks until any in-flight deliver has finished, guaranteeing no
// handler call after it returns. Transport teardown may still be async.
func (s *subscription) dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.mu.Unlock()
	if s.ch != nil {
		s.ch.Dispose()
	}
}

// Subscribe opens a channel filtered to roomIDs and routes matching inserts
// to onInsert. The returned disposer is idempotent and synchronous with
// respect to delivery. A previously active channel is disposed before the
// new one opens.
func (sub *Subscriber) Subscribe(ctx context.Context, roomIDs []string, onInsert InsertHandler) (func(), error) {
	sub.mu.Lock()
	if prev := sub.active; prev != nil {
		sub.active = nil
		sub.mu.Unlock()
		prev.dispose()
		sub.mu.Lock()
	}

	s := &subscription{handler: onInsert}
	sub.active = s
	sub.mu.Unlock()

	sub.setStatus(StatusConnecting)

	// Transport status reports go through the same disposal gate as inserts:
	// a channel torn down by the disposer must not overwrite the final
	// Disconnected with a late ChannelError or TimedOut from its reader.
	gatedStatus := func(st Status) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.disposed {
			return
		}
		sub.setStatus(st)
	}

	ch, err := sub.source.OpenChannel(ctx, roomIDs, s.deliver, gatedStatus)
	if err != nil {
		sub.mu.Lock()
		if sub.active == s {
			sub.active = nil
		}
		sub.mu.Unlock()
		sub.setStatus(StatusChannelError)
		return nil, err
	}

	s.mu.Lock()
	s.ch = ch
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		// Disposed while dialing.
		ch.Dispose()
	}

	dispose := func() {
		s.dispose()
		sub.mu.Lock()
		if sub.active == s {
			sub.active = nil
		}
		sub.mu.Unlock()
		sub.setStatus(StatusDisconnected)
	}
	return dispose, nil
}

// SwapHandler replaces the delivery callback of the active channel without
// tearing it down. No-op when nothing is subscribed.
func (sub *Subscriber) SwapHandler(onInsert InsertHandler) {
	sub.mu.Lock()
	s := sub.active
	sub.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.handler = onInsert
	s.mu.Unlock()
}

// Status returns the last observed channel status.
func (sub *Subscriber) Status() Status {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.status
}

func (sub *Subscriber) setStatus(s Status) {
	sub.mu.Lock()
	if sub.status == s {
		sub.mu.Unlock()
		return
	}
	sub.status = s
	cb := sub.onStatus
	sub.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}
