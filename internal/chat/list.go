package chat

import (
	"context"
	"sync"

	"github.com/squadchat/internal/model"
)

// RoomList composes the room index: rooms with their last message, the
// unread snapshot, the sorted projection, and one multiplexed live channel
// across all of the user's rooms that keeps last-message previews current.
// Unread counts stay a pull-based snapshot; Refresh re-pulls them after the
// consumer marks a room read.
type RoomList struct {
	backend Backend
	sub     *Subscriber
	agg     *UnreadAggregator
	selfID  string

	mu      sync.Mutex
	rooms   []model.RoomDetail
	closed  bool
	dispose func()

	onChange func()
}

// ListConfig carries the list's collaborators; no ambient defaults.
type ListConfig struct {
	SelfID  string
	Backend Backend
	Source  EventSource
	// OnChange fires when the projected list changes. May be nil.
	OnChange func()
	// OnStatus observes the multiplexed channel status. May be nil.
	OnStatus StatusHandler
}

func NewRoomList(cfg ListConfig) *RoomList {
	return &RoomList{
		backend:  cfg.Backend,
		sub:      NewSubscriber(cfg.Source, cfg.OnStatus),
		agg:      NewUnreadAggregator(cfg.Backend),
		selfID:   cfg.SelfID,
		onChange: cfg.OnChange,
	}
}

// Load fetches the rooms, refreshes the unread snapshot for them in one
// batch, and (re)subscribes the live channel to the new room set. The
// previous channel, if any, is disposed before the new one opens.
func (l *RoomList) Load(ctx context.Context) error {
	rooms, err := l.backend.FetchRooms(ctx)
	if err != nil {
		return err
	}

	roomIDs := make([]string, 0, len(rooms))
	for i := range rooms {
		roomIDs = append(roomIDs, rooms[i].Room.ID)
	}
	if err := l.agg.Refresh(ctx, roomIDs); err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.rooms = rooms
	prev := l.dispose
	l.dispose = nil
	l.mu.Unlock()

	if prev != nil {
		prev()
	}
	if len(roomIDs) > 0 {
		dispose, err := l.sub.Subscribe(ctx, roomIDs, l.onInsert)
		if err != nil {
			return err
		}
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			dispose()
			return nil
		}
		l.dispose = dispose
		l.mu.Unlock()
	}

	l.notify()
	return nil
}

// RefreshUnread re-pulls the unread snapshot for the current room set,
// typically after the consumer marks a room read.
func (l *RoomList) RefreshUnread(ctx context.Context) error {
	l.mu.Lock()
	roomIDs := make([]string, 0, len(l.rooms))
	for i := range l.rooms {
		roomIDs = append(roomIDs, l.rooms[i].Room.ID)
	}
	l.mu.Unlock()

	if err := l.agg.Refresh(ctx, roomIDs); err != nil {
		return err
	}
	l.notify()
	return nil
}

// onInsert updates the affected room's last-message preview. A message for
// a room not in the current set is ignored; the consumer reloads on
// room_created events, which arrive out of band.
func (l *RoomList) onInsert(m model.Message) {
	l.mu.Lock()
	changed := false
	for i := range l.rooms {
		if l.rooms[i].Room.ID != m.RoomID {
			continue
		}
		if l.rooms[i].LastMessage == nil || m.CreatedAt.After(l.rooms[i].LastMessage.CreatedAt) {
			msg := m
			l.rooms[i].LastMessage = &msg
			changed = true
		}
		break
	}
	l.mu.Unlock()
	if changed {
		l.notify()
	}
}

// Rooms returns the current sorted projection.
func (l *RoomList) Rooms() []RoomView {
	l.mu.Lock()
	rooms := make([]model.RoomDetail, len(l.rooms))
	copy(rooms, l.rooms)
	l.mu.Unlock()
	return Project(rooms, l.agg.Counts(), l.selfID)
}

// Unread returns the snapshot count for one room.
func (l *RoomList) Unread(roomID string) int {
	return l.agg.Count(roomID)
}

// Status returns the multiplexed channel status.
func (l *RoomList) Status() Status {
	return l.sub.Status()
}

// Close disposes the live channel synchronously. After Close, results of
// in-flight loads are discarded.
func (l *RoomList) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	dispose := l.dispose
	l.dispose = nil
	l.mu.Unlock()

	if dispose != nil {
		dispose()
	}
}

func (l *RoomList) notify() {
	if l.onChange != nil {
		l.onChange()
	}
}
