// Package chat is the client-side core of the messaging module: message
// store, history pagination, live subscription management, unread counts,
// room-list projection and the send pipeline. It is transport-agnostic and
// holds no package-level state; everything it needs (backend, event source,
// identities, callbacks) is passed in explicitly.
package chat

import (
	"context"
	"time"

	"github.com/squadchat/internal/model"
)

// DefaultPageSize is the history page size used when a paginator is built
// with a non-positive limit.
const DefaultPageSize = 50

// Backend is the persistence/query surface the core depends on. Errors from
// the backend are returned to the caller unchanged; the core never retries
// or swallows them.
type Backend interface {
	// FetchMessages returns up to limit messages of a room, newest first.
	// When before is set, only messages created strictly earlier are returned.
	FetchMessages(ctx context.Context, roomID string, limit int, before *time.Time) ([]model.Message, error)
	// InsertMessage persists an outgoing message and returns the stored row
	// with its server-assigned id and timestamp.
	InsertMessage(ctx context.Context, roomID, content string) (*model.Message, error)
	// FetchRooms returns the caller's rooms with members and last message.
	FetchRooms(ctx context.Context) ([]model.RoomDetail, error)
	// FetchUnreadCounts batch-computes unread counts for the given rooms.
	FetchUnreadCounts(ctx context.Context, roomIDs []string) (map[string]int, error)
	// MarkRead advances the caller's read watermark for a room to now.
	MarkRead(ctx context.Context, roomID string) error
}

// Status is the connection state of a live channel. Failure states are
// terminal for that attempt: the core never retries internally, the consumer
// owns retry policy (typically by opening a fresh subscription).
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusSubscribed
	StatusChannelError
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusSubscribed:
		return "subscribed"
	case StatusChannelError:
		return "channel_error"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// InsertHandler receives a newly inserted message matching the channel scope.
type InsertHandler func(m model.Message)

// StatusHandler observes channel status transitions. Statuses are reported,
// never returned as errors.
type StatusHandler func(s Status)

// Channel is one open live subscription.
type Channel interface {
	// Dispose tears the channel down. The transport may close asynchronously;
	// callers that need a hard delivery cut-off go through Subscriber, whose
	// disposer is synchronous.
	Dispose()
}

// EventSource opens live channels filtered to a set of rooms. Implementations
// deliver inserts in server order within one channel; no ordering is promised
// across two channels observing the same insert.
type EventSource interface {
	OpenChannel(ctx context.Context, roomIDs []string, onInsert InsertHandler, onStatus StatusHandler) (Channel, error)
}

// Page is one pagination fetch result. Messages are in chronological order
// even though the backend serves them newest first.
type Page struct {
	Messages []model.Message
	HasMore  bool
	// NextCursor is the oldest message's timestamp in this page, set only
	// when HasMore.
	NextCursor *time.Time
}

// MessagePreview is the last-message summary shown in the room list.
type MessagePreview struct {
	Content     string
	CreatedAt   time.Time
	SenderLabel string
}

// RoomView is the projected view model the room list renders. Recomputed
// from underlying data, never persisted.
type RoomView struct {
	RoomID      string
	DisplayName string
	AvatarURL   string
	Initials    string
	LastMessage *MessagePreview
	MemberCount int
	Unread      int
	// SortKey is max(last message time, room updated, room created).
	SortKey time.Time
}
