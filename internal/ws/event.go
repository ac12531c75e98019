package ws

// Wire protocol: the client opens /ws, then narrows delivery with a
// subscribe event carrying the room ids it wants (a single room for an open
// conversation, the full list for the room index). The server acks with
// "subscribed" and from then on pushes room-scoped events matching the
// filter, in insert order.

type EventType string

const (
	// client -> server
	EventSubscribe EventType = "subscribe"

	// server -> client
	EventSubscribed    EventType = "subscribed"
	EventNewMessage    EventType = "new_message"
	EventMessageRead   EventType = "message_read"
	EventRoomCreated   EventType = "room_created"
	EventMemberAdded   EventType = "member_added"
	EventMemberRemoved EventType = "member_removed"
	EventUserOnline    EventType = "user_online"
	EventUserOffline   EventType = "user_offline"
	EventError         EventType = "error"
)

// IncomingEvent is what the client sends to the server.
type IncomingEvent struct {
	Type    EventType `json:"type"`
	RoomIDs []string  `json:"room_ids,omitempty"`
}

// OutgoingEvent is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// SubscribedPayload acks a subscribe with the rooms actually granted
// (non-member rooms are dropped silently).
type SubscribedPayload struct {
	RoomIDs []string `json:"room_ids"`
}

// MessageReadPayload is pushed when a member advances their read watermark.
type MessageReadPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// MemberAddedPayload is pushed when a member joins a group room.
type MemberAddedPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// MemberRemovedPayload is pushed when a member is removed or leaves.
type MemberRemovedPayload struct {
	RoomID  string `json:"room_id"`
	UserID  string `json:"user_id"`
	IsLeave bool   `json:"is_leave"`
}

// UserStatusPayload is pushed for online/offline presence changes.
type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}
