package model

import "time"

type RoomType string

const (
	RoomTypeDirect RoomType = "direct"
	RoomTypeGroup  RoomType = "group"
)

// Room — контейнер переписки. RoomType вычисляется один раз при создании
// (group, если участников больше двух) и дальше не пересчитывается.
type Room struct {
	ID        string    `json:"id"`
	RoomType  RoomType  `json:"room_type"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoomMember — пара (комната, пользователь). Не мутирует после создания,
// кроме last_read_at — водяной знак прочитанного (по умолчанию равен joined_at).
type RoomMember struct {
	RoomID     string    `json:"room_id"`
	UserID     string    `json:"user_id"`
	JoinedAt   time.Time `json:"joined_at"`
	LastReadAt time.Time `json:"last_read_at"`
}

// RoomDetail — комната с участниками, последним сообщением и числом непрочитанных.
type RoomDetail struct {
	Room        Room         `json:"room"`
	Members     []UserPublic `json:"members"`
	LastMessage *Message     `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
}
