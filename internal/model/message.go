package model

import "time"

// Message неизменяемо после создания. SenderID допускает NULL: отправитель мог
// быть удалён из системы, само сообщение при этом остаётся в истории комнаты.
// CreatedAt назначается сервером (UTC) и служит ключом сортировки и курсором
// пагинации внутри комнаты.
type Message struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"room_id"`
	SenderID  *string     `json:"sender_id"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
	Sender    *UserPublic `json:"sender,omitempty"`
}

// SenderLabel — подпись отправителя для превью в списке комнат.
func (m *Message) SenderLabel() string {
	if m.Sender != nil {
		return m.Sender.DisplayName()
	}
	return ""
}
