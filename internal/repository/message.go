package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/squadchat/internal/logger"
	"github.com/squadchat/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// msgSelect — сообщение с превью отправителя. LEFT JOIN: sender_id может быть
// NULL (отправитель удалён), сообщение при этом остаётся видимым.
const msgSelect = `SELECT m.id, m.room_id, m.sender_id, m.content, m.created_at,
	        u.id, u.username, COALESCE(u.first_name,''), COALESCE(u.last_name,''), u.avatar_url, u.is_online, u.last_seen_at
	 FROM messages m
	 LEFT JOIN users u ON u.id = m.sender_id`

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	var (
		senderID  *string
		uID       *string
		uName     *string
		uFirst    *string
		uLast     *string
		uAvatar   *string
		uOnline   *bool
		uLastSeen *time.Time
	)
	if err := s.Scan(&m.ID, &m.RoomID, &senderID, &m.Content, &m.CreatedAt,
		&uID, &uName, &uFirst, &uLast, &uAvatar, &uOnline, &uLastSeen); err != nil {
		return err
	}
	m.SenderID = senderID
	if uID != nil {
		sender := &model.UserPublic{ID: *uID}
		if uName != nil {
			sender.Username = *uName
		}
		if uFirst != nil {
			sender.FirstName = *uFirst
		}
		if uLast != nil {
			sender.LastName = *uLast
		}
		if uAvatar != nil {
			sender.AvatarURL = *uAvatar
		}
		if uOnline != nil {
			sender.IsOnline = *uOnline
		}
		if uLastSeen != nil {
			sender.LastSeenAt = *uLastSeen
		}
		m.Sender = sender
	}
	return nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, room_id, sender_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.RoomID, m.SenderID, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, msgSelect+` WHERE m.id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListBefore возвращает страницу истории: limit сообщений комнаты, новые
// первыми. При непустом before берутся только сообщения строго старше курсора.
// Вторичная сортировка по id даёт стабильный порядок при равных created_at.
func (r *MessageRepository) ListBefore(ctx context.Context, roomID string, limit int, before *time.Time) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListBefore", time.Now())()
	var (
		rows pgx.Rows
		err  error
	)
	if before != nil {
		rows, err = r.pool.Query(ctx,
			msgSelect+` WHERE m.room_id = $1 AND m.created_at < $2
			 ORDER BY m.created_at DESC, m.id DESC LIMIT $3`,
			roomID, *before, limit,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			msgSelect+` WHERE m.room_id = $1
			 ORDER BY m.created_at DESC, m.id DESC LIMIT $2`,
			roomID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListBefore query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListBefore scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListBefore rows: %w", err)
	}
	return messages, nil
}

func (r *MessageRepository) GetLastMessage(ctx context.Context, roomID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetLastMessage", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		msgSelect+` WHERE m.room_id = $1 ORDER BY m.created_at DESC, m.id DESC LIMIT 1`, roomID,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("msgRepo.GetLastMessage: %w", err)
	}
	return m, nil
}
