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

type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

const roomCols = `id, room_type, COALESCE(name,''), avatar_url, created_by, created_at, updated_at`

func scanRoom(s interface{ Scan(dest ...any) error }, room *model.Room) error {
	return s.Scan(&room.ID, &room.RoomType, &room.Name, &room.AvatarURL, &room.CreatedBy, &room.CreatedAt, &room.UpdatedAt)
}

func (r *RoomRepository) Create(ctx context.Context, room *model.Room) error {
	defer logger.DeferLogDuration("room.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rooms (id, room_type, name, avatar_url, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		room.ID, room.RoomType, room.Name, room.AvatarURL, room.CreatedBy, room.CreatedAt, room.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Create: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetByID", time.Now())()
	room := &model.Room{}
	row := r.pool.QueryRow(ctx, `SELECT `+roomCols+` FROM rooms WHERE id = $1`, id)
	if err := scanRoom(row, room); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("roomRepo.GetByID: %w", err)
	}
	return room, nil
}

// Rename обновляет имя группы и поднимает updated_at (ключ сортировки списка).
func (r *RoomRepository) Rename(ctx context.Context, id, name string) error {
	defer logger.DeferLogDuration("room.Rename", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE rooms SET name = $1, updated_at = NOW() WHERE id = $2`, name, id,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Rename: %w", err)
	}
	return nil
}

// Touch поднимает updated_at комнаты (изменение состава участников и т.п.).
func (r *RoomRepository) Touch(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("room.Touch", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE rooms SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("roomRepo.Touch: %w", err)
	}
	return nil
}

// AddMember добавляет участника. last_read_at инициализируется временем вступления:
// до первого явного прочтения непрочитанными считаются только сообщения после join.
func (r *RoomRepository) AddMember(ctx context.Context, m *model.RoomMember) error {
	defer logger.DeferLogDuration("room.AddMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO room_members (room_id, user_id, joined_at, last_read_at)
		 VALUES ($1, $2, $3, $3) ON CONFLICT DO NOTHING`,
		m.RoomID, m.UserID, m.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.AddMember: %w", err)
	}
	return nil
}

func (r *RoomRepository) RemoveMember(ctx context.Context, roomID, userID string) error {
	defer logger.DeferLogDuration("room.RemoveMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.RemoveMember: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetMembers(ctx context.Context, roomID string) ([]model.User, error) {
	defer logger.DeferLogDuration("room.GetMembers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.username, COALESCE(u.first_name,''), COALESCE(u.last_name,''), u.avatar_url, u.is_online, u.last_seen_at, u.created_at
		 FROM users u
		 JOIN room_members rm ON rm.user_id = u.id
		 WHERE rm.room_id = $1
		 ORDER BY rm.joined_at`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetMembers query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, 8)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("roomRepo.GetMembers scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.GetMembers rows: %w", err)
	}
	return users, nil
}

func (r *RoomRepository) GetMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	defer logger.DeferLogDuration("room.GetMemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM room_members WHERE room_id = $1`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetMemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("roomRepo.GetMemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.GetMemberIDs rows: %w", err)
	}
	return ids, nil
}

func (r *RoomRepository) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	defer logger.DeferLogDuration("room.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("roomRepo.IsMember: %w", err)
	}
	return exists, nil
}

func (r *RoomRepository) GetUserRooms(ctx context.Context, userID string) ([]model.Room, error) {
	defer logger.DeferLogDuration("room.GetUserRooms", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.room_type, COALESCE(r.name,''), r.avatar_url, r.created_by, r.created_at, r.updated_at
		 FROM rooms r
		 JOIN room_members rm ON rm.room_id = r.id
		 WHERE rm.user_id = $1
		 ORDER BY r.updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetUserRooms query: %w", err)
	}
	defer rows.Close()

	rooms := make([]model.Room, 0, 16)
	for rows.Next() {
		var room model.Room
		if err := scanRoom(rows, &room); err != nil {
			return nil, fmt.Errorf("roomRepo.GetUserRooms scan: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.GetUserRooms rows: %w", err)
	}
	return rooms, nil
}

// FindDirectRoom ищет существующую личную комнату для пары пользователей.
func (r *RoomRepository) FindDirectRoom(ctx context.Context, userID1, userID2 string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.FindDirectRoom", time.Now())()
	room := &model.Room{}
	row := r.pool.QueryRow(ctx,
		`SELECT r.id, r.room_type, COALESCE(r.name,''), r.avatar_url, r.created_by, r.created_at, r.updated_at
		 FROM rooms r
		 WHERE r.room_type = 'direct'
		   AND EXISTS (SELECT 1 FROM room_members WHERE room_id = r.id AND user_id = $1)
		   AND EXISTS (SELECT 1 FROM room_members WHERE room_id = r.id AND user_id = $2)`,
		userID1, userID2,
	)
	if err := scanRoom(row, room); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("roomRepo.FindDirectRoom: %w", err)
	}
	return room, nil
}

// MarkRead сдвигает водяной знак прочитанного. GREATEST защищает от отката
// назад при гонке двух запросов (знак только растёт).
func (r *RoomRepository) MarkRead(ctx context.Context, roomID, userID string, t time.Time) error {
	defer logger.DeferLogDuration("room.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE room_members SET last_read_at = GREATEST(last_read_at, $1)
		 WHERE room_id = $2 AND user_id = $3`,
		t, roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.MarkRead: %w", err)
	}
	return nil
}

// GetUnreadCounts считает непрочитанные для набора комнат одним запросом.
// Непрочитанное = чужие сообщения строго после last_read_at. Комнаты без
// непрочитанных в результат не попадают, вызывающий код трактует отсутствие как 0.
func (r *RoomRepository) GetUnreadCounts(ctx context.Context, roomIDs []string, userID string) (map[string]int, error) {
	defer logger.DeferLogDuration("room.GetUnreadCounts", time.Now())()
	counts := make(map[string]int, len(roomIDs))
	if len(roomIDs) == 0 {
		return counts, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT m.room_id, COUNT(*)
		 FROM messages m
		 JOIN room_members rm ON rm.room_id = m.room_id AND rm.user_id = $1
		 WHERE m.room_id = ANY($2)
		   AND m.created_at > rm.last_read_at
		   AND (m.sender_id IS NULL OR m.sender_id != $1)
		 GROUP BY m.room_id`,
		userID, roomIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetUnreadCounts query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roomID string
		var n int
		if err := rows.Scan(&roomID, &n); err != nil {
			return nil, fmt.Errorf("roomRepo.GetUnreadCounts scan: %w", err)
		}
		counts[roomID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.GetUnreadCounts rows: %w", err)
	}
	return counts, nil
}
