package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/squadchat/internal/logger"
	"github.com/squadchat/internal/middleware"
	"github.com/squadchat/internal/model"
	"github.com/squadchat/internal/repository"
	"github.com/squadchat/internal/ws"
)

type RoomHandler struct {
	roomRepo *repository.RoomRepository
	userRepo *repository.UserRepository
	msgRepo  *repository.MessageRepository
	hub      *ws.Hub
}

func NewRoomHandler(roomRepo *repository.RoomRepository, userRepo *repository.UserRepository, msgRepo *repository.MessageRepository, hub *ws.Hub) *RoomHandler {
	return &RoomHandler{roomRepo: roomRepo, userRepo: userRepo, msgRepo: msgRepo, hub: hub}
}

type createRoomRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

// CreateRoom создаёт комнату. Тип вычисляется один раз по числу участников:
// ровно два — direct (существующая личная комната переиспользуется), больше
// двух — group. Создатель всегда участник, даже если не указан в member_ids.
func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	currentUserID := middleware.GetUserID(r.Context())
	memberIDs := dedupeIDs(append(req.MemberIDs, currentUserID))
	if len(memberIDs) < 2 {
		writeError(w, http.StatusBadRequest, "at least one other member is required")
		return
	}

	for _, uid := range memberIDs {
		if uid == currentUserID {
			continue
		}
		if _, err := h.userRepo.GetByID(r.Context(), uid); err != nil {
			writeError(w, http.StatusNotFound, "user not found: "+uid)
			return
		}
	}

	roomType := model.RoomTypeDirect
	if len(memberIDs) > 2 {
		roomType = model.RoomTypeGroup
	}

	if roomType == model.RoomTypeDirect {
		other := memberIDs[0]
		if other == currentUserID {
			other = memberIDs[1]
		}
		existing, err := h.roomRepo.FindDirectRoom(r.Context(), currentUserID, other)
		if err == nil && existing != nil {
			detail, err := h.enrichRoom(r.Context(), existing, currentUserID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to load room")
				return
			}
			writeJSON(w, http.StatusOK, detail)
			return
		}
		if !errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "failed to check existing room")
			return
		}
	}

	now := time.Now().UTC()
	room := &model.Room{
		ID:        uuid.New().String(),
		RoomType:  roomType,
		Name:      strings.TrimSpace(req.Name),
		CreatedBy: currentUserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.roomRepo.Create(r.Context(), room); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	for _, uid := range memberIDs {
		member := &model.RoomMember{RoomID: room.ID, UserID: uid, JoinedAt: now}
		if err := h.roomRepo.AddMember(r.Context(), member); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to add member")
			return
		}
	}

	detail, err := h.enrichRoom(r.Context(), room, currentUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load room")
		return
	}

	h.hub.NotifyRoomCreated(r.Context(), room.ID, detail)
	writeJSON(w, http.StatusCreated, detail)
}

// GetUserRooms возвращает комнаты пользователя с участниками, последним
// сообщением и числом непрочитанных. Непрочитанные считаются одним батч-запросом
// по всем комнатам, а не по одной на комнату.
func (h *RoomHandler) GetUserRooms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	rooms, err := h.roomRepo.GetUserRooms(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get rooms")
		return
	}

	roomIDs := make([]string, 0, len(rooms))
	for i := range rooms {
		roomIDs = append(roomIDs, rooms[i].ID)
	}
	counts, err := h.roomRepo.GetUnreadCounts(ctx, roomIDs, userID)
	if err != nil {
		logger.Errorf("GetUserRooms unread counts user=%s: %v", userID, err)
		counts = map[string]int{}
	}

	result := make([]model.RoomDetail, 0, len(rooms))
	for i := range rooms {
		detail, err := h.enrichRoom(ctx, &rooms[i], userID)
		if err != nil {
			// Одна сломанная комната не валит весь список.
			logger.Errorf("GetUserRooms enrich room=%s: %v", rooms[i].ID, err)
			continue
		}
		detail.UnreadCount = counts[rooms[i].ID]
		result = append(result, *detail)
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	isMember, err := h.roomRepo.IsMember(r.Context(), roomID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	room, err := h.roomRepo.GetByID(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get room")
		return
	}

	detail, err := h.enrichRoom(r.Context(), room, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load room")
		return
	}
	counts, err := h.roomRepo.GetUnreadCounts(r.Context(), []string{roomID}, userID)
	if err == nil {
		detail.UnreadCount = counts[roomID]
	}
	writeJSON(w, http.StatusOK, detail)
}

// GetUnreadCounts — батч непрочитанных: GET /api/rooms/unread?ids=a,b,c.
// Пустой ids — пустой объект без похода в БД.
func (h *RoomHandler) GetUnreadCounts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	raw := strings.TrimSpace(r.URL.Query().Get("ids"))
	if raw == "" {
		writeJSON(w, http.StatusOK, map[string]int{})
		return
	}
	roomIDs := dedupeIDs(strings.Split(raw, ","))

	counts, err := h.roomRepo.GetUnreadCounts(r.Context(), roomIDs, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get unread counts")
		return
	}
	// Комнаты без непрочитанных тоже попадают в ответ: клиенту нужен явный ноль.
	for _, id := range roomIDs {
		if _, ok := counts[id]; !ok {
			counts[id] = 0
		}
	}
	writeJSON(w, http.StatusOK, counts)
}

// MarkRead сдвигает водяной знак прочитанного на текущий момент.
// Вызывается клиентом при открытии комнаты.
func (h *RoomHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	isMember, err := h.roomRepo.IsMember(r.Context(), roomID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	if err := h.roomRepo.MarkRead(r.Context(), roomID, userID, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}

	h.hub.BroadcastToRoom(r.Context(), roomID, ws.OutgoingEvent{
		Type:    ws.EventMessageRead,
		Payload: ws.MessageReadPayload{RoomID: roomID, UserID: userID},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type updateRoomRequest struct {
	Name string `json:"name"`
}

// UpdateRoom переименовывает групповую комнату. Rename сдвигает updated_at,
// так что комната поднимается в списке.
func (h *RoomHandler) UpdateRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	var req updateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	room, err := h.roomRepo.GetByID(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if room.RoomType != model.RoomTypeGroup {
		writeError(w, http.StatusBadRequest, "only group rooms can be renamed")
		return
	}
	isMember, err := h.roomRepo.IsMember(r.Context(), roomID, userID)
	if err != nil || !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	if err := h.roomRepo.Rename(r.Context(), roomID, name); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to rename room")
		return
	}

	room, err = h.roomRepo.GetByID(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load room")
		return
	}
	detail, err := h.enrichRoom(r.Context(), room, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load room")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type addMembersRequest struct {
	MemberIDs []string `json:"member_ids"`
}

func (h *RoomHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	var req addMembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	room, err := h.roomRepo.GetByID(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if room.RoomType != model.RoomTypeGroup {
		writeError(w, http.StatusBadRequest, "only group rooms support adding members")
		return
	}

	isMember, err := h.roomRepo.IsMember(r.Context(), roomID, userID)
	if err != nil || !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	now := time.Now().UTC()
	actorName := h.displayName(r.Context(), userID)
	for _, uid := range dedupeIDs(req.MemberIDs) {
		added, err := h.userRepo.GetByID(r.Context(), uid)
		if err != nil {
			logger.Errorf("addMember unknown user room=%s user=%s: %v", roomID, uid, err)
			continue
		}
		member := &model.RoomMember{RoomID: roomID, UserID: uid, JoinedAt: now}
		if err := h.roomRepo.AddMember(r.Context(), member); err != nil {
			logger.Errorf("addMember room=%s user=%s: %v", roomID, uid, err)
			continue
		}
		h.postSystemMessage(r.Context(), roomID, actorName+" added "+added.ToPublic().DisplayName()+" to the group")
		h.hub.BroadcastToRoom(r.Context(), roomID, ws.OutgoingEvent{
			Type:    ws.EventMemberAdded,
			Payload: ws.MemberAddedPayload{RoomID: roomID, UserID: uid, Username: added.Username},
		})
	}

	if err := h.roomRepo.Touch(r.Context(), roomID); err != nil {
		logger.Errorf("addMember touch room=%s: %v", roomID, err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RemoveMember удаляет участника. Разрешено создателю комнаты или самому
// участнику (что эквивалентно leave).
func (h *RoomHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	memberID := chi.URLParam(r, "memberId")
	userID := middleware.GetUserID(r.Context())

	room, err := h.roomRepo.GetByID(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if room.RoomType != model.RoomTypeGroup {
		writeError(w, http.StatusBadRequest, "only group rooms support removing members")
		return
	}
	if room.CreatedBy != userID && userID != memberID {
		writeError(w, http.StatusForbidden, "only the room creator can remove members")
		return
	}

	if err := h.roomRepo.RemoveMember(r.Context(), roomID, memberID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove member")
		return
	}
	if err := h.roomRepo.Touch(r.Context(), roomID); err != nil {
		logger.Errorf("removeMember touch room=%s: %v", roomID, err)
	}

	removedName := h.displayName(r.Context(), memberID)
	if userID == memberID {
		h.postSystemMessage(r.Context(), roomID, removedName+" left the group")
	} else {
		h.postSystemMessage(r.Context(), roomID, h.displayName(r.Context(), userID)+" removed "+removedName+" from the group")
	}
	h.hub.BroadcastToRoom(r.Context(), roomID, ws.OutgoingEvent{
		Type:    ws.EventMemberRemoved,
		Payload: ws.MemberRemovedPayload{RoomID: roomID, UserID: memberID, IsLeave: userID == memberID},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *RoomHandler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	isMember, err := h.roomRepo.IsMember(r.Context(), roomID, userID)
	if err != nil || !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	// Уведомляем до удаления: после RemoveMember ушедший уже не получит событие.
	h.hub.BroadcastToRoom(r.Context(), roomID, ws.OutgoingEvent{
		Type:    ws.EventMemberRemoved,
		Payload: ws.MemberRemovedPayload{RoomID: roomID, UserID: userID, IsLeave: true},
	})

	if err := h.roomRepo.RemoveMember(r.Context(), roomID, userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to leave room")
		return
	}
	if err := h.roomRepo.Touch(r.Context(), roomID); err != nil {
		logger.Errorf("leaveRoom touch room=%s: %v", roomID, err)
	}
	h.postSystemMessage(r.Context(), roomID, h.displayName(r.Context(), userID)+" left the group")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// postSystemMessage пишет в комнату сервисное сообщение без отправителя
// (вступление/выход участника) и рассылает его как обычное new_message.
// Ошибка не прерывает вызывающую операцию.
func (h *RoomHandler) postSystemMessage(ctx context.Context, roomID, content string) {
	msg := &model.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.msgRepo.Create(ctx, msg); err != nil {
		logger.Errorf("postSystemMessage room=%s: %v", roomID, err)
		return
	}
	h.hub.BroadcastMessage(ctx, msg)
}

// displayName возвращает имя пользователя для сервисных сообщений.
func (h *RoomHandler) displayName(ctx context.Context, userID string) string {
	u, err := h.userRepo.GetByID(ctx, userID)
	if err != nil {
		return userID
	}
	return u.ToPublic().DisplayName()
}

func (h *RoomHandler) enrichRoom(ctx context.Context, room *model.Room, userID string) (*model.RoomDetail, error) {
	members, err := h.roomRepo.GetMembers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	pubMembers := make([]model.UserPublic, 0, len(members))
	for _, m := range members {
		pubMembers = append(pubMembers, m.ToPublic())
	}

	lastMsg, err := h.msgRepo.GetLastMessage(ctx, room.ID)
	if err != nil {
		logger.Errorf("enrichRoom get last message room=%s: %v", room.ID, err)
	}

	return &model.RoomDetail{
		Room:        *room,
		Members:     pubMembers,
		LastMessage: lastMsg,
	}, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
