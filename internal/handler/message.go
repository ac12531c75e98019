package handler

import (
	"encoding/json"
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

const maxMessageLength = 4000

type MessageHandler struct {
	msgRepo  *repository.MessageRepository
	roomRepo *repository.RoomRepository
	userRepo *repository.UserRepository
	hub      *ws.Hub

	pageSize    int
	pageSizeMax int
}

func NewMessageHandler(msgRepo *repository.MessageRepository, roomRepo *repository.RoomRepository, userRepo *repository.UserRepository, hub *ws.Hub, pageSize, pageSizeMax int) *MessageHandler {
	return &MessageHandler{
		msgRepo:     msgRepo,
		roomRepo:    roomRepo,
		userRepo:    userRepo,
		hub:         hub,
		pageSize:    pageSize,
		pageSizeMax: pageSizeMax,
	}
}

// GetMessages отдаёт страницу истории комнаты, от новых к старым.
// Курсор — ?before=RFC3339: возвращаются только сообщения строго раньше него.
// Страница ровно в limit сообщений означает «возможно, есть ещё».
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
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

	limit := queryInt(r, "limit", h.pageSize)
	if limit < 1 {
		limit = h.pageSize
	}
	if limit > h.pageSizeMax {
		limit = h.pageSizeMax
	}

	var before *time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		before = &t
	}

	messages, err := h.msgRepo.ListBefore(r.Context(), roomID, limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage сохраняет сообщение и рассылает его всем подписанным участникам,
// включая отправителя: клиент не делает локального эха и ждёт своё сообщение
// по тому же каналу, что и чужие.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(content) > maxMessageLength {
		writeError(w, http.StatusBadRequest, "content too long")
		return
	}

	isMember, err := h.roomRepo.IsMember(r.Context(), roomID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	msg := &model.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		SenderID:  &userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.msgRepo.Create(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	if sender, err := h.userRepo.GetByID(r.Context(), userID); err == nil {
		pub := sender.ToPublic()
		msg.Sender = &pub
	} else {
		logger.Errorf("sendMessage load sender user=%s: %v", userID, err)
	}

	if err := h.roomRepo.Touch(r.Context(), roomID); err != nil {
		logger.Errorf("sendMessage touch room=%s: %v", roomID, err)
	}

	h.hub.BroadcastMessage(r.Context(), msg)
	writeJSON(w, http.StatusCreated, msg)
}
