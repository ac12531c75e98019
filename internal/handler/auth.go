package handler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/squadchat/internal/logger"
	"github.com/squadchat/internal/middleware"
	"github.com/squadchat/internal/repository"
	"github.com/squadchat/internal/storage"
)

// AuthHandler выпускает и отзывает сессионные токены. Эндпоинты закрыты
// middleware.InternalOnly: их вызывает identity-сервис платформы, сам чат
// логин-флоу не реализует.
type AuthHandler struct {
	userRepo *repository.UserRepository
	store    storage.SessionStore
}

func NewAuthHandler(userRepo *repository.UserRepository, store storage.SessionStore) *AuthHandler {
	return &AuthHandler{userRepo: userRepo, store: store}
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type createSessionResponse struct {
	Token string `json:"token"`
}

func (h *AuthHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if _, err := h.userRepo.GetByID(r.Context(), req.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to check user")
		return
	}

	token, err := newToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	if err := h.store.SetSession(r.Context(), token, req.UserID); err != nil {
		logger.Errorf("create session user=%s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to store session")
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{Token: token})
}

func (h *AuthHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := h.store.DeleteSession(r.Context(), token); err != nil {
		logger.Errorf("delete session token=%s: %v", middleware.MaskToken(token), err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
