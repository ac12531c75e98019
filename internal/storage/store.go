package storage

import "context"

// SessionStore — хранилище сессионных токенов (token → user_id).
// Токены выпускает платформа (identity-сервис) через внутренний эндпоинт;
// чат-сервис их только проверяет. Реализации: redis.Client и memory.Client
// (для -dev без Redis).
type SessionStore interface {
	SetSession(ctx context.Context, token, userID string) error
	GetSession(ctx context.Context, token string) (userID string, err error)
	DeleteSession(ctx context.Context, token string) error
	Close() error
}
