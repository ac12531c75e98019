// Package memory — in-memory замена Redis для режима -dev: сессии живут
// до рестарта процесса.
package memory

import (
	"context"
	"sync"
	"time"
)

const sessionTTL = 30 * 24 * time.Hour

type entry struct {
	userID string
	exp    time.Time
}

type Client struct {
	mu       sync.RWMutex
	sessions map[string]entry
}

func New() *Client {
	return &Client{sessions: make(map[string]entry)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetSession(ctx context.Context, token, userID string) error {
	c.mu.Lock()
	c.sessions[token] = entry{userID: userID, exp: time.Now().Add(sessionTTL)}
	c.mu.Unlock()
	return nil
}

func (c *Client) GetSession(ctx context.Context, token string) (string, error) {
	c.mu.RLock()
	e, ok := c.sessions[token]
	c.mu.RUnlock()
	if !ok {
		return "", nil
	}
	if time.Now().After(e.exp) {
		c.mu.Lock()
		delete(c.sessions, token)
		c.mu.Unlock()
		return "", nil
	}
	return e.userID, nil
}

func (c *Client) DeleteSession(ctx context.Context, token string) error {
	c.mu.Lock()
	delete(c.sessions, token)
	c.mu.Unlock()
	return nil
}
