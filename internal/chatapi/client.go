// Package chatapi adapts the squadchat HTTP/WS API to the interfaces the
// chat core consumes: Client implements chat.Backend over HTTP, EventSource
// implements chat.EventSource over a websocket.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/squadchat/internal/model"
)

// APIError is a non-2xx answer from the server, carrying the decoded error
// body when one was present.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("chatapi: %d %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("chatapi: unexpected status %d", e.StatusCode)
}

// Client talks to the squadchat API with a bearer token. It implements
// chat.Backend.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) FetchMessages(ctx context.Context, roomID string, limit int, before *time.Time) ([]model.Message, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	if before != nil {
		q.Set("before", before.Format(time.RFC3339Nano))
	}
	path := fmt.Sprintf("/api/rooms/%s/messages?%s", url.PathEscape(roomID), q.Encode())

	var out []model.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) InsertMessage(ctx context.Context, roomID, content string) (*model.Message, error) {
	path := fmt.Sprintf("/api/rooms/%s/messages", url.PathEscape(roomID))
	body := map[string]string{"content": content}

	var out model.Message
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchRooms(ctx context.Context) ([]model.RoomDetail, error) {
	var out []model.RoomDetail
	if err := c.do(ctx, http.MethodGet, "/api/rooms", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchUnreadCounts(ctx context.Context, roomIDs []string) (map[string]int, error) {
	if len(roomIDs) == 0 {
		return map[string]int{}, nil
	}
	q := url.Values{}
	q.Set("ids", strings.Join(roomIDs, ","))

	var out map[string]int
	if err := c.do(ctx, http.MethodGet, "/api/rooms/unread?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MarkRead(ctx context.Context, roomID string) error {
	path := fmt.Sprintf("/api/rooms/%s/read", url.PathEscape(roomID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("chatapi: marshal request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("chatapi: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chatapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chatapi: decode response: %w", err)
	}
	return nil
}
