package chat

import (
	"context"
	"time"
)

// Paginator fetches history pages for one room, newest page first. It keeps
// no cursor state: FetchPage is idempotent for a given cursor and the caller
// does the bookkeeping, so an abandoned fetch leaves nothing behind.
type Paginator struct {
	backend Backend
	roomID  string
	limit   int
}

func NewPaginator(backend Backend, roomID string, limit int) *Paginator {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return &Paginator{backend: backend, roomID: roomID, limit: limit}
}

// FetchPage returns the most recent limit messages when before is nil, or the
// limit messages strictly older than before otherwise. The page is returned
// in chronological order. On error nothing is produced and the error surfaces
// unchanged.
//
// HasMore is inferred from a full page: exactly limit messages means there may
// be older ones, and NextCursor is then the oldest timestamp in the page.
func (p *Paginator) FetchPage(ctx context.Context, before *time.Time) (*Page, error) {
	msgs, err := p.backend.FetchMessages(ctx, p.roomID, p.limit, before)
	if err != nil {
		return nil, err
	}

	// Backend serves newest first; the store wants ascending.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	page := &Page{Messages: msgs, HasMore: len(msgs) == p.limit}
	if page.HasMore {
		oldest := msgs[0].CreatedAt
		page.NextCursor = &oldest
	}
	return page, nil
}
