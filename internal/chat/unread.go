package chat

import (
	"context"
	"sync"
)

// UnreadAggregator holds a pull-based snapshot of per-room unread counts.
// The snapshot is replaced wholesale by Refresh, never mutated in place by
// live events; the consumer triggers Refresh when the room set changes or
// after marking a room read.
type UnreadAggregator struct {
	backend Backend

	mu     sync.RWMutex
	counts map[string]int
}

func NewUnreadAggregator(backend Backend) *UnreadAggregator {
	return &UnreadAggregator{backend: backend, counts: map[string]int{}}
}

// Refresh recomputes counts for roomIDs in one batched backend call.
// An empty room set resets the snapshot without touching the backend.
func (a *UnreadAggregator) Refresh(ctx context.Context, roomIDs []string) error {
	if len(roomIDs) == 0 {
		a.mu.Lock()
		a.counts = map[string]int{}
		a.mu.Unlock()
		return nil
	}

	counts, err := a.backend.FetchUnreadCounts(ctx, roomIDs)
	if err != nil {
		return err
	}
	if counts == nil {
		counts = map[string]int{}
	}
	a.mu.Lock()
	a.counts = counts
	a.mu.Unlock()
	return nil
}

// Count returns the snapshot count for one room, zero when unknown.
func (a *UnreadAggregator) Count(roomID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.counts[roomID]
}

// Counts returns a copy of the current snapshot.
func (a *UnreadAggregator) Counts() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}
