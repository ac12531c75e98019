package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestFetchPageEmptyRoom(t *testing.T) {
	backend := newFakeBackend()
	pag := NewPaginator(backend, "r1", 50)

	page, err := pag.FetchPage(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Messages) != 0 {
		t.Errorf("messages = %d, want 0", len(page.Messages))
	}
	if page.HasMore {
		t.Error("HasMore = true, want false")
	}
	if page.NextCursor != nil {
		t.Error("NextCursor set for empty room")
	}
}

func TestFetchPageExactLimit(t *testing.T) {
	backend := newFakeBackend()
	for i := 0; i < 3; i++ {
		backend.seed("r1", fmt.Sprintf("m%d", i), "x", ts(i))
	}
	pag := NewPaginator(backend, "r1", 3)

	page, err := pag.FetchPage(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	// A full page means there may be more, even when there is not.
	if !page.HasMore {
		t.Error("HasMore = false for a full page, want true")
	}
	if page.NextCursor == nil || !page.NextCursor.Equal(ts(0)) {
		t.Errorf("NextCursor = %v, want %v", page.NextCursor, ts(0))
	}

	// The follow-up fetch past the cursor is empty and final.
	next, err := pag.FetchPage(context.Background(), page.NextCursor)
	if err != nil {
		t.Fatalf("FetchPage(cursor): %v", err)
	}
	if len(next.Messages) != 0 || next.HasMore {
		t.Errorf("follow-up page = %d messages, HasMore=%v; want empty final page", len(next.Messages), next.HasMore)
	}
}

func TestFetchPageLimitPlusOne(t *testing.T) {
	backend := newFakeBackend()
	for i := 0; i < 4; i++ {
		backend.seed("r1", fmt.Sprintf("m%d", i), "x", ts(i))
	}
	pag := NewPaginator(backend, "r1", 3)

	page, err := pag.FetchPage(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(page.Messages))
	}
	// Chronological within the page: m1, m2, m3 (m0 is older than the page).
	if page.Messages[0].ID != "m1" || page.Messages[2].ID != "m3" {
		t.Errorf("page order = %s..%s, want m1..m3", page.Messages[0].ID, page.Messages[2].ID)
	}
	if !page.HasMore {
		t.Error("HasMore = false, want true")
	}
	if page.NextCursor == nil || !page.NextCursor.Equal(ts(1)) {
		t.Errorf("NextCursor = %v, want %v", page.NextCursor, ts(1))
	}

	next, err := pag.FetchPage(context.Background(), page.NextCursor)
	if err != nil {
		t.Fatalf("FetchPage(cursor): %v", err)
	}
	if len(next.Messages) != 1 || next.Messages[0].ID != "m0" {
		t.Fatalf("second page = %v, want [m0]", next.Messages)
	}
	if next.HasMore {
		t.Error("second page HasMore = true, want false")
	}
}

func TestFetchPageIdempotent(t *testing.T) {
	backend := newFakeBackend()
	for i := 0; i < 5; i++ {
		backend.seed("r1", fmt.Sprintf("m%d", i), "x", ts(i))
	}
	pag := NewPaginator(backend, "r1", 2)

	first, err := pag.FetchPage(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	second, err := pag.FetchPage(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchPage repeat: %v", err)
	}
	if len(first.Messages) != len(second.Messages) {
		t.Fatalf("repeat fetch differs in length: %d vs %d", len(first.Messages), len(second.Messages))
	}
	for i := range first.Messages {
		if first.Messages[i].ID != second.Messages[i].ID {
			t.Errorf("repeat fetch differs at %d: %s vs %s", i, first.Messages[i].ID, second.Messages[i].ID)
		}
	}
	if first.HasMore != second.HasMore {
		t.Error("repeat fetch differs in HasMore")
	}
}

func TestFetchPageErrorSurfacesUnchanged(t *testing.T) {
	backend := newFakeBackend()
	wantErr := errors.New("connection refused")
	backend.fetchErr = wantErr
	pag := NewPaginator(backend, "r1", 50)

	page, err := pag.FetchPage(context.Background(), nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if page != nil {
		t.Error("page returned alongside error")
	}
}
