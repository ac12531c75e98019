package chat

import (
	"context"
	"testing"

	"github.com/squadchat/internal/model"
)

func TestRoomListLoadAndProject(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{}
	backend.rooms = []model.RoomDetail{
		detail("r1", model.RoomTypeDirect, "", ts(0),
			member("self", "", ""), member("u2", "Boris", "Keller"),
		),
		detail("r2", model.RoomTypeGroup, "Coaches", ts(5),
			member("self", "", ""), member("u2", "", ""), member("u3", "", ""),
		),
	}
	backend.unread["r1"] = 2

	list := NewRoomList(ListConfig{SelfID: "self", Backend: backend, Source: source})
	defer list.Close()

	if err := list.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if backend.unreadCalls != 1 {
		t.Errorf("unread calls = %d, want one batch", backend.unreadCalls)
	}

	views := list.Rooms()
	if len(views) != 2 {
		t.Fatalf("views = %d, want 2", len(views))
	}
	if views[0].RoomID != "r2" {
		t.Errorf("first room = %s, want r2 (more recent)", views[0].RoomID)
	}
	byID := map[string]RoomView{}
	for _, v := range views {
		byID[v.RoomID] = v
	}
	if byID["r1"].Unread != 2 {
		t.Errorf("r1 unread = %d, want 2", byID["r1"].Unread)
	}
	if byID["r1"].DisplayName != "Boris Keller" {
		t.Errorf("r1 name = %q, want Boris Keller", byID["r1"].DisplayName)
	}
}

func TestRoomListLiveInsertUpdatesPreviewOnly(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{}
	backend.rooms = []model.RoomDetail{
		detail("r1", model.RoomTypeGroup, "Coaches", ts(0),
			member("self", "", ""), member("u2", "", ""), member("u3", "", ""),
		),
	}

	changes := 0
	list := NewRoomList(ListConfig{
		SelfID: "self", Backend: backend, Source: source,
		OnChange: func() { changes++ },
	})
	defer list.Close()

	if err := list.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	loadChanges := changes

	source.push(msg("m1", "r1", ts(10)))
	if changes != loadChanges+1 {
		t.Fatalf("changes = %d, want %d", changes, loadChanges+1)
	}

	views := list.Rooms()
	if views[0].LastMessage == nil || views[0].LastMessage.Content != "msg m1" {
		t.Fatalf("preview not updated: %+v", views[0].LastMessage)
	}
	if !views[0].SortKey.Equal(ts(10)) {
		t.Errorf("SortKey = %v, want message time", views[0].SortKey)
	}
	// Unread stays a pull-based snapshot.
	if views[0].Unread != 0 {
		t.Errorf("unread = %d, want snapshot value 0", views[0].Unread)
	}

	backend.unread["r1"] = 1
	if err := list.RefreshUnread(context.Background()); err != nil {
		t.Fatalf("RefreshUnread: %v", err)
	}
	if got := list.Unread("r1"); got != 1 {
		t.Errorf("unread after refresh = %d, want 1", got)
	}
}

func TestRoomListReloadResubscribes(t *testing.T) {
	backend := newFakeBackend()
	source := &fakeSource{}
	backend.rooms = []model.RoomDetail{
		detail("r1", model.RoomTypeGroup, "Coaches", ts(0),
			member("self", "", ""), member("u2", "", ""), member("u3", "", ""),
		),
	}

	list := NewRoomList(ListConfig{SelfID: "self", Backend: backend, Source: source})
	defer list.Close()

	if err := list.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := list.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if n := source.openCount(); n != 1 {
		t.Errorf("open channels after reload = %d, want 1", n)
	}
}
