package chatapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/squadchat/internal/chat"
	"github.com/squadchat/internal/model"
	"github.com/squadchat/internal/ws"
)

// wsTestServer upgrades /ws, acks the subscribe and then streams whatever
// the test pushes into events.
func wsTestServer(t *testing.T, events <-chan ws.OutgoingEvent) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub ws.IncomingEvent
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Type != ws.EventSubscribe {
			t.Errorf("first event = %s, want subscribe", sub.Type)
			return
		}
		ack := ws.OutgoingEvent{
			Type:    ws.EventSubscribed,
			Payload: ws.SubscribedPayload{RoomIDs: sub.RoomIDs},
		}
		if err := conn.WriteJSON(ack); err != nil {
			return
		}
		for ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}))
}

func TestEventSourceDeliversInserts(t *testing.T) {
	events := make(chan ws.OutgoingEvent, 3)
	defer close(events)
	server := wsTestServer(t, events)
	defer server.Close()

	var statuses []chat.Status
	delivered := make(chan model.Message, 2)
	source := NewEventSource(server.URL, "tok")
	ch, err := source.OpenChannel(context.Background(), []string{"r1"},
		func(m model.Message) { delivered <- m },
		func(s chat.Status) { statuses = append(statuses, s) },
	)
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	defer ch.Dispose()

	events <- ws.OutgoingEvent{
		Type:    ws.EventNewMessage,
		Payload: model.Message{ID: "m1", RoomID: "r1", Content: "hello"},
	}
	// Non-insert events must be skipped, not break the stream.
	events <- ws.OutgoingEvent{
		Type:    ws.EventMessageRead,
		Payload: ws.MessageReadPayload{RoomID: "r1", UserID: "u1"},
	}
	events <- ws.OutgoingEvent{
		Type:    ws.EventNewMessage,
		Payload: model.Message{ID: "m2", RoomID: "r1", Content: "again"},
	}

	for _, wantID := range []string{"m1", "m2"} {
		select {
		case m := <-delivered:
			if m.ID != wantID {
				t.Errorf("delivered %s, want %s", m.ID, wantID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", wantID)
		}
	}
}

// A quiet room produces no data frames; the server keeps the connection
// alive with pings, and each ping must extend the client's read deadline.
// readWait is shortened so an unextended deadline would expire mid-test.
func TestEventSourceServerPingsExtendReadDeadline(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub ws.IncomingEvent
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if err := conn.WriteJSON(ws.OutgoingEvent{
			Type:    ws.EventSubscribed,
			Payload: ws.SubscribedPayload{RoomIDs: sub.RoomIDs},
		}); err != nil {
			return
		}

		// Silence except for pings, well past the client's read deadline,
		// then a single insert.
		for i := 0; i < 8; i++ {
			time.Sleep(50 * time.Millisecond)
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
		_ = conn.WriteJSON(ws.OutgoingEvent{
			Type:    ws.EventNewMessage,
			Payload: model.Message{ID: "m1", RoomID: "r1", Content: "after the quiet spell"},
		})
		// Drain the client's pong replies until it disposes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	var mu sync.Mutex
	var statuses []chat.Status
	delivered := make(chan model.Message, 1)
	source := NewEventSource(server.URL, "tok")
	source.readWait = 150 * time.Millisecond

	ch, err := source.OpenChannel(context.Background(), []string{"r1"},
		func(m model.Message) { delivered <- m },
		func(s chat.Status) {
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
		},
	)
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	defer ch.Dispose()

	select {
	case m := <-delivered:
		if m.ID != "m1" {
			t.Errorf("delivered %s, want m1", m.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("insert after the quiet spell never arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, s := range statuses {
		if s == chat.StatusTimedOut {
			t.Fatalf("channel timed out despite server pings (statuses %v)", statuses)
		}
	}
}

func TestEventSourceDialFailure(t *testing.T) {
	var last chat.Status
	source := NewEventSource("http://127.0.0.1:1", "tok")
	_, err := source.OpenChannel(context.Background(), []string{"r1"},
		func(model.Message) {},
		func(s chat.Status) { last = s },
	)
	if err == nil {
		t.Fatal("OpenChannel succeeded against a closed port")
	}
	if last != chat.StatusChannelError {
		t.Errorf("status = %v, want channel_error", last)
	}
}

func TestEventSourceDisposeClosesConnection(t *testing.T) {
	events := make(chan ws.OutgoingEvent)
	server := wsTestServer(t, events)
	defer server.Close()
	defer close(events)

	source := NewEventSource(server.URL, "tok")
	ch, err := source.OpenChannel(context.Background(), []string{"r1"},
		func(model.Message) {}, nil)
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	ch.Dispose()
	ch.Dispose() // idempotent
}
