package ws

import (
	"context"
	"sync"
	"time"

	"github.com/squadchat/internal/logger"
	"github.com/squadchat/internal/model"
	"github.com/squadchat/internal/repository"
)

// Hub owns all live WebSocket clients and fans out room-scoped events.
// Delivery order within one connection matches the order Broadcast* is called
// in, which for messages is server insert order. The hub never retries and
// never buffers past events: history is the HTTP pagination endpoint's job,
// the hub only supplements it with inserts that happen after subscribe.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	roomRepo *repository.RoomRepository
	userRepo *repository.UserRepository

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(roomRepo *repository.RoomRepository, userRepo *repository.UserRepository, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		roomRepo:   roomRepo,
		userRepo:   userRepo,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.userRepo.SetOnline(ctx, c.userID, true); err != nil {
		logger.Errorf("ws set online user=%s: %v", c.userID, err)
	}
	h.broadcastUserStatus(c.userID, true)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.userRepo.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.userID, err)
		}
		h.broadcastUserStatus(c.userID, false)
	}
}

// HandleEvent dispatches incoming WebSocket events.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev IncomingEvent) {
	switch ev.Type {
	case EventSubscribe:
		h.handleSubscribe(ctx, c, ev)
	default:
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "unknown event type"})
	}
}

// handleSubscribe narrows the client's delivery scope to the requested rooms.
// Rooms the user is not a member of are dropped from the grant; the ack
// carries the rooms actually granted so the client can detect the mismatch.
func (h *Hub) handleSubscribe(ctx context.Context, c *Client, ev IncomingEvent) {
	defer logger.DeferLogDuration("ws.handleSubscribe", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	granted := make([]string, 0, len(ev.RoomIDs))
	for _, roomID := range ev.RoomIDs {
		if roomID == "" {
			continue
		}
		isMember, err := h.roomRepo.IsMember(ctx, roomID, c.userID)
		if err != nil {
			logger.Errorf("ws subscribe membership room=%s user=%s: %v", roomID, c.userID, err)
			h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "internal error"})
			return
		}
		if isMember {
			granted = append(granted, roomID)
		}
	}
	c.SetFilter(granted)
	h.sendToClient(c, OutgoingEvent{Type: EventSubscribed, Payload: SubscribedPayload{RoomIDs: granted}})
}

// BroadcastMessage fans a freshly inserted message out to every member of the
// room whose connection subscribed to it. Called by the send handler after the
// row is committed; the sender gets the echo through the same path as everyone
// else, there is no separate local-echo code path.
func (h *Hub) BroadcastMessage(ctx context.Context, m *model.Message) {
	defer logger.DeferLogDuration("ws.BroadcastMessage", time.Now())()
	memberIDs, err := h.roomRepo.GetMemberIDs(ctx, m.RoomID)
	if err != nil {
		logger.Errorf("ws broadcast message room=%s: %v", m.RoomID, err)
		return
	}
	out := OutgoingEvent{Type: EventNewMessage, Payload: m}
	for _, uid := range memberIDs {
		h.sendToUserFiltered(uid, m.RoomID, out)
	}
}

// BroadcastToRoom sends a room-scoped event to all members subscribed to the room.
func (h *Hub) BroadcastToRoom(ctx context.Context, roomID string, ev OutgoingEvent) {
	defer logger.DeferLogDuration("ws.BroadcastToRoom", time.Now())()
	memberIDs, err := h.roomRepo.GetMemberIDs(ctx, roomID)
	if err != nil {
		logger.Errorf("ws broadcast to room %s: %v", roomID, err)
		return
	}
	for _, uid := range memberIDs {
		h.sendToUserFiltered(uid, roomID, ev)
	}
}

// NotifyRoomCreated delivers room_created to the members of a new room.
// The room cannot be in anyone's filter yet, so this bypasses the scope check;
// the client reacts by refreshing its list and resubscribing.
func (h *Hub) NotifyRoomCreated(ctx context.Context, roomID string, detail *model.RoomDetail) {
	memberIDs, err := h.roomRepo.GetMemberIDs(ctx, roomID)
	if err != nil {
		logger.Errorf("ws notify room created %s: %v", roomID, err)
		return
	}
	out := OutgoingEvent{Type: EventRoomCreated, Payload: detail}
	for _, uid := range memberIDs {
		h.sendToUser(uid, out)
	}
}

func (h *Hub) broadcastUserStatus(userID string, online bool) {
	evType := EventUserOffline
	if online {
		evType = EventUserOnline
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rooms, err := h.roomRepo.GetUserRooms(ctx, userID)
	if err != nil {
		logger.Errorf("ws get rooms for status broadcast user=%s: %v", userID, err)
		return
	}

	out := OutgoingEvent{
		Type:    evType,
		Payload: UserStatusPayload{UserID: userID, Online: online},
	}

	notified := make(map[string]struct{}, 16)
	for _, room := range rooms {
		memberIDs, err := h.roomRepo.GetMemberIDs(ctx, room.ID)
		if err != nil {
			logger.Errorf("ws get members for status broadcast room=%s: %v", room.ID, err)
			continue
		}
		for _, uid := range memberIDs {
			if uid == userID {
				continue
			}
			if _, ok := notified[uid]; ok {
				continue
			}
			notified[uid] = struct{}{}
			h.sendToUser(uid, out)
		}
	}
}

// sendToUserFiltered delivers only to connections that subscribed to the room.
func (h *Hub) sendToUserFiltered(userID, roomID string, ev OutgoingEvent) {
	for _, c := range h.userClients(userID) {
		if c.WantsRoom(roomID) {
			h.sendToClient(c, ev)
		}
	}
}

func (h *Hub) sendToUser(userID string, ev OutgoingEvent) {
	for _, c := range h.userClients(userID) {
		h.sendToClient(c, ev)
	}
}

func (h *Hub) userClients(userID string) []*Client {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return nil
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return targets
}

func (h *Hub) sendToClient(c *Client, ev OutgoingEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
