package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/squadchat/internal/chat"
	"github.com/squadchat/internal/logger"
	"github.com/squadchat/internal/model"
	"github.com/squadchat/internal/ws"
)

const (
	dialTimeout = 10 * time.Second
	// subscribeAckTimeout bounds the wait for the server's subscribed ack.
	subscribeAckTimeout = 10 * time.Second
	// defaultReadWait is the silence tolerated between server frames. The
	// server keeps quiet channels alive with pings, so both pings and data
	// frames extend the deadline.
	defaultReadWait = 60 * time.Second

	pongWriteTimeout = time.Second
)

// EventSource dials the server's /ws endpoint and exposes it as
// chat.EventSource. Each OpenChannel call is one websocket connection with
// its own subscribe handshake; the chat.Subscriber on top of this enforces
// the one-channel-per-scope discipline.
type EventSource struct {
	wsURL    string
	token    string
	readWait time.Duration
}

// NewEventSource takes the API base URL (http or https) and derives the
// websocket endpoint from it.
func NewEventSource(baseURL, token string) *EventSource {
	u := strings.TrimRight(baseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return &EventSource{wsURL: u + "/ws", token: token, readWait: defaultReadWait}
}

type channel struct {
	conn     *websocket.Conn
	cancel   context.CancelFunc
	readWait time.Duration
	once     sync.Once
}

func (c *channel) Dispose() {
	c.once.Do(func() {
		c.cancel()
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
	})
}

// OpenChannel dials, subscribes to roomIDs and waits for the server's ack
// before reporting subscribed. Inserts are then delivered on a reader
// goroutine in server order until the channel is disposed or fails; failures
// are reported through onStatus, never returned from the reader.
func (s *EventSource) OpenChannel(ctx context.Context, roomIDs []string, onInsert chat.InsertHandler, onStatus chat.StatusHandler) (chat.Channel, error) {
	report := func(st chat.Status) {
		if onStatus != nil {
			onStatus(st)
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	u := s.wsURL + "?token=" + url.QueryEscape(s.token)
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		report(chat.StatusChannelError)
		return nil, fmt.Errorf("chatapi: dial %s: %w", s.wsURL, err)
	}

	sub := ws.IncomingEvent{Type: ws.EventSubscribe, RoomIDs: roomIDs}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		report(chat.StatusChannelError)
		return nil, fmt.Errorf("chatapi: subscribe: %w", err)
	}

	// The ack must arrive before anything else on a fresh connection.
	_ = conn.SetReadDeadline(time.Now().Add(subscribeAckTimeout))
	var ack wireEvent
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		if isTimeout(err) {
			report(chat.StatusTimedOut)
			return nil, fmt.Errorf("chatapi: subscribe ack timed out: %w", err)
		}
		report(chat.StatusChannelError)
		return nil, fmt.Errorf("chatapi: subscribe ack: %w", err)
	}
	if ack.Type != ws.EventSubscribed {
		_ = conn.Close()
		report(chat.StatusChannelError)
		return nil, fmt.Errorf("chatapi: unexpected ack %q", ack.Type)
	}
	report(chat.StatusSubscribed)

	readCtx, cancel := context.WithCancel(context.Background())
	ch := &channel{conn: conn, cancel: cancel, readWait: s.readWait}

	// The server pings idle connections instead of sending data; a ping is
	// proof of liveness, so it must extend the read deadline the same way a
	// data frame does. The handler still answers with a pong, as the default
	// one would.
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(ch.readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(pongWriteTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		if e, ok := err.(net.Error); ok && e.Temporary() {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ch.readWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(ch.readWait))

	go ch.readLoop(readCtx, onInsert, report)
	return ch, nil
}

// wireEvent mirrors ws.OutgoingEvent with the payload left raw so it can be
// decoded per event type.
type wireEvent struct {
	Type    ws.EventType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (c *channel) readLoop(ctx context.Context, onInsert chat.InsertHandler, report func(chat.Status)) {
	for {
		var ev wireEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				// Disposed; the subscriber already reported disconnected.
				return
			}
			if isTimeout(err) {
				report(chat.StatusTimedOut)
			} else {
				report(chat.StatusChannelError)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readWait))

		switch ev.Type {
		case ws.EventNewMessage:
			var m model.Message
			if err := json.Unmarshal(ev.Payload, &m); err != nil {
				logger.Errorf("chatapi: decode new_message: %v", err)
				continue
			}
			onInsert(m)
		default:
			// Presence, read receipts and membership events are not part of
			// the insert stream; consumers poll or reload for those.
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
