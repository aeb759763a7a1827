package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/delivery"
	"github.com/vedran77/courier/internal/service"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBufSize  = 256
)

// Client represents a single WebSocket connection. It doubles as the user's
// presence route: Deliver pushes an already-encoded event onto the send
// buffer without blocking.
type Client struct {
	conn    *websocket.Conn
	userID  uuid.UUID
	service *service.ChatService
	log     *zap.SugaredLogger

	send chan []byte
	done chan struct{}
}

func NewClient(conn *websocket.Conn, userID uuid.UUID, svc *service.ChatService, log *zap.SugaredLogger) *Client {
	return &Client{
		conn:    conn,
		userID:  userID,
		service: svc,
		log:     log,
		send:    make(chan []byte, sendBufSize),
		done:    make(chan struct{}),
	}
}

// Deliver implements presence.Route. It must not block: a slow client drops
// events rather than stalling a sender's pipeline.
func (c *Client) Deliver(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ReadPump reads inbound events until the connection drops, then tears down
// the session's presence registration.
func (c *Client) ReadPump() {
	defer func() {
		c.service.UnregisterSession(c.userID, c)
		close(c.done)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var event delivery.Event
		err := wsjson.Read(context.Background(), c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.log.Debugw("ws client disconnected", "user", c.userID)
			} else {
				c.log.Debugw("ws read error", "user", c.userID, "err", err)
			}
			return
		}

		c.handleEvent(&event)
	}
}

// WritePump writes buffered events to the WebSocket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.log.Debugw("ws write error", "user", c.userID, "err", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// --- Client → Server payloads ---

type typingPayload struct {
	ToID uuid.UUID `json:"to_id"`
}

type readPayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

type deliveredPayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

func (c *Client) handleEvent(event *delivery.Event) {
	switch event.Type {
	case delivery.EventTypingStart, delivery.EventTypingStop:
		var p typingPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.ToID == uuid.Nil {
			c.sendError("INVALID_PAYLOAD", "typing events need to_id")
			return
		}
		c.service.SendTyping(c.userID, p.ToID, event.Type == delivery.EventTypingStart)

	case delivery.EventMessageRead:
		var p readPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.MessageID == uuid.Nil {
			c.sendError("INVALID_PAYLOAD", "message:read needs message_id")
			return
		}
		if _, err := c.service.MarkRead(context.Background(), p.MessageID, c.userID); err != nil {
			c.sendError("READ_FAILED", err.Error())
		}

	case "message:delivered":
		var p deliveredPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.MessageID == uuid.Nil {
			c.sendError("INVALID_PAYLOAD", "message:delivered needs message_id")
			return
		}
		if _, err := c.service.MarkDelivered(context.Background(), p.MessageID); err != nil {
			c.log.Debugw("delivered ack failed", "user", c.userID, "err", err)
		}

	case "ping":
		c.sendRaw(`{"type":"pong"}`)

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) sendError(code, message string) {
	evt, err := delivery.NewEvent("error", map[string]string{"code": code, "message": message})
	if err != nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	c.Deliver(data)
}

func (c *Client) sendRaw(s string) {
	c.Deliver([]byte(s))
}
