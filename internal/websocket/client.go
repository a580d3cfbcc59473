package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one live connection handle, bound to the authenticated user id
// at registration time. Handlers never infer the acting user from anything
// but this binding.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	userID    string
	name      string
	closeOnce sync.Once
	parser    fastjson.Parser
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, name string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		userID: userID,
		name:   name,
	}
}

func (c *Client) UserID() string { return c.userID }

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// ReadPump reads frames until the connection drops, clean or not, then runs
// disconnect cleanup. Events from one connection are processed as discrete,
// non-overlapping units.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Disconnect(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnf("Read error for user %s: %v", c.userID, err)
			}
			break
		}
		c.dispatch(context.Background(), data)
	}
}

// dispatch routes one inbound frame. Handler failures become error events
// on this connection only; they never tear the connection down.
func (c *Client) dispatch(ctx context.Context, data []byte) {
	eventType, payload, eerr := parseFrame(&c.parser, data)
	if eerr != nil {
		c.sendError(eerr)
		return
	}

	switch eventType {
	case EventSendMessage:
		c.hub.handleSendMessage(ctx, c, payload)
	case EventSendGroupMessage:
		c.hub.handleSendGroupMessage(ctx, c, payload)
	case EventTyping:
		c.hub.handleTyping(ctx, c, payload)
	case EventMarkRead:
		c.hub.handleMarkRead(ctx, c, payload)
	case EventAddReaction:
		c.hub.handleAddReaction(ctx, c, payload)
	case EventRemoveReaction:
		c.hub.handleRemoveReaction(ctx, c, payload)
	case EventDeleteMessage:
		c.hub.handleDeleteMessage(ctx, c, payload)
	default:
		c.sendError(errValidation("unknown event type %q", eventType))
	}
}

func (c *Client) sendError(eerr *ErrorPayload) {
	c.hub.sendDirect(c, Event{Type: EventError, Payload: eerr})
}

// WritePump serializes all writes to the connection and keeps it alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
