package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 1 << 20             // Frame ceiling only; message length is enforced by truncation.
)

// Client is a middleman between the websocket connection and the engine.
type Client struct {
	id     string
	engine *Engine
	conn   *websocket.Conn
	log    *slog.Logger

	// Buffered channel of outbound messages.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(engine *Engine, conn *websocket.Conn, log *slog.Logger, buffer int) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		engine: engine,
		conn:   conn,
		log:    log.With("conn", id),
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket and ends the read pump.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump pumps events from the websocket connection to the engine, one at a time.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		// Leave the registry before the socket goes away.
		c.engine.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("Unexpected close", "error", err)
			}
			return
		}

		ev, err := DecodeInbound(raw)
		if err != nil {
			c.log.Debug("Rejected inbound event", "error", err)
			c.engine.send(c, notificationEvent(NotificationError, "Unrecognized event", ""))
			continue
		}
		if err := c.engine.Dispatch(ctx, c, ev); err != nil {
			c.log.Debug("Event not completed", "event", ev.Kind.String(), "error", err)
		}
	}
}

// WritePump pumps messages from the send buffer to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
