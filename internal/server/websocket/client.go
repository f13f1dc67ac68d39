// Package websocket owns the live socket connections of this process and
// bridges bus events onto them.
//
// Each Client manages:
//   - A goroutine for reading incoming commands (readPump)
//   - A goroutine for writing outgoing frames (writePump)
//   - Automatic ping/pong for connection health monitoring
//
// Message Flow:
//   - Incoming: WebSocket → readPump → command handler → EventBus.Trigger
//   - Outgoing: EventBus → ClientListener.Deliver → outbox → writePump → WebSocket
package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/brianly1003/feedwire/internal/domain"
	"github.com/brianly1003/feedwire/internal/domain/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 15 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 90 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// commandHandler handles one inbound frame.
type commandHandler func(c *Client, message []byte)

// Client is one live connection bound to one authenticated user.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   *outbox

	maxMessageSize int64
	limiter        *rate.Limiter
	onCommand      commandHandler
	onClose        func(c *Client)

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, userID string, cfg Config, onCommand commandHandler, onClose func(*Client)) *Client {
	id := uuid.NewString()
	return &Client{
		id:             id,
		userID:         userID,
		conn:           conn,
		send:           newOutbox(id, cfg.SendBuffer),
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        rate.NewLimiter(rate.Limit(cfg.CommandRate), cfg.CommandBurst),
		onCommand:      onCommand,
		onClose:        onClose,
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the user the connection belongs to.
func (c *Client) UserID() string {
	return c.userID
}

// Start starts the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Send queues one frame. It never blocks.
func (c *Client) Send(message []byte) error {
	return c.send.push(message)
}

// Close stops the write pump, which closes the socket and ends the read pump.
func (c *Client) Close() {
	c.send.close()
}

// IsClosed reports whether Close was called.
func (c *Client) IsClosed() bool {
	return c.send.isClosed()
}

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.send.closed
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		_ = c.conn.Close()
		c.closeOnce.Do(func() {
			if c.onClose != nil {
				c.onClose(c)
			}
		})
	}()

	if c.maxMessageSize > 0 {
		c.conn.SetReadLimit(c.maxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.id).Str("user_id", c.userID).Msg("websocket read error")
			}
			return
		}

		if !c.limiter.Allow() {
			commandsTotal.WithLabelValues("throttled").Inc()
			log.Debug().Str("connection_id", c.id).Msg("command throttled")
			c.sendError(domain.ErrCodeRateLimited, "too many commands")
			continue
		}

		if c.onCommand != nil {
			c.onCommand(c, message)
		}
	}
}

// writePump sends each queued message as its own text frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.send.closed:
			return

		case message := <-c.send.frames:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				// Transport errors are only logged; the read side notices the
				// broken socket and runs the close handler.
				log.Debug().Err(err).Str("connection_id", c.id).Msg("write error")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("ping error")
				return
			}
		}
	}
}

// sendError queues an error frame for the client.
func (c *Client) sendError(code, message string) {
	data, err := events.NewErrorPayload(code, message).ToJSON()
	if err != nil {
		return
	}
	_ = c.Send(data)
}
