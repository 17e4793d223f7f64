// Package server manages individual WebSocket connections, handling read and
// write pumps, rate limiting, and lifecycle control for each client.
package server

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// writeWait is the deadline for a single outbound write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before the read side
	// gives up on it.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait so pings keep the peer alive.
	pingPeriod = 54 * time.Second
	// sendBufferSize bounds how far a slow reader may fall behind before the
	// broadcaster drops it.
	sendBufferSize = 256
)

// Client represents one WebSocket connection in the chat system: the
// underlying channel, the username bound to it, and the room it joined. A
// client belongs to exactly one room for its lifetime; identity is the
// connection, not the username, so duplicate usernames coexist.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	username string
	roomID   string
	addr     string

	// closed is guarded by the owning room's membership lock in the registry.
	closed bool

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient wraps an accepted WebSocket connection with its room and username
// binding. The send channel is buffered to absorb bursts of room traffic.
func NewClient(conn *websocket.Conn, roomID, username, addr string, cfg *Config) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:             uuid.NewString(),
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		username:       username,
		roomID:         roomID,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// Username returns the name bound to this connection for its lifetime.
func (c *Client) Username() string {
	return c.username
}

// RoomID returns the identifier of the room this connection joined.
func (c *Client) RoomID() string {
	return c.roomID
}

// log returns a logger entry carrying this connection's identity fields.
func (c *Client) log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"conn_id":     c.id,
		"room":        c.roomID,
		"username":    c.username,
		"remote_addr": c.addr,
	})
}

// setupReadConnection configures the read deadline and pong handler so dead
// peers are detected.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log().WithError(err).Warn("failed to set initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log().WithError(err).Warn("failed to reset read deadline in pong handler")
		}
		return nil
	})
}

// logReadError records why the read loop ended, at a level matching how
// surprising the failure is.
func (c *Client) logReadError(err error) {
	switch {
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log().WithError(err).Debug("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log().WithError(err).Debug("client connection closed")
	case errors.Is(err, websocket.ErrReadLimit):
		c.log().WithField("max_message_size", c.maxMessageSize).
			Warn("inbound message exceeded maximum size")
	default:
		c.log().WithError(err).Warn("WebSocket read error")
	}
}

// allowMessage checks the per-connection rate limit and reports whether the
// inbound frame may be processed.
func (c *Client) allowMessage() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log().WithFields(logrus.Fields{
			"burst":           c.rateLimit.Burst,
			"refill_interval": c.rateLimit.RefillInterval,
		}).Warn("rate limit exceeded; discarding message")
		return false
	}
	return true
}

// readPump reads inbound frames and hands them to handle until the connection
// closes, fails, or a frame is rejected. It always closes the underlying
// connection on the way out.
func (c *Client) readPump(handle func([]byte) error) {
	defer c.closeConn("readPump")

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.allowMessage() {
			continue
		}

		if err := handle(raw); err != nil {
			c.log().WithError(err).Warn("closing connection after rejected frame")
			return
		}
	}
}

// writePump pumps frames from the send channel to the connection and keeps
// the peer alive with periodic pings. It exits when the send channel closes
// or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn("writePump")
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case payload, ok := <-c.send:
		return c.handleOutbound(payload, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// handleOutbound writes one frame, or the close frame when the send channel
// has been shut by deregistration.
func (c *Client) handleOutbound(payload []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log().WithError(err).Warn("failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log().WithError(err).Debug("failed to write close frame")
		}
		return false
	}

	return c.writeFrame(payload)
}

// writeFrame writes the frame plus any frames already queued behind it, each
// as its own text message so clients parse them individually.
func (c *Client) writeFrame(payload []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.log().WithError(err).Warn("failed to write frame")
		}
		return false
	}

	n := len(c.send)
	for i := 0; i < n; i++ {
		queued, ok := <-c.send
		if !ok {
			return false
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, queued); err != nil {
			if !isExpectedCloseError(err) {
				c.log().WithError(err).Warn("failed to write queued frame")
			}
			return false
		}
	}
	return true
}

// handlePing sends a ping to keep the connection alive.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log().WithError(err).Warn("failed to set write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log().WithError(err).Debug("failed to write ping")
		}
		return false
	}
	return true
}

// closeConn closes the underlying connection, logging only unexpected errors.
func (c *Client) closeConn(where string) {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log().WithError(err).WithField("where", where).Debug("error closing connection")
	}
}
