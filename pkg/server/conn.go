package server

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("server: connection closed")

	// ErrSendQueueFull is returned when a peer's outbound queue is full.
	// The connection is closed when this happens.
	ErrSendQueueFull = errors.New("server: send queue full")
)

// Conn is a WebSocket client attached to one room. It implements
// session.Peer.
type Conn struct {
	id     string
	userID string
	roomID string

	ws     *websocket.Conn
	config *Config
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// alive is set by pongs and inbound traffic and cleared by the
	// health monitor before each ping.
	alive atomic.Bool

	connectedAt time.Time
}

func newConn(id, userID, roomID string, ws *websocket.Conn, config *Config, logger *slog.Logger) *Conn {
	c := &Conn{
		id:          id,
		userID:      userID,
		roomID:      roomID,
		ws:          ws,
		config:      config,
		logger:      logger.With("conn_id", id, "room_id", roomID),
		send:        make(chan []byte, config.SendQueueSize),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	c.alive.Store(true)
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// UserID returns the user the connection presented, if any.
func (c *Conn) UserID() string { return c.userID }

// RoomID returns the room the connection is attached to.
func (c *Conn) RoomID() string { return c.roomID }

// Send enqueues a frame without blocking. When the queue is full the
// connection is closed and ErrSendQueueFull is returned.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn("send queue full, closing slow peer", "queue", cap(c.send))
		c.Close()
		return ErrSendQueueFull
	}
}

// Alive reports whether the peer showed liveness since the last probe.
func (c *Conn) Alive() bool { return c.alive.Load() }

// ResetAlive clears the liveness flag and reports its previous value.
func (c *Conn) ResetAlive() bool { return c.alive.Swap(false) }

// Ping sends a WebSocket ping control frame.
func (c *Conn) Ping() error {
	deadline := time.Now().Add(c.config.WriteTimeout)
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// Terminate closes the connection without a close handshake.
func (c *Conn) Terminate() {
	c.Close()
}

// Close closes the connection. Safe to call more than once and from any
// goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Done is closed when the connection closes.
func (c *Conn) Done() <-chan struct{} { return c.done }

// readLoop reads frames until the connection fails, passing binary
// messages to handle. It blocks until the connection is closed.
func (c *Conn) readLoop(handle func(data []byte)) {
	defer c.Close()

	if c.config.MaxMessageSize > 0 {
		c.ws.SetReadLimit(c.config.MaxMessageSize)
	}
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Debug("read error", "error", err)
			}
			return
		}

		c.alive.Store(true)

		if msgType != websocket.BinaryMessage {
			c.logger.Debug("ignoring non-binary message", "type", msgType)
			continue
		}
		handle(msg)
	}
}

// writeLoop drains the send queue to the socket until the connection
// closes or a write fails.
func (c *Conn) writeLoop() {
	defer c.Close()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.logger.Debug("write error", "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// closeWithReason sends a close frame before closing the socket.
func (c *Conn) closeWithReason(code int, reason string) {
	deadline := time.Now().Add(c.config.WriteTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.Close()
}
