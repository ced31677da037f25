package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/SIRI-bit-tech/bidforge-sub000/domain/model"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/logger"
)

// Client is one authenticated gateway connection. The violation counter and
// the joined-rooms set are connection-local; violations are only touched from
// the connection's read goroutine and need no lock.
type Client struct {
	conn      *websocket.Conn
	Message   chan *WSMessage
	ID        string
	Principal model.Principal

	violations int

	rooms   map[string]struct{}
	roomsMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	writeMu   sync.Mutex

	log *logger.Logger
}

func NewClient(conn *websocket.Conn, principal model.Principal, id string, log *logger.Logger) *Client {
	return &Client{
		conn:      conn,
		Message:   make(chan *WSMessage, 64),
		ID:        id,
		Principal: principal,
		rooms:     make(map[string]struct{}),
		closed:    make(chan struct{}),
		log:       log,
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn == nil {
			return
		}
		c.writeMu.Lock()
		_ = c.conn.Close()
		c.writeMu.Unlock()
	})
}

func (c *Client) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// RecordViolation increments the counter and returns the new total.
func (c *Client) RecordViolation() int {
	c.violations++
	return c.violations
}

func (c *Client) Violations() int {
	return c.violations
}

func (c *Client) trackRoom(roomKey string) {
	c.roomsMu.Lock()
	c.rooms[roomKey] = struct{}{}
	c.roomsMu.Unlock()
}

func (c *Client) untrackRoom(roomKey string) {
	c.roomsMu.Lock()
	delete(c.rooms, roomKey)
	c.roomsMu.Unlock()
}

// Rooms returns a snapshot of the rooms this connection has joined.
func (c *Client) Rooms() []string {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()

	keys := make([]string, 0, len(c.rooms))
	for key := range c.rooms {
		keys = append(keys, key)
	}
	return keys
}

// Enqueue drops the event when the client buffer is full rather than
// blocking the fan-out path.
func (c *Client) Enqueue(msg *WSMessage) {
	if c.IsClosed() {
		return
	}
	select {
	case c.Message <- msg:
	default:
		c.log.Warn("client buffer full, dropping event",
			zap.String("clientID", c.ID),
			zap.String("type", msg.Type),
		)
	}
}

// ReadPump reads inbound frames and dispatches them to the core. Missing
// heartbeat acknowledgments surface as read-deadline errors and end the pump;
// they are connection cleanup, never a violation.
func (c *Client) ReadPump(core *Core) {
	defer func() {
		core.Unregister() <- c
		c.Close()
	}()

	c.conn.SetReadLimit(core.cfg.MaxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(core.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(core.cfg.PongWait))
		return nil
	})

	for {
		select {
		case <-c.closed:
			return
		default:
		}

		var frame InboundFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("ws read error",
					zap.String("clientID", c.ID),
					zap.Error(err),
				)
			}
			return
		}

		core.HandleFrame(c, &frame)
	}
}

// WritePump owns all writes to the socket, including the heartbeat ping.
func (c *Client) WritePump(core *Core) {
	ticker := time.NewTicker(core.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Message:
			if !ok {
				c.writeControl(websocket.CloseMessage, core.cfg.WriteWait)
				return
			}

			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(core.cfg.WriteWait))
			err := c.conn.WriteJSON(msg)
			c.writeMu.Unlock()

			if err != nil {
				c.log.Warn("ws write error",
					zap.String("clientID", c.ID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(core.cfg.WriteWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()

			if err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}

func (c *Client) writeControl(messageType int, wait time.Duration) {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wait))
	_ = c.conn.WriteMessage(messageType, []byte{})
	c.writeMu.Unlock()
}
