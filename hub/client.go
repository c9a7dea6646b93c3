package hub

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"food-delivery/dispatch/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	closeSuperseded = 4000
	closeSignedOut  = 4001
)

// frameConn is the part of the websocket connection the writer needs.
type frameConn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type client struct {
	id   models.Identity
	conn frameConn

	// rooms is guarded by Hub.mu.
	rooms map[string]struct{}

	send     chan []byte
	done     chan struct{}
	doneOnce sync.Once
}

func newClient(id models.Identity, conn frameConn, buffer int) *client {
	return &client{
		id:    id,
		conn:  conn,
		rooms: make(map[string]struct{}),
		send:  make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

// enqueue never blocks: a full buffer or a closed client drops the frame.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown sends a close frame with code and closes the socket, which ends
// the read loop.
func (c *client) shutdown(code int, reason string) {
	c.doneOnce.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}
