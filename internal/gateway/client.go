package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Principal is the verified identity behind a socket or HTTP request.
type Principal struct {
	UserID string
	Name   string
}

// client is one live websocket. The write pump is the only goroutine
// writing to the connection; everything else enqueues onto send.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	principal Principal
	rooms     map[string]struct{}

	// mu serializes close against enqueue so a broadcast racing a
	// teardown never writes to a closed channel.
	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, principal Principal) *client {
	return &client{
		conn:      conn,
		send:      make(chan []byte, 64),
		principal: principal,
		rooms:     make(map[string]struct{}),
	}
}

// enqueue hands a frame to the write pump without blocking. Returns
// false when the client is closed or its buffer is full.
func (c *client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump consumes frames until the socket dies, then detaches the
// client from the hub.
func (c *client) readPump(svc *Service, pongWait time.Duration, maxFrameSize int64) {
	defer func() {
		svc.Disconnect(c)
		c.close()
		_ = c.conn.Close()
	}()
	if maxFrameSize > 0 {
		c.conn.SetReadLimit(maxFrameSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		svc.HandleFrame(context.Background(), c, raw)
	}
}

// writePump flushes queued frames and keeps the connection alive with
// pings.
func (c *client) writePump(writeWait, pongWait time.Duration) {
	pingPeriod := pongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
