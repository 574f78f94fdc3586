package messaging

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrCredentialRejected is returned by Transport.Dial when the gateway
// refuses the bearer credential during the handshake.
var ErrCredentialRejected = errors.New("messaging: credential rejected by gateway")

// Transport establishes connections to the realtime gateway. The
// websocket implementation is the production path; tests substitute a
// scripted fake.
type Transport interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}

// Conn is a single established connection. Read blocks until a frame
// arrives or the connection fails. WriteJSON is safe for concurrent
// use.
type Conn interface {
	Read() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// WebsocketTransport dials the gateway's /ws endpoint with a bearer
// credential in the handshake headers.
type WebsocketTransport struct {
	URL              string
	HandshakeTimeout time.Duration
}

// Dial implements Transport.
func (t WebsocketTransport) Dial(ctx context.Context, credential string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}
	ws, resp, err := dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrCredentialRejected
		}
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

var _ Transport = WebsocketTransport{}
