package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ConnState is the lifecycle state of the session connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

// ConnConfig tunes the connection manager. Zero values fall back to
// production defaults.
type ConnConfig struct {
	Transport  Transport
	Dispatcher *Dispatcher
	Logger     *slog.Logger

	// Reconnect policy: bounded attempts with capped exponential
	// backoff. Exhaustion is terminal.
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Connection owns the single persistent gateway connection shared by
// every conversation in the session. It reconnects automatically on
// transport loss; authentication failures are terminal.
type Connection struct {
	transport  Transport
	dispatcher *Dispatcher
	logger     *slog.Logger

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu         sync.Mutex
	state      ConnState
	conn       Conn
	credential string
	gen        uint64
	closed     bool

	statusSubs []func(ConnState)
	fatalSubs  []func(error)
}

// NewConnection builds a Connection. The dispatcher receives every
// inbound frame; status subscribers are notified on state changes.
func NewConnection(cfg ConnConfig) *Connection {
	c := &Connection{
		transport:   cfg.Transport,
		dispatcher:  cfg.Dispatcher,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		state:       StateDisconnected,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 5
	}
	if c.baseBackoff <= 0 {
		c.baseBackoff = 500 * time.Millisecond
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = 10 * time.Second
	}
	return c
}

// OnStatus registers a state-change subscriber. Subscribers are called
// outside the connection lock, in registration order.
func (c *Connection) OnStatus(fn func(ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusSubs = append(c.statusSubs, fn)
}

// OnFatal registers a subscriber for terminal errors (AuthError after
// a reconnect handshake rejection, ConnectivityError on backoff
// exhaustion).
func (c *Connection) OnFatal(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fatalSubs = append(c.fatalSubs, fn)
}

// State returns the current connection state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the session connection. Calls while already
// Connecting, Connected or Reconnecting are no-ops. A rejected
// credential returns *AuthError immediately, without retry.
func (c *Connection) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	// claim the transition before releasing the lock so concurrent
	// Connect calls see Connecting and return without dialing
	c.state = StateConnecting
	c.credential = credential
	subs := append([]func(ConnState){}, c.statusSubs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(StateConnecting)
	}

	conn, err := c.transport.Dial(ctx, credential)
	if err != nil {
		c.setState(StateDisconnected)
		if errors.Is(err, ErrCredentialRejected) {
			return &AuthError{Reason: err.Error()}
		}
		return fmt.Errorf("messaging: connect: %w", err)
	}
	if !c.adopt(conn) {
		_ = conn.Close()
		return ErrSessionClosed
	}
	return nil
}

// adopt installs conn as the active connection and starts its read
// loop. Returns false when the session was closed meanwhile.
func (c *Connection) adopt(conn Conn) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	c.setState(StateConnected)
	go c.readLoop(conn, gen)
	return true
}

// Send writes one frame on the active connection. It fails fast with
// ErrNotConnected instead of queueing.
func (c *Connection) Send(v any) error {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()
	return conn.WriteJSON(v)
}

// Close tears the connection down. Further Connect calls fail with
// ErrSessionClosed.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	c.setState(StateDisconnected)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Connection) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.Read()
		if err != nil {
			c.mu.Lock()
			stale := c.closed || c.gen != gen
			c.mu.Unlock()
			if stale {
				return
			}
			c.logger.Warn("gateway connection lost", "error", err)
			c.reconnect()
			return
		}
		if c.dispatcher == nil {
			continue
		}
		if err := c.dispatcher.Dispatch(data); err != nil {
			c.logger.Warn("dropping unhandled frame", "error", err)
		}
	}
}

func (c *Connection) reconnect() {
	c.setState(StateReconnecting)
	delay := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if c.sleepClosed(delay) {
			return
		}
		c.mu.Lock()
		credential := c.credential
		c.mu.Unlock()

		conn, err := c.transport.Dial(context.Background(), credential)
		if err == nil {
			if !c.adopt(conn) {
				_ = conn.Close()
			}
			return
		}
		if errors.Is(err, ErrCredentialRejected) {
			c.setState(StateDisconnected)
			c.notifyFatal(&AuthError{Reason: err.Error()})
			return
		}
		lastErr = err
		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "max", c.maxAttempts, "error", err)
		delay *= 2
		if delay > c.maxBackoff {
			delay = c.maxBackoff
		}
	}
	c.setState(StateDisconnected)
	c.notifyFatal(&ConnectivityError{Attempts: c.maxAttempts, Err: lastErr})
}

// sleepClosed waits for d and reports whether the session was closed
// while waiting.
func (c *Connection) sleepClosed(d time.Duration) bool {
	time.Sleep(d)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) setState(state ConnState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	subs := append([]func(ConnState){}, c.statusSubs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
}

func (c *Connection) notifyFatal(err error) {
	c.mu.Lock()
	subs := append([]func(error){}, c.fatalSubs...)
	c.mu.Unlock()
	c.logger.Error("connection terminally failed", "error", err)
	for _, fn := range subs {
		fn(err)
	}
}
