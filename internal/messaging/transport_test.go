package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeConn is a scripted connection: tests push inbound frames and
// inspect recorded writes. Closing the inbound channel simulates
// transport loss.
type fakeConn struct {
	mu       sync.Mutex
	inbound  chan []byte
	writes   []Envelope
	writeErr error
	failOnce sync.Once

	// autoAckJoins answers every join with the matching joined ack,
	// like a healthy gateway.
	autoAckJoins bool
}

func newFakeConn(autoAckJoins bool) *fakeConn {
	return &fakeConn{
		inbound:      make(chan []byte, 32),
		autoAckJoins: autoAckJoins,
	}
}

func (c *fakeConn) Read() ([]byte, error) {
	frame, ok := <-c.inbound
	if !ok {
		return nil, errors.New("fake transport: connection lost")
	}
	return frame, nil
}

func (c *fakeConn) WriteJSON(v any) error {
	env, ok := v.(Envelope)
	if !ok {
		return errors.New("fake transport: expected an Envelope")
	}
	c.mu.Lock()
	err := c.writeErr
	if err == nil {
		c.writes = append(c.writes, env)
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if c.autoAckJoins && env.Event == EventJoin {
		var p JoinPayload
		if jsonErr := json.Unmarshal(env.Data, &p); jsonErr == nil {
			c.push(EventJoined, JoinAck{ConversationID: p.ConversationID})
		}
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.fail()
	return nil
}

// push delivers a server frame to the read loop.
func (c *fakeConn) push(event string, data any) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		panic(err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	c.inbound <- raw
}

// fail drops the connection: the read loop sees an error.
func (c *fakeConn) fail() {
	c.failOnce.Do(func() { close(c.inbound) })
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// eventsOf returns the recorded writes for one event kind.
func (c *fakeConn) eventsOf(event string) []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Envelope
	for _, env := range c.writes {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// fakeTransport hands out fakeConns and can script dial failures. A
// non-nil dialGate holds every dial open until the channel is closed.
type fakeTransport struct {
	mu           sync.Mutex
	autoAckJoins bool
	dialErrs     []error
	conns        []*fakeConn
	dialGate     chan struct{}
	attempts     int
}

func (t *fakeTransport) Dial(ctx context.Context, _ string) (Conn, error) {
	t.mu.Lock()
	t.attempts++
	gate := t.dialGate
	t.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.dialErrs) > 0 {
		err := t.dialErrs[0]
		t.dialErrs = t.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	conn := newFakeConn(t.autoAckJoins)
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) dialAttempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func (t *fakeTransport) queueDialErrs(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialErrs = append(t.dialErrs, errs...)
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

func decodePayload[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var payload T
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	return payload
}
