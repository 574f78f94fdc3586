package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection(transport Transport, dispatcher *Dispatcher) *Connection {
	return NewConnection(ConnConfig{
		Transport:   transport,
		Dispatcher:  dispatcher,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})
}

func TestConnectIsIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	conn := newTestConnection(transport, nil)
	defer conn.Close()

	require.NoError(t, conn.Connect(context.Background(), "token"))
	require.NoError(t, conn.Connect(context.Background(), "token"))
	require.NoError(t, conn.Connect(context.Background(), "token"))

	assert.Equal(t, 1, transport.dialCount())
	assert.Equal(t, StateConnected, conn.State())
}

func TestConnectRejectedCredentialIsTerminal(t *testing.T) {
	transport := &fakeTransport{}
	transport.queueDialErrs(ErrCredentialRejected)
	conn := newTestConnection(transport, nil)

	err := conn.Connect(context.Background(), "bad-token")

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, StateDisconnected, conn.State())
	assert.Equal(t, 0, transport.dialCount())
}

func TestConcurrentConnectsDialOnce(t *testing.T) {
	transport := &fakeTransport{dialGate: make(chan struct{})}
	conn := newTestConnection(transport, nil)
	defer conn.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, conn.Connect(context.Background(), "token"))
		}()
	}

	require.Eventually(t, func() bool {
		return transport.dialAttempts() == 1
	}, time.Second, time.Millisecond)
	close(transport.dialGate)
	wg.Wait()

	assert.Equal(t, 1, transport.dialAttempts())
	assert.Equal(t, StateConnected, conn.State())
}

func TestConnectAfterCloseFails(t *testing.T) {
	transport := &fakeTransport{}
	conn := newTestConnection(transport, nil)
	require.NoError(t, conn.Close())

	err := conn.Connect(context.Background(), "token")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSendWhileDisconnected(t *testing.T) {
	conn := newTestConnection(&fakeTransport{}, nil)
	err := conn.Send(Envelope{Event: EventTyping})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReconnectAfterTransportLoss(t *testing.T) {
	transport := &fakeTransport{}
	conn := newTestConnection(transport, nil)
	defer conn.Close()

	var mu sync.Mutex
	var states []ConnState
	conn.OnStatus(func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, conn.Connect(context.Background(), "token"))
	transport.conn(0).fail()

	require.Eventually(t, func() bool {
		return transport.dialCount() == 2 && conn.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateReconnecting)
}

func TestReconnectStopsOnCredentialRejection(t *testing.T) {
	transport := &fakeTransport{}
	conn := newTestConnection(transport, nil)

	var mu sync.Mutex
	var fatal error
	conn.OnFatal(func(err error) {
		mu.Lock()
		fatal = err
		mu.Unlock()
	})

	require.NoError(t, conn.Connect(context.Background(), "token"))
	transport.queueDialErrs(ErrCredentialRejected)
	transport.conn(0).fail()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fatal != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var authErr *AuthError
	assert.ErrorAs(t, fatal, &authErr)
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestReconnectExhaustionIsTerminal(t *testing.T) {
	transport := &fakeTransport{}
	conn := newTestConnection(transport, nil)

	var mu sync.Mutex
	var fatal error
	conn.OnFatal(func(err error) {
		mu.Lock()
		fatal = err
		mu.Unlock()
	})

	require.NoError(t, conn.Connect(context.Background(), "token"))
	dialErr := errors.New("gateway unreachable")
	transport.queueDialErrs(dialErr, dialErr, dialErr)
	transport.conn(0).fail()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fatal != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var connErr *ConnectivityError
	require.ErrorAs(t, fatal, &connErr)
	assert.Equal(t, 3, connErr.Attempts)
	assert.ErrorIs(t, connErr, dialErr)
	assert.Equal(t, StateDisconnected, conn.State())
	// only the original dial produced a connection
	assert.Equal(t, 1, transport.dialCount())
}

func TestInboundFramesReachDispatcher(t *testing.T) {
	received := make(chan WireMessage, 1)
	dispatcher := &Dispatcher{Message: func(wm WireMessage) { received <- wm }}
	transport := &fakeTransport{}
	conn := newTestConnection(transport, dispatcher)
	defer conn.Close()

	require.NoError(t, conn.Connect(context.Background(), "token"))
	transport.conn(0).push(EventMessage, WireMessage{ID: "m-1", ConversationID: "c-1", Content: "hello"})

	select {
	case wm := <-received:
		assert.Equal(t, "m-1", wm.ID)
		assert.Equal(t, "hello", wm.Content)
	case <-time.After(time.Second):
		t.Fatal("message was not dispatched")
	}
}
