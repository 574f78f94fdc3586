package messaging

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by operations on a torn-down session.
var ErrSessionClosed = errors.New("messaging: session closed")

// ErrNotConnected is the low-level transport state error. Callers see
// it wrapped in the scoped error types below.
var ErrNotConnected = errors.New("messaging: not connected")

// AuthError is terminal: the credential was rejected and no automatic
// retry is attempted. The caller must re-authenticate and reconnect.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("messaging: authentication rejected: %s", e.Reason)
}

// ConnectivityError is surfaced after the bounded reconnect loop is
// exhausted. It is terminal for the current session.
type ConnectivityError struct {
	Attempts int
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("messaging: connection lost after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// JoinTimeoutError is recoverable: the join is retried the next time
// the conversation is activated.
type JoinTimeoutError struct {
	ConversationID string
	Reason         string
}

func (e *JoinTimeoutError) Error() string {
	return fmt.Sprintf("messaging: join %s failed: %s", e.ConversationID, e.Reason)
}

// SendFailure is scoped to a single message. It never cascades beyond
// the owning conversation; the message itself carries the failed
// status and can be resent.
type SendFailure struct {
	ConversationID string
	Err            error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("messaging: send to %s failed: %v", e.ConversationID, e.Err)
}

func (e *SendFailure) Unwrap() error { return e.Err }

// HistoryLoadError is non-fatal: cached messages stay untouched and
// the load can be retried.
type HistoryLoadError struct {
	ConversationID string
	Err            error
}

func (e *HistoryLoadError) Error() string {
	return fmt.Sprintf("messaging: history load for %s failed: %v", e.ConversationID, e.Err)
}

func (e *HistoryLoadError) Unwrap() error { return e.Err }
