package chat

import (
	"time"

	"github.com/cbodonnell/minechat/pkg/history"
)

// Role identifies one of the two chat connections.
type Role int

const (
	// RoleListen is the receive-only broadcast connection.
	RoleListen Role = iota
	// RoleSend is the authenticated send connection.
	RoleSend
)

func (r Role) String() string {
	switch r {
	case RoleListen:
		return "listen"
	case RoleSend:
		return "send"
	default:
		return "unknown"
	}
}

// State represents the lifecycle state of a chat connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateStreaming
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateStreaming:
		return "streaming"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Status is a state transition fanned out to observers. Account is set
// once authentication confirms the account name. Err is set when the
// transition was caused by an error, or when a history append failed
// while streaming continues.
type Status struct {
	Role    Role
	State   State
	Account string
	Attempt int
	Err     error
}

// Event records activity on a connection. The watchdog consumes these
// to detect connections that have gone quiet.
type Event struct {
	Role   Role
	Source string
	At     time.Time
}

// Observer receives chat messages and status updates. Callbacks run on
// the connection goroutines and must not block.
type Observer interface {
	OnMessage(msg history.Message)
	OnStatus(status Status)
}

// ErrInvalidMessage is returned when an outbound message is empty or
// whitespace-only. Nothing is written to the connection.
type ErrInvalidMessage struct{}

func (e *ErrInvalidMessage) Error() string {
	return "invalid message"
}

func IsInvalidMessage(err error) bool {
	_, ok := err.(*ErrInvalidMessage)
	return ok
}

// ErrNotConnected is returned when a send is attempted while the send
// connection is down. The send can be retried once the connection is
// ready again.
type ErrNotConnected struct{}

func (e *ErrNotConnected) Error() string {
	return "not connected"
}

func IsNotConnected(err error) bool {
	_, ok := err.(*ErrNotConnected)
	return ok
}
