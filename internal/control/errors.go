package control

import (
	"errors"
	"fmt"
)

// Kind classifies a failed connection attempt.
type Kind int

const (
	// Unreachable is a network-level failure: the relay could not be dialed
	// or never answered the sync. Worth retrying indefinitely.
	Unreachable Kind = iota
	// Rejected is a protocol-level refusal, such as a version mismatch.
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type ConnectError struct {
	Kind Kind
	Err  error
}

var _ error = (*ConnectError)(nil)

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to relay (%s): %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// HeartbeatError means an established session was lost: a ping could not be
// written or the relay closed the connection.
type HeartbeatError struct {
	Err error
}

var _ error = (*HeartbeatError)(nil)

func (e *HeartbeatError) Error() string {
	return fmt.Sprintf("control session lost: %v", e.Err)
}

func (e *HeartbeatError) Unwrap() error {
	return e.Err
}

var (
	ErrVersionMismatch = errors.New("relay rejected the client version")
	ErrClosedBeforeAck = errors.New("relay closed the connection before acknowledging sync")
	ErrAckTimeout      = errors.New("relay did not acknowledge sync in time")
)

// IsRejected reports whether err is a protocol-level connection refusal.
func IsRejected(err error) bool {
	var connectErr *ConnectError
	return errors.As(err, &connectErr) && connectErr.Kind == Rejected
}
