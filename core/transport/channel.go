// Package transport abstracts the ordered duplex channel that carries the
// widget's JSON frames. Implementations live in vendor subpackages; the
// session only depends on this interface.
package transport

import (
	"context"
	"fmt"

	"github.com/kettlevoice/widget-core/core/protocol"
)

// Channel is an ordered, message-oriented duplex connection. Connect must be
// called before Send; callbacks registered through the implementation's
// options fire from a single read loop, preserving arrival order.
type Channel interface {
	Connect(ctx context.Context) error
	Send(msg protocol.Message) error
	Close() error
}

// Kind selects the reconnection policy of a channel. Policies are explicit
// per kind, never implicit.
type Kind string

const (
	// KindVoice never reconnects: a dropped transport ends the call and the
	// user has to start a new one.
	KindVoice Kind = "voice"
	// KindChat performs exactly one bounded reconnect after a fixed delay.
	KindChat Kind = "chat"
)

func (k Kind) Reconnects() bool { return k == KindChat }

// Callbacks receive inbound traffic and lifecycle notifications from a
// channel. Implementations invoke them sequentially from a single read loop,
// preserving arrival order.
type Callbacks struct {
	// OnMessage is called for every decoded inbound frame.
	OnMessage func(msg protocol.Message)
	// OnProtocolError is called when an inbound frame violates the wire
	// contract. The channel keeps reading afterwards.
	OnProtocolError func(err error)
	// OnClosed is called once when the channel will deliver no further
	// messages. err is nil after a local Close, non-nil when the peer or the
	// network tore the connection down (after any reconnect attempt failed).
	OnClosed func(err error)
}

// Error wraps connect/send/receive failures of the underlying socket.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
