package protocol

import (
	"errors"

	"github.com/nerrad567/gray-logic-agent/internal/protocol/codec"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

// Domain errors for the protocol runtime.
var (
	// ErrConfiguration is returned when link-time parameters are invalid.
	// The attribute stays unlinked.
	ErrConfiguration = errors.New("protocol: invalid configuration")

	// ErrTimeout is passed to a response handler when no matching
	// response arrived after all retries.
	ErrTimeout = errors.New("protocol: response timeout")

	// ErrNotLinked is returned by WriteAttribute for an unknown attribute.
	ErrNotLinked = errors.New("protocol: attribute not linked")

	// ErrReadOnly is returned by WriteAttribute for a read-only attribute.
	ErrReadOnly = errors.New("protocol: attribute is read-only")

	// ErrClosed is returned after the runtime has been closed.
	ErrClosed = errors.New("protocol: runtime closed")

	// ErrNotConnected is returned when sending on a connection that is not CONNECTED.
	ErrNotConnected = transport.ErrNotConnected

	// ErrEncoding is returned when a message does not conform to the codec.
	ErrEncoding = codec.ErrEncoding
)
