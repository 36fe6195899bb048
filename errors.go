// Package sessrums is a library for statically typed communication
// protocols ("session types"): it lets an engineer describe the allowed
// sequence of messages between two or more participants as a type, and
// obtain endpoint APIs whose operations are only callable in a state
// consistent with the protocol.
//
// See the subpackages for the pieces of the system:
//
//	role       participant identifiers and compile-time tags
//	proto      type-level binary protocol algebra and duality
//	local      local protocol as data, with structural duality
//	global     global (multiparty) protocol algebra and well-formedness
//	projection project(global, role) -> local
//	transport  async send/recv contract consumed by the channel runtime
//	endpoint   the linear, type-level channel
//	broker     the multiparty, named-participant message router
//	session    the enum-driven typestate runtime, for protocols built at runtime
//	wire       the recommended wire format (length-prefixed msgpack + choice tag)
package sessrums

import "fmt"

// Kind categorizes the errors this module's packages return.
type Kind int

const (
	// KindIO means the underlying transport failed during a send or receive.
	KindIO Kind = iota

	// KindChannelClosed means the peer closed the transport, or the broker
	// tore down a mailbox that was still being awaited.
	KindChannelClosed

	// KindProtocolViolation means a runtime-discovered mismatch in the
	// broker-backed form: sending to an unregistered participant,
	// receiving a payload of the wrong type at a multiplexed mailbox, or
	// reusing a consumed channel/session.
	KindProtocolViolation

	// KindSerialization means the optional codec layer (package wire)
	// failed to encode or decode a value.
	KindSerialization

	// KindInvalidProtocolStructure means projection or well-formedness
	// checking rejected a runtime-built global protocol: unknown role,
	// unproductive recursion, mismatched recursion labels, and so on.
	KindInvalidProtocolStructure
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindChannelClosed:
		return "channel_closed"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindSerialization:
		return "serialization"
	case KindInvalidProtocolStructure:
		return "invalid_protocol_structure"
	default:
		return "unknown"
	}
}

// Error is the structured error type returned by every package in this
// module for a caller-visible fault. It carries a Kind and, where the
// fault originates from user data, a concrete identifier (Role and/or
// Label).
type Error struct {
	Kind    Kind
	Message string
	Role    string
	Label   string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Role != "" && e.Label != "":
		return fmt.Sprintf("sessrums: %s: %s (role=%s label=%s)", e.Kind, e.Message, e.Role, e.Label)
	case e.Role != "":
		return fmt.Sprintf("sessrums: %s: %s (role=%s)", e.Kind, e.Message, e.Role)
	case e.Label != "":
		return fmt.Sprintf("sessrums: %s: %s (label=%s)", e.Kind, e.Message, e.Label)
	default:
		return fmt.Sprintf("sessrums: %s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewIOError wraps a transport failure.
func NewIOError(message string, err error) *Error {
	return &Error{Kind: KindIO, Message: message, Err: err}
}

// NewChannelClosedError reports a peer-closed transport or torn-down mailbox.
func NewChannelClosedError(message string) *Error {
	return &Error{Kind: KindChannelClosed, Message: message}
}

// NewProtocolViolationError reports a runtime protocol mismatch.
func NewProtocolViolationError(message string, r string) *Error {
	return &Error{Kind: KindProtocolViolation, Message: message, Role: r}
}

// NewSerializationError wraps a codec failure.
func NewSerializationError(message string, err error) *Error {
	return &Error{Kind: KindSerialization, Message: message, Err: err}
}

// NewInvalidProtocolStructureError reports a well-formedness or projection
// failure on a runtime-built global protocol.
func NewInvalidProtocolStructureError(message string, label string) *Error {
	return &Error{Kind: KindInvalidProtocolStructure, Message: message, Label: label}
}
