// Package endpoint is the linear channel (spec.md C4): a generic endpoint
// parameterized by a type-level protocol (package proto) and a transport
// (package transport) that exposes exactly the operation legal for the
// protocol's current head, consuming the channel and returning a
// continuation channel.
//
// Go has no linear/affine types, so linearity is enforced the way spec.md
// §9 prescribes for such host languages: Chan carries a "consumed" flag,
// checked on entry to every operation and set atomically before the
// operation returns. Send, Recv, ChooseLeft, ChooseRight and Offer return a
// KindProtocolViolation error when called on a consumed channel. Enter,
// Zero and Close have no error result: on a consumed channel they proceed
// as usual and the reuse is not reported.
//
// Chan is parameterized by a single protocol type P (not by role), per the
// "pick one and apply uniformly" resolution in SPEC_FULL.md §3: the role
// is carried as a plain field, observable to callers that want it for
// error messages, but is not part of the type.
package endpoint

import (
	"context"
	"sync/atomic"

	"github.com/dikini/sessrums"
	"github.com/dikini/sessrums/pkg/sessrums/proto"
	"github.com/dikini/sessrums/pkg/sessrums/role"
	"github.com/dikini/sessrums/pkg/sessrums/transport"
)

// Chan is the endpoint handle, currently in protocol state P.
type Chan[P any] struct {
	role     role.ID
	io       ioBundle
	consumed *atomic.Bool
}

// ioBundle holds the transport halves a Chan needs regardless of its
// current protocol state; every Chan in a session shares one ioBundle,
// only the consumed flag and the type parameter change across operations.
type ioBundle struct {
	send     transport.Sender[any]
	recv     transport.Receiver[any]
	choiceTx transport.Sender[bool]
	choiceRx transport.Receiver[bool]
	closer   transport.Closer
}

// New builds a channel in its initial protocol state P. send/recv carry
// protocol payloads boxed as any; choiceTx/choiceRx carry the boolean
// branch tag used by ChooseLeft/ChooseRight/Offer, per the wire-format
// recommendation in spec.md §6.
func New[P any](r role.ID, send transport.Sender[any], recv transport.Receiver[any], choiceTx transport.Sender[bool], choiceRx transport.Receiver[bool], closer transport.Closer) *Chan[P] {
	return &Chan[P]{
		role:     r,
		io:       ioBundle{send: send, recv: recv, choiceTx: choiceTx, choiceRx: choiceRx, closer: closer},
		consumed: &atomic.Bool{},
	}
}

// Role returns the identifier of the participant this channel acts for.
func (c *Chan[P]) Role() role.ID { return c.role }

func step[Q any](rid role.ID, iv ioBundle) *Chan[Q] {
	return &Chan[Q]{role: rid, io: iv, consumed: &atomic.Bool{}}
}

func consumeOnce[P any](c *Chan[P]) error {
	if !c.consumed.CompareAndSwap(false, true) {
		return sessrums.NewProtocolViolationError("channel already consumed", string(c.role))
	}
	return nil
}

// Send performs one send over the transport when the current protocol is
// proto.Send[T, P], and returns the channel advanced to P. It never
// advances the protocol on failure.
func Send[T any, P proto.Shaped](ch *Chan[proto.Send[T, P]], v T) (*Chan[P], error) {
	if err := consumeOnce(ch); err != nil {
		return nil, err
	}
	if err := ch.io.send.Send(context.Background(), v); err != nil {
		return nil, sessrums.NewIOError("send failed", err)
	}
	return step[P](ch.role, ch.io), nil
}

// Recv performs one receive over the transport when the current protocol
// is proto.Recv[T, P], and returns the received value together with the
// channel advanced to P.
func Recv[T any, P proto.Shaped](ch *Chan[proto.Recv[T, P]]) (T, *Chan[P], error) {
	var zero T
	if err := consumeOnce(ch); err != nil {
		return zero, nil, err
	}
	v, err := ch.io.recv.Recv(context.Background())
	if err != nil {
		return zero, nil, sessrums.NewIOError("recv failed", err)
	}
	tv, ok := v.(T)
	if !ok {
		return zero, nil, sessrums.NewProtocolViolationError("received value of unexpected type", string(ch.role))
	}
	return tv, step[P](ch.role, ch.io), nil
}

// ChooseLeft performs one send of the left branch tag when the current
// protocol is proto.Choose[L, R], and returns the channel advanced to L.
func ChooseLeft[L proto.Shaped, R proto.Shaped](ch *Chan[proto.Choose[L, R]]) (*Chan[L], error) {
	if err := consumeOnce(ch); err != nil {
		return nil, err
	}
	if err := ch.io.choiceTx.Send(context.Background(), true); err != nil {
		return nil, sessrums.NewIOError("choice send failed", err)
	}
	return step[L](ch.role, ch.io), nil
}

// ChooseRight performs one send of the right branch tag when the current
// protocol is proto.Choose[L, R], and returns the channel advanced to R.
func ChooseRight[L proto.Shaped, R proto.Shaped](ch *Chan[proto.Choose[L, R]]) (*Chan[R], error) {
	if err := consumeOnce(ch); err != nil {
		return nil, err
	}
	if err := ch.io.choiceTx.Send(context.Background(), false); err != nil {
		return nil, sessrums.NewIOError("choice send failed", err)
	}
	return step[R](ch.role, ch.io), nil
}

// Offer performs one receive of the branch tag when the current protocol
// is proto.Offer[L, R], then invokes onLeft or onRight with the
// corresponding continuation channel and propagates its result.
func Offer[L proto.Shaped, R proto.Shaped, Ret any](ch *Chan[proto.Offer[L, R]], onLeft func(*Chan[L]) (Ret, error), onRight func(*Chan[R]) (Ret, error)) (Ret, error) {
	var zero Ret
	if err := consumeOnce(ch); err != nil {
		return zero, err
	}
	left, err := ch.io.choiceRx.Recv(context.Background())
	if err != nil {
		return zero, sessrums.NewIOError("choice recv failed", err)
	}
	if left {
		return onLeft(step[L](ch.role, ch.io))
	}
	return onRight(step[R](ch.role, ch.io))
}

// Enter is a pure protocol-level step, with no I/O, when the current
// protocol is proto.Rec[P]: it unwraps the recursion binder.
func Enter[P proto.Shaped](ch *Chan[proto.Rec[P]]) *Chan[P] {
	_ = consumeOnce(ch)
	return step[P](ch.role, ch.io)
}

// Zero is a pure protocol-level step, with no I/O, when the current
// protocol is proto.Var0[P]: it jumps back to the enclosing proto.Rec[P].
// Only depth-0 recursion is supported, per spec.md §9.
func Zero[P proto.Shaped](ch *Chan[proto.Var0[P]]) *Chan[proto.Rec[P]] {
	_ = consumeOnce(ch)
	return step[proto.Rec[P]](ch.role, ch.io)
}

// Close releases the transport when the current protocol is proto.End. It
// never fails.
func Close(ch *Chan[proto.End]) {
	_ = consumeOnce(ch)
	if ch.io.closer != nil {
		ch.io.closer.Close()
	}
}

type multiCloser []transport.Closer

func (m multiCloser) Close() {
	for _, c := range m {
		c.Close()
	}
}

// Pair constructs both ends of a protocol P and its dual over a pair of
// fresh in-memory transport.Pipe instances, asserting duality once via
// proto.AssertDual. It is the in-process convenience adapted from the
// original Rust implementation's connect.rs pairing helper (see
// SPEC_FULL.md §10).
func Pair[P proto.Shaped, D proto.Shaped](a, b role.ID, buffer int) (*Chan[P], *Chan[D], error) {
	if err := proto.AssertDual[P, D](); err != nil {
		return nil, nil, sessrums.NewInvalidProtocolStructureError(err.Error(), "")
	}
	ab := transport.NewPipe[any](buffer)
	ba := transport.NewPipe[any](buffer)
	abChoice := transport.NewPipe[bool](buffer)
	baChoice := transport.NewPipe[bool](buffer)
	closer := multiCloser{ab, ba, abChoice, baChoice}

	chA := New[P](a, ab, ba, abChoice, baChoice, closer)
	chB := New[D](b, ba, ab, baChoice, abChoice, closer)
	return chA, chB, nil
}
