// Package transport is the async I/O contract the channel runtime (package
// endpoint) and the broker (package broker) depend on. Go has no
// first-class Future/async-fn; the idiomatic equivalent — and the one the
// teacher repo's Transport/poll/consume loop already uses — is a blocking
// call on its own goroutine, cancelled through context.Context. Cancelling
// the context is "dropping the future": it must not corrupt the
// transport, and an in-flight Send may or may not have been observed by
// the peer.
package transport

import (
	"context"
	"sync"

	"github.com/dikini/sessrums"
)

// Sender is the capability to send a value of type T. The call is the
// suspension point: it returns once the transport has accepted the value,
// or when ctx is done.
type Sender[T any] interface {
	Send(ctx context.Context, v T) error
}

// Receiver is the capability to receive a value of type T. The call is the
// suspension point: it returns once a value is available, the peer has
// closed, or ctx is done.
type Receiver[T any] interface {
	Recv(ctx context.Context) (T, error)
}

// Closer releases any resources a transport holds. Close never fails: it
// is best-effort and idempotent.
type Closer interface {
	Close()
}

func errChannelClosed() error {
	return sessrums.NewChannelClosedError("pipe transport closed")
}

func errIOFromContext(ctx context.Context) error {
	return sessrums.NewIOError("context done while waiting on pipe transport", ctx.Err())
}

// Pipe is an in-memory, buffered, back-pressured Sender/Receiver/Closer
// for one payload type, grounded on the teacher's ReliableTransport
// poll/consume select loop (core/transport.go): a buffered channel with a
// context-aware send/recv and a separate close signal.
type Pipe[T any] struct {
	ch     chan T
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewPipe creates an in-memory transport for payload type T. buffer is the
// channel's capacity; 0 means synchronous (unbuffered) delivery.
func NewPipe[T any](buffer int) *Pipe[T] {
	return &Pipe[T]{
		ch:   make(chan T, buffer),
		done: make(chan struct{}),
	}
}

// NewPipePair is a convenience that returns a Pipe split into its Sender
// and Receiver capabilities. endpoint.Pair does not use it; it builds its
// pipes with NewPipe.
func NewPipePair[T any](buffer int) (Sender[T], Receiver[T]) {
	p := NewPipe[T](buffer)
	return p, p
}

func (p *Pipe[T]) Send(ctx context.Context, v T) error {
	select {
	case p.ch <- v:
		return nil
	case <-p.done:
		return errChannelClosed()
	case <-ctx.Done():
		return errIOFromContext(ctx)
	}
}

func (p *Pipe[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-p.ch:
		if !ok {
			return zero, errChannelClosed()
		}
		return v, nil
	case <-p.done:
		select {
		case v, ok := <-p.ch:
			if ok {
				return v, nil
			}
		default:
		}
		return zero, errChannelClosed()
	case <-ctx.Done():
		return zero, errIOFromContext(ctx)
	}
}

// Close marks the pipe closed. Pending and future Recv calls that find the
// buffer empty fail with a channel-closed error; pending Sends fail the
// same way. Close is idempotent and never blocks.
func (p *Pipe[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
}
