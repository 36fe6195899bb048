// Package broker is the multiparty message router (spec.md C6): a registry
// of named participants plus one mailbox per (from, to, payload type)
// triple, so N parties can exchange several concurrently in-flight,
// distinctly-typed conversations without sharing a single linear channel.
//
// It is grounded on the teacher's Peer (pkg/mcast/core/peer.go): a mutex
// guarding a map of waiters (there, map[UID]observer; here, map of
// mailboxes), a context-cancellable background lifecycle, and a
// best-effort notify-with-timeout discipline when tearing down. Unlike the
// teacher's single-partition Peer, package broker has no consensus/ordering
// layer of its own — spec.md's multiparty model delivers each (from, to)
// pair's messages in the order they were sent and leaves global ordering
// across different (from, to) pairs unspecified, same as an ordinary
// channel would.
package broker

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/dikini/sessrums"
	"github.com/dikini/sessrums/pkg/sessrums/config"
	"github.com/dikini/sessrums/pkg/sessrums/history"
	"github.com/dikini/sessrums/pkg/sessrums/logging"
	"github.com/dikini/sessrums/pkg/sessrums/metrics"
	"github.com/dikini/sessrums/pkg/sessrums/role"
	"github.com/dikini/sessrums/pkg/sessrums/transport"
)

// RequestID identifies one Send/Recv exchange for logging and tracing, a
// concrete realization of the UID the teacher's observer.uid
// (pkg/mcast/core/peer.go) references but whose type is never defined in
// the retrieved files.
type RequestID = uuid.UUID

// NewRequestID generates a fresh RequestID.
func NewRequestID() RequestID { return uuid.New() }

// Broker is a registry of participants plus their mailboxes. The zero
// value is not usable; construct one with New.
//
// Lock ordering, per SPEC_FULL.md §5: registryMu is always acquired before
// mailboxesMu, never the reverse, so a Register racing a Send/Recv can
// never deadlock against each other.
type Broker struct {
	cfg config.Broker
	log logging.Logger
	met *metrics.Broker
	rec *history.Recorder

	registryMu sync.Mutex
	registry   map[role.ID]struct{}

	mailboxesMu sync.Mutex
	mailboxes   map[mailboxKey]*transport.Pipe[any]

	closeOnce sync.Once
	closed    chan struct{}
}

type mailboxKey struct {
	From role.ID
	To   role.ID
	Type reflect.Type
}

// New creates an empty Broker. A nil logging.Logger is replaced with
// logging.Noop(); a nil *metrics.Broker is replaced with metrics.Noop(). rec
// is optional: when non-nil, every successful route through Send is also
// appended to it, per SPEC_FULL.md §3.
func New(cfg config.Broker, log logging.Logger, met *metrics.Broker, rec *history.Recorder) *Broker {
	if log == nil {
		log = logging.Noop()
	}
	if met == nil {
		met = metrics.Noop()
	}
	return &Broker{
		cfg:       cfg,
		log:       log,
		met:       met,
		rec:       rec,
		registry:  make(map[role.ID]struct{}),
		mailboxes: make(map[mailboxKey]*transport.Pipe[any]),
		closed:    make(chan struct{}),
	}
}

// Register adds r to the broker's participant registry. Registering the
// same role twice is not an error: it is idempotent, since two endpoints
// racing to join a session should not have to coordinate who registers
// first.
func (b *Broker) Register(r role.ID) error {
	select {
	case <-b.closed:
		return sessrums.NewChannelClosedError("broker is closed")
	default:
	}
	b.registryMu.Lock()
	defer b.registryMu.Unlock()
	b.registry[r] = struct{}{}
	b.met.Registered.Inc()
	b.log.WithFields(map[string]interface{}{"role": string(r)}).Debugf("registered participant")
	return nil
}

// isRegistered must be called with registryMu held.
func (b *Broker) isRegistered(r role.ID) bool {
	_, ok := b.registry[r]
	return ok
}

// IsRegistered reports whether r has already been registered with the
// broker, for callers (package session's StrictRoles check) that need to
// validate a peer before their first operation rather than discovering an
// unregistered peer only when Send/Recv fails.
func (b *Broker) IsRegistered(r role.ID) bool {
	b.registryMu.Lock()
	defer b.registryMu.Unlock()
	return b.isRegistered(r)
}

func (b *Broker) mailbox(from, to role.ID, t reflect.Type) *transport.Pipe[any] {
	key := mailboxKey{From: from, To: to, Type: t}
	b.mailboxesMu.Lock()
	defer b.mailboxesMu.Unlock()
	mb, ok := b.mailboxes[key]
	if !ok {
		mb = transport.NewPipe[any](b.cfg.MailboxBuffer)
		select {
		case <-b.closed:
			// Close has already torn down the existing mailboxes: hand back
			// a closed one so the caller fails instead of blocking.
			mb.Close()
			return mb
		default:
		}
		b.mailboxes[key] = mb
		b.met.MailboxesOpen.Inc()
	}
	return mb
}

func (b *Broker) checkParticipants(from, to role.ID) error {
	b.registryMu.Lock()
	defer b.registryMu.Unlock()
	if !b.isRegistered(from) {
		return sessrums.NewProtocolViolationError(fmt.Sprintf("sender %q is not registered with the broker", from), string(from))
	}
	if !b.isRegistered(to) {
		return sessrums.NewProtocolViolationError(fmt.Sprintf("receiver %q is not registered with the broker", to), string(to))
	}
	return nil
}

// Send delivers v from from to to over the (from, to, T) mailbox, creating
// it on first use. It returns once the mailbox has accepted the value (or
// a registered receiver is expected to observe it eventually), the broker
// is closed, or ctx is done. The mailbox is keyed by the static type T, the
// same key Recv[T] uses, so Send[interface{}] pairs with Recv[interface{}].
//
// Send is a free function, not a *Broker method, because Go methods
// cannot introduce their own type parameters.
func Send[T any](ctx context.Context, b *Broker, from, to role.ID, v T) error {
	select {
	case <-b.closed:
		return sessrums.NewChannelClosedError("broker is closed")
	default:
	}
	if err := b.checkParticipants(from, to); err != nil {
		return err
	}
	var t T
	mb := b.mailbox(from, to, reflect.TypeOf(t))
	if err := mb.Send(ctx, v); err != nil {
		return err
	}
	b.met.Sent.Inc()
	reqID := NewRequestID()
	b.log.WithFields(map[string]interface{}{"from": string(from), "to": string(to), "request_id": reqID.String()}).Debugf("sent %T", v)
	if b.rec != nil {
		b.rec.Record(history.OpSend, from, to, "", v, nil)
	}
	return nil
}

// Recv waits for a value of type T sent from from to to, creating the
// mailbox on first use if the sender has not sent anything yet. Both from
// and to must already be registered. It returns the value, a channel-closed error once the broker
// or mailbox has been closed with nothing buffered, or an error from ctx.
func Recv[T any](ctx context.Context, b *Broker, from, to role.ID) (T, error) {
	var zero T
	if err := b.checkParticipants(from, to); err != nil {
		return zero, err
	}
	var t T
	mb := b.mailbox(from, to, reflect.TypeOf(t))
	v, err := mb.Recv(ctx)
	if err != nil {
		return zero, err
	}
	tv, ok := v.(T)
	if !ok {
		return zero, sessrums.NewProtocolViolationError(
			fmt.Sprintf("mailbox (%s -> %s) received %T, expected %T", from, to, v, t), string(to))
	}
	b.met.Received.Inc()
	return tv, nil
}

// Close tears down every mailbox and marks the broker closed. It is
// idempotent and never blocks, mirroring the teacher's Peer.Stop
// discipline of cancelling a context and closing the transport rather than
// waiting on in-flight work.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
		b.mailboxesMu.Lock()
		defer b.mailboxesMu.Unlock()
		for _, mb := range b.mailboxes {
			mb.Close()
			b.met.MailboxesOpen.Dec()
		}
		b.met.Closed.Inc()
		b.log.Debugf("broker closed")
	})
}
