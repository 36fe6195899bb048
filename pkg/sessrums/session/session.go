// Package session is the enum-driven typestate runtime (spec.md C7): where
// package endpoint encodes a two-party protocol's state in the Go type
// system, package session drives a local.Protocol value built at runtime
// (by hand, or via package projection) against a package broker, for
// protocols whose shape is not known until the program runs (an arbitrary
// number of participants, a protocol read from configuration).
//
// It checks the same legality rule endpoint's compiler encoding checks —
// an operation is only accepted when it matches the protocol's current
// head — at runtime instead, returning a KindProtocolViolation error on
// mismatch, and it resolves Rec/Var transparently: callers never see a
// separate "enter the loop" step the way proto.Rec/proto.Var0 require one
// in package endpoint, since there is no compile-time state machine here
// forcing that split.
package session

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/dikini/sessrums"
	"github.com/dikini/sessrums/pkg/sessrums/broker"
	"github.com/dikini/sessrums/pkg/sessrums/config"
	"github.com/dikini/sessrums/pkg/sessrums/global"
	"github.com/dikini/sessrums/pkg/sessrums/history"
	"github.com/dikini/sessrums/pkg/sessrums/local"
	"github.com/dikini/sessrums/pkg/sessrums/logging"
	"github.com/dikini/sessrums/pkg/sessrums/projection"
	"github.com/dikini/sessrums/pkg/sessrums/role"
)

// Session drives one participant's local.Protocol against a broker.
type Session struct {
	role   role.ID
	peers  []role.ID
	broker *broker.Broker
	cfg    config.Session
	log    logging.Logger
	rec    *history.Recorder

	mu            sync.Mutex
	head          local.Protocol
	recEnv        map[string]local.Protocol
	closed        bool
	strictChecked bool
}

// New creates a Session for r driving proto against b. peers lists every
// other participant in the protocol; it is only used to broadcast a
// Select's branch label to every offeree, since local.Select (unlike
// local.Send) carries no single addressee. rec is optional: when non-nil,
// every successful Send/Recv/Select/Offer is also appended to it. If
// cfg.StrictRoles is set, the peer the first resolved head depends on
// (Send's To, Recv's From, Offer's Decider) must already be registered
// with b by the time that first operation runs; this is checked lazily, on
// that first call, not here in New, since sibling Sessions for the same
// protocol are typically still being constructed when New returns.
func New(r role.ID, b *broker.Broker, proto local.Protocol, peers []role.ID, cfg config.Session, log logging.Logger, rec *history.Recorder) (*Session, error) {
	if log == nil {
		log = logging.Noop()
	}
	s := &Session{
		role:   r,
		peers:  peers,
		broker: b,
		cfg:    cfg,
		log:    log,
		rec:    rec,
		recEnv: map[string]local.Protocol{},
	}
	if err := b.Register(r); err != nil {
		return nil, err
	}
	s.head = s.resolve(proto)
	return s, nil
}

// NewMultiparty projects g for every role it names and constructs a Session
// per role against b in one call, restoring the original's
// multiparty_session.rs as a thin convenience over projection.ProjectAll
// and New. New registers each role with b, so every role g names is
// registered by the time NewMultiparty returns; registering them
// beforehand is allowed, since Register is idempotent.
func NewMultiparty(g global.Protocol, b *broker.Broker) (map[role.ID]*Session, error) {
	views, err := projection.ProjectAll(g)
	if err != nil {
		return nil, err
	}
	peers := make([]role.ID, 0, len(views))
	for r := range views {
		peers = append(peers, r)
	}

	cfg := config.DefaultSession()
	out := make(map[role.ID]*Session, len(views))
	for r, view := range views {
		s, err := New(r, b, view, peers, cfg, nil, nil)
		if err != nil {
			return nil, err
		}
		out[r] = s
	}
	return out, nil
}

// Role returns the participant this Session drives.
func (s *Session) Role() role.ID { return s.role }

// Done reports whether the session has reached local.End and been closed.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// resolve transparently unwinds Rec/Var nodes: entering a Rec remembers its
// body under its label, and a Var jumps straight to the remembered body.
// Must be called with mu held, or before the Session is published (as in
// New).
func (s *Session) resolve(p local.Protocol) local.Protocol {
	for i := 0; i < 10_000; i++ {
		switch v := p.(type) {
		case local.Rec:
			s.recEnv[v.Label] = v.Body
			p = v.Body
		case local.Var:
			body, ok := s.recEnv[v.Label]
			if !ok {
				// Unresolvable at this point, surface it unchanged; the
				// next operation will reject it with a clear error rather
				// than looping forever.
				return p
			}
			p = body
		default:
			return p
		}
	}
	return p
}

func (s *Session) violationf(format string, args ...interface{}) error {
	return sessrums.NewProtocolViolationError(fmt.Sprintf(format, args...), string(s.role))
}

// headPeer returns the single other role p's current head depends on, for
// heads that name one: Send's To, Recv's From, Offer's Decider. Select
// broadcasts to every peer rather than naming one, so it reports false.
func headPeer(p local.Protocol) (role.ID, bool) {
	switch v := p.(type) {
	case local.Send:
		return v.To, true
	case local.Recv:
		return v.From, true
	case local.Offer:
		return v.Decider, true
	default:
		return "", false
	}
}

// checkStrictRoles enforces config.Session.StrictRoles against the first
// resolved head: must be called with mu held. It runs only once per
// Session, on whichever operation is invoked first.
func (s *Session) checkStrictRoles() error {
	if s.strictChecked {
		return nil
	}
	s.strictChecked = true
	if !s.cfg.StrictRoles {
		return nil
	}
	peer, ok := headPeer(s.head)
	if !ok {
		return nil
	}
	if !s.broker.IsRegistered(peer) {
		return s.violationf("strict_roles: peer %q must already be registered with the broker", peer)
	}
	return nil
}

// Send performs one send of v to to, legal when the current head is
// local.Send{To: to}. v's dynamic type must match the head's declared
// Type.
func (s *Session) Send(ctx context.Context, to role.ID, v interface{}) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.violationf("session already closed")
	}
	if err := s.checkStrictRoles(); err != nil {
		s.mu.Unlock()
		return err
	}
	head, ok := s.head.(local.Send)
	if !ok {
		s.mu.Unlock()
		return s.violationf("send not legal in current state %T", s.head)
	}
	if head.To != to {
		s.mu.Unlock()
		return s.violationf("send addressed to %q, protocol expects %q", to, head.To)
	}
	if rt := reflect.TypeOf(v); !typeMatches(rt, head.Type) {
		s.mu.Unlock()
		return s.violationf("send value has type %v, protocol expects %v", rt, head.Type)
	}
	s.mu.Unlock()

	if err := broker.Send[interface{}](ctx, s.broker, s.role, to, v); err != nil {
		return err
	}

	s.mu.Lock()
	s.head = s.resolve(head.Next)
	s.mu.Unlock()
	s.log.WithFields(map[string]interface{}{"role": string(s.role), "to": string(to)}).Debugf("session sent %T", v)
	if s.rec != nil {
		s.rec.Record(history.OpSend, s.role, to, "", v, nil)
	}
	return nil
}

// Recv receives one value from from, legal when the current head is
// local.Recv{From: from}.
func (s *Session) Recv(ctx context.Context, from role.ID) (interface{}, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, s.violationf("session already closed")
	}
	if err := s.checkStrictRoles(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	head, ok := s.head.(local.Recv)
	if !ok {
		s.mu.Unlock()
		return nil, s.violationf("recv not legal in current state %T", s.head)
	}
	if head.From != from {
		s.mu.Unlock()
		return nil, s.violationf("recv expected from %q, protocol expects %q", from, head.From)
	}
	s.mu.Unlock()

	v, err := broker.Recv[interface{}](ctx, s.broker, from, s.role)
	if err != nil {
		return nil, err
	}
	if rt := reflect.TypeOf(v); !typeMatches(rt, head.Type) {
		return nil, s.violationf("recv got value of type %v, protocol expects %v", rt, head.Type)
	}

	s.mu.Lock()
	s.head = s.resolve(head.Next)
	s.mu.Unlock()
	if s.rec != nil {
		s.rec.Record(history.OpRecv, s.role, from, "", v, nil)
	}
	return v, nil
}

// Select picks the branch named label, legal when the current head is
// local.Select and label names one of its branches. It broadcasts label to
// every peer, since any of them may be the offeree observing this choice.
func (s *Session) Select(ctx context.Context, label string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.violationf("session already closed")
	}
	if err := s.checkStrictRoles(); err != nil {
		s.mu.Unlock()
		return err
	}
	head, ok := s.head.(local.Select)
	if !ok {
		s.mu.Unlock()
		return s.violationf("select not legal in current state %T", s.head)
	}
	branch, err := findBranch(head.Branches, label)
	if err != nil {
		s.mu.Unlock()
		return s.violationf("%v", err)
	}
	peers := append([]role.ID(nil), s.peers...)
	s.mu.Unlock()

	for _, p := range peers {
		if p == s.role {
			continue
		}
		if err := broker.Send[string](ctx, s.broker, s.role, p, label); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.head = s.resolve(branch.Next)
	s.mu.Unlock()
	if s.rec != nil {
		s.rec.Record(history.OpSelect, s.role, "", label, nil, nil)
	}
	return nil
}

// Offer receives the decider's branch label, legal when the current head
// is local.Offer, and advances to the selected branch.
func (s *Session) Offer(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", s.violationf("session already closed")
	}
	if err := s.checkStrictRoles(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	head, ok := s.head.(local.Offer)
	if !ok {
		s.mu.Unlock()
		return "", s.violationf("offer not legal in current state %T", s.head)
	}
	decider := head.Decider
	s.mu.Unlock()

	label, err := broker.Recv[string](ctx, s.broker, decider, s.role)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	branch, err := findBranch(head.Branches, label)
	if err != nil {
		s.mu.Unlock()
		return "", s.violationf("%v", err)
	}
	s.head = s.resolve(branch.Next)
	s.mu.Unlock()
	if s.rec != nil {
		s.rec.Record(history.OpOffer, s.role, decider, label, nil, nil)
	}
	return label, nil
}

// Close finalizes the session, legal only when the current head is
// local.End. It is idempotent: closing an already-closed session returns
// nil.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if _, ok := s.head.(local.End); !ok {
		return s.violationf("close not legal in current state %T", s.head)
	}
	s.closed = true
	return nil
}

func findBranch(branches []local.Branch, label string) (local.Branch, error) {
	for _, b := range branches {
		if b.Label == label {
			return b, nil
		}
	}
	return local.Branch{}, fmt.Errorf("no branch named %q", label)
}

func typeMatches(a, b reflect.Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}
