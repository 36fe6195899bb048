// Package config holds the plain, in-process tunables for a broker or
// session runtime. This module has no persisted configuration file and no
// environment-variable loading: the external interface described by
// spec.md C1 is "construct values, pass them to constructors," so these
// are ordinary structs with defaults, not a config-file format. Where a
// teacher-adjacent example (_examples/tenzoki-agen) loads YAML from disk,
// that pattern is kept for test fixtures only (see the *_test.go files
// that use gopkg.in/yaml.v3 to build table-driven protocol descriptions),
// never for runtime wiring.
package config

import "time"

// Broker tunes a broker.Broker.
type Broker struct {
	// MailboxBuffer is the channel capacity of each (from, to, type)
	// mailbox; 0 means synchronous, unbuffered delivery.
	MailboxBuffer int

	// RegistrationTimeout is carried for callers but is not read by
	// broker.Broker: Register never waits for a peer, it returns at once.
	RegistrationTimeout time.Duration
}

// DefaultBroker returns the broker.Broker tuning this module uses when a
// caller does not supply its own.
func DefaultBroker() Broker {
	return Broker{
		MailboxBuffer:       16,
		RegistrationTimeout: 0,
	}
}

// Session tunes a session.Session.
type Session struct {
	// StrictRoles requires that the peer named by the session's first
	// resolved head (Send's To, Recv's From, Offer's Decider) be registered
	// with the broker when the first operation runs; roles named later in
	// the protocol are not checked. When false, an unknown peer only
	// surfaces as an error on first use.
	StrictRoles bool
}

// DefaultSession returns the session.Session tuning this module uses when
// a caller does not supply its own.
func DefaultSession() Session {
	return Session{StrictRoles: true}
}
