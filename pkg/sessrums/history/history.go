// Package history is an optional append-only record of a session's
// traffic (spec.md §8's replay/debugging needs): every Entry a Recorder
// appends is a snapshot of one Send, Recv, Select, or Offer, kept for
// diagnostics or for replaying a conversation in a test.
//
// It is adapted from the teacher's Storage/StateMachine/Deliver trio
// (pkg/mcast/types/storage.go, pkg/mcast/types/state_machine.go,
// pkg/mcast/core/deliver.go): a narrow Storage interface for the append
// and read operations, one in-memory implementation, and a thin "commit
// and notify" wrapper — but here the store is a linear log, not a
// consensus state machine, since package broker already gives per-pair
// message ordering and this package exists only to retain what happened,
// not to decide it.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dikini/sessrums/pkg/sessrums/role"
)

// Op categorizes a recorded Entry.
type Op int

const (
	OpSend Op = iota
	OpRecv
	OpSelect
	OpOffer
)

func (o Op) String() string {
	switch o {
	case OpSend:
		return "send"
	case OpRecv:
		return "recv"
	case OpSelect:
		return "select"
	case OpOffer:
		return "offer"
	default:
		return "unknown"
	}
}

// Entry is one recorded operation. ID gives every entry a correlation
// identifier independent of Seq, so an entry can be cross-referenced from
// an external system (a log line, a trace span) without leaking this
// module's internal ordering counter. This realizes the teacher's
// types.UID field (referenced by core/peer.go's observer.uid, but never
// defined in the retrieved files) as a concrete, UUID-backed type.
type Entry struct {
	ID      uuid.UUID
	Seq     uint64
	At      time.Time
	Op      Op
	Role    role.ID
	Peer    role.ID
	Label   string
	Payload interface{}
	Err     error
}

// Storage is the append-only backing store a Recorder writes through,
// narrow like the teacher's types.Storage: append one entry, or read them
// all back.
type Storage interface {
	Append(e Entry) error
	All() ([]Entry, error)
}

// InMemory is the default Storage, a mutex-guarded slice.
type InMemory struct {
	mu      sync.Mutex
	entries []Entry
}

// NewInMemory creates an empty InMemory store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (m *InMemory) Append(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *InMemory) All() ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

// Recorder assigns each appended Entry a monotonically increasing Seq and
// a timestamp, then commits it to a Storage. now is a field, not
// time.Now directly, so tests can supply a deterministic clock.
type Recorder struct {
	mu    sync.Mutex
	seq   uint64
	store Storage
	now   func() time.Time
}

// NewRecorder creates a Recorder over store using time.Now for
// timestamps.
func NewRecorder(store Storage) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// NewRecorderWithClock creates a Recorder using a caller-supplied clock,
// for deterministic tests.
func NewRecorderWithClock(store Storage, now func() time.Time) *Recorder {
	return &Recorder{store: store, now: now}
}

// Record appends one entry, filling in Seq and At, and returns it.
func (r *Recorder) Record(op Op, self, peer role.ID, label string, payload interface{}, err error) (Entry, error) {
	r.mu.Lock()
	r.seq++
	e := Entry{
		ID:      uuid.New(),
		Seq:     r.seq,
		At:      r.now(),
		Op:      op,
		Role:    self,
		Peer:    peer,
		Label:   label,
		Payload: payload,
		Err:     err,
	}
	r.mu.Unlock()
	if appendErr := r.store.Append(e); appendErr != nil {
		return Entry{}, appendErr
	}
	return e, nil
}

// All returns every entry recorded so far, in append order.
func (r *Recorder) All() ([]Entry, error) {
	return r.store.All()
}
