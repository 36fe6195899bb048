// Package local describes the local protocol as data: a closed enum tagged
// by a role, obtained either by hand or by projecting a global protocol
// (package projection). It is the representation the session-state runtime
// (package session) interprets, and the representation the type-level
// channel (package endpoint) uses as a duality witness (see package proto).
package local

import (
	"reflect"

	"github.com/dikini/sessrums/pkg/sessrums/role"
)

// Protocol is the closed local-protocol type. The only implementations are
// in this package.
type Protocol interface {
	local()
}

// End is the terminal local protocol: the only legal operation is close.
type End struct{}

func (End) local() {}

// Send is "send a value of Type to To, then continue as Next".
type Send struct {
	Type reflect.Type
	To   role.ID
	Next Protocol
}

func (Send) local() {}

// Recv is "receive a value of Type from From, then continue as Next".
type Recv struct {
	Type reflect.Type
	From role.ID
	Next Protocol
}

func (Recv) local() {}

// Branch is one labeled arm of a Select or Offer.
type Branch struct {
	Label string
	Next  Protocol
}

// Select is "choose one of Branches", own role is the decider.
type Select struct {
	Branches []Branch
}

func (Select) local() {}

// Offer is "receive the decider's choice, then continue as the selected
// branch". Decider names the role that picked the branch.
type Offer struct {
	Decider  role.ID
	Branches []Branch
}

func (Offer) local() {}

// Rec binds a recursion point named Label around Body.
type Rec struct {
	Label string
	Body  Protocol
}

func (Rec) local() {}

// Var refers back to the nearest enclosing Rec with a matching Label.
type Var struct {
	Label string
}

func (Var) local() {}

// Dual computes the dual local protocol structurally, per the seven duality
// equations: Dual(End)=End, Dual(Send)=Recv (and back), Dual(Select)=Offer
// (and back), Dual(Rec)=Rec, Dual(Var)=Var. Dual is an involution:
// Dual(Dual(p)) is structurally equal to p for every well-formed p.
//
// Duality, per spec.md §3, is a binary-protocol relation: it does not carry
// a third-party decider. Select does not record one, so Dual(Select) always
// produces an Offer with an empty Decider, and Dual(Offer) drops whatever
// Decider it held. Multiparty-projected local protocols (package
// projection), whose Offer.Decider names a genuine third role, are never
// fed through Dual — they are consumed by the broker-backed session
// runtime instead, which does not use duality at all.
func Dual(p Protocol) Protocol {
	switch v := p.(type) {
	case End:
		return End{}
	case Send:
		return Recv{Type: v.Type, From: v.To, Next: Dual(v.Next)}
	case Recv:
		return Send{Type: v.Type, To: v.From, Next: Dual(v.Next)}
	case Select:
		return Offer{Decider: "", Branches: dualBranches(v.Branches)}
	case Offer:
		return Select{Branches: dualBranches(v.Branches)}
	case Rec:
		return Rec{Label: v.Label, Body: Dual(v.Body)}
	case Var:
		return Var{Label: v.Label}
	default:
		panic("local: unknown Protocol case")
	}
}

func dualBranches(bs []Branch) []Branch {
	out := make([]Branch, len(bs))
	for i, b := range bs {
		out[i] = Branch{Label: b.Label, Next: Dual(b.Next)}
	}
	return out
}

// Equal reports whether two local protocols are structurally identical.
// Payload types are compared by name, since reflect.Type values for the
// same named type are always identical across calls within one process,
// but this keeps the comparison meaningful if it is ever extended to
// cross-process descriptions.
func Equal(a, b Protocol) bool {
	switch av := a.(type) {
	case End:
		_, ok := b.(End)
		return ok
	case Send:
		bv, ok := b.(Send)
		return ok && typeEqual(av.Type, bv.Type) && av.To == bv.To && Equal(av.Next, bv.Next)
	case Recv:
		bv, ok := b.(Recv)
		return ok && typeEqual(av.Type, bv.Type) && av.From == bv.From && Equal(av.Next, bv.Next)
	case Select:
		bv, ok := b.(Select)
		return ok && branchesEqual(av.Branches, bv.Branches)
	case Offer:
		bv, ok := b.(Offer)
		return ok && av.Decider == bv.Decider && branchesEqual(av.Branches, bv.Branches)
	case Rec:
		bv, ok := b.(Rec)
		return ok && av.Label == bv.Label && Equal(av.Body, bv.Body)
	case Var:
		bv, ok := b.(Var)
		return ok && av.Label == bv.Label
	default:
		return false
	}
}

func typeEqual(a, b reflect.Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

func branchesEqual(a, b []Branch) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Label != b[i].Label || !Equal(a[i].Next, b[i].Next) {
			return false
		}
	}
	return true
}

// Participates reports whether r appears as a sender or receiver anywhere
// reachable in p without going through a Rec whose body does not mention
// r (used by tests asserting the projection-participation property).
func Participates(p Protocol, r role.ID) bool {
	switch v := p.(type) {
	case End:
		return false
	case Send:
		return v.To == r || Participates(v.Next, r)
	case Recv:
		return v.From == r || Participates(v.Next, r)
	case Select:
		for _, b := range v.Branches {
			if Participates(b.Next, r) {
				return true
			}
		}
		return false
	case Offer:
		if v.Decider == r {
			return true
		}
		for _, b := range v.Branches {
			if Participates(b.Next, r) {
				return true
			}
		}
		return false
	case Rec:
		return Participates(v.Body, r)
	case Var:
		return false
	default:
		return false
	}
}
