// Package proto is the type-level binary protocol algebra. Each
// constructor is an opaque marker type that carries no behavior of its own
// — it only indexes a package endpoint.Chan so the compiler accepts or
// rejects an operation based on the current protocol head.
//
// Go generics have no type families / associated types, so a compile-time
// "Dual[P]" type cannot be derived from P alone. Every marker instead
// implements Shaped, exposing its shape as a package local value; two
// independently declared protocol types are checked for duality once,
// structurally, with AssertDual — not on every channel operation. See
// SPEC_FULL.md §3/§4.1 and DESIGN.md for the rationale.
package proto

import (
	"fmt"
	"reflect"

	"github.com/dikini/sessrums/pkg/sessrums/local"
)

// Shaped is implemented by every protocol marker type: it reports the
// local (data-form) shape of the protocol it indexes.
type Shaped interface {
	Shape() local.Protocol
}

// End is the terminal protocol: the only legal channel operation is close.
type End struct{}

// Shape implements Shaped.
func (End) Shape() local.Protocol { return local.End{} }

// Send is "send a value of type T, then continue as P".
type Send[T any, P Shaped] struct{}

// Shape implements Shaped.
func (Send[T, P]) Shape() local.Protocol {
	var p P
	var t T
	return local.Send{Type: reflect.TypeOf(t), Next: p.Shape()}
}

// Recv is "receive a value of type T, then continue as P".
type Recv[T any, P Shaped] struct{}

// Shape implements Shaped.
func (Recv[T, P]) Shape() local.Protocol {
	var p P
	var t T
	return local.Recv{Type: reflect.TypeOf(t), Next: p.Shape()}
}

// Choose is "pick one of two branches L or R". The picking side uses
// ChooseLeft/ChooseRight (package endpoint); the peer uses Offer.
type Choose[L Shaped, R Shaped] struct{}

// Shape implements Shaped.
func (Choose[L, R]) Shape() local.Protocol {
	var l L
	var r R
	return local.Select{Branches: []local.Branch{
		{Label: "left", Next: l.Shape()},
		{Label: "right", Next: r.Shape()},
	}}
}

// Offer is "receive the peer's branch selection, then continue as the
// selected branch". It is the dual of Choose.
type Offer[L Shaped, R Shaped] struct{}

// Shape implements Shaped.
func (Offer[L, R]) Shape() local.Protocol {
	var l L
	var r R
	return local.Offer{Branches: []local.Branch{
		{Label: "left", Next: l.Shape()},
		{Label: "right", Next: r.Shape()},
	}}
}

// Rec binds a recursion point around P; the only way back to it is Var0.
type Rec[P Shaped] struct{}

// Shape implements Shaped.
func (Rec[P]) Shape() local.Protocol {
	var p P
	return local.Rec{Label: "0", Body: p.Shape()}
}

// Var0 refers back to the nearest enclosing Rec[P]. Depth-0 is the only
// de Bruijn index this module supports — deeper references require
// type-level arithmetic Go's generics do not offer, and are left as a
// future extension per spec.md §9.
type Var0[P Shaped] struct{}

// Shape implements Shaped.
func (Var0[P]) Shape() local.Protocol { return local.Var{Label: "0"} }

// AssertDual reports whether P and Q are dual binary protocols, by
// shaping both to their local.Protocol form and comparing Dual(Shape(P))
// against Shape(Q) structurally. It is intended to run once, when two
// endpoints are paired (see endpoint.Pair), not on every operation.
func AssertDual[P Shaped, Q Shaped]() error {
	var p P
	var q Q
	dp := local.Dual(p.Shape())
	sq := q.Shape()
	if !local.Equal(dp, sq) {
		return fmt.Errorf("proto: %T is not dual to %T", p, q)
	}
	return nil
}
