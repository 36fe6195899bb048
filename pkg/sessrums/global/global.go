// Package global is the global protocol algebra (spec.md C2/C3): a single,
// whole-interaction description of an N-party protocol, built as runtime
// data (there is no practical way to encode an N-ary, heterogeneous-payload
// interaction as a single Go generic type the way the two-party binary
// form is encoded in package proto). This is also the form spec.md §9
// recommends for languages without const generics: "implementers should
// use the enum form with named labels."
package global

import (
	"fmt"
	"reflect"

	"github.com/dikini/sessrums"
	"github.com/dikini/sessrums/pkg/sessrums/role"
)

// Protocol is the closed global-protocol type.
type Protocol interface {
	global()
}

// End is the terminal global protocol.
type End struct{}

func (End) global() {}

// Send describes "From sends a value of Type to To, then continues as
// Next". The symmetric GRecv constructor from spec.md §3 is semantically
// redundant (a receive is just how the non-sender projects a Send) and is
// not modeled separately.
type Send struct {
	Type reflect.Type
	From role.ID
	To   role.ID
	Next Protocol
}

func (Send) global() {}

// Branch is one labeled arm of a Choice.
type Branch struct {
	Label string
	Next  Protocol
}

// Choice describes "Decider picks one of Branches". Offer (below) is a
// constructor-side alias for authoring a protocol from the offeree's point
// of view; both produce a Choice value, since well-formedness and
// projection only ever need to know the decider and the branches (see
// SPEC_FULL.md §3 for why spec.md's separate GOffer constructor collapses
// here, mirroring how GRecv collapses into Send).
type Choice struct {
	Decider  role.ID
	Branches []Branch
}

func (Choice) global() {}

// Offer builds the same value as Choice; Offeree is accepted for
// readability at call sites but is not retained, since projection derives
// the offerees structurally (every role that participates in some branch,
// other than Decider).
func Offer(offeree role.ID, decider role.ID, branches []Branch) Choice {
	_ = offeree
	return Choice{Decider: decider, Branches: branches}
}

// Rec binds a named recursion point around Body.
type Rec struct {
	Label string
	Body  Protocol
}

func (Rec) global() {}

// Var refers back to the nearest enclosing Rec with a matching Label.
type Var struct {
	Label string
}

func (Var) global() {}

// WellFormed checks the four invariants of spec.md §3:
//
//  1. In Send, From != To.
//  2. In Choice, every branch begins with a message sent by Decider, or is
//     itself a Choice/Offer by Decider, or is End, or is a Var. A branch
//     that starts with a Var is accepted without checking the recursion
//     body the Var refers to.
//  3. In Rec, every Var referring to it is productive: the path from Rec
//     to Var passes through at least one Send.
//  4. Every Var has a matching enclosing Rec.
//
// It is the runtime counterpart of the macro-frontend checks spec.md §9
// describes: for a hand-built Protocol value (no DSL macro in scope),
// WellFormed is the only gate, and projection.Project calls it before
// projecting.
func WellFormed(g Protocol) error {
	return wellFormed(g, nil, map[string]bool{})
}

// recFrame is one entry of the stack of enclosing Rec labels, recording
// whether a Send has been passed since entering it (productivity).
type recFrame struct {
	label     string
	productive bool
}

func wellFormed(g Protocol, stack []recFrame, labels map[string]bool) error {
	switch v := g.(type) {
	case nil:
		return sessrums.NewInvalidProtocolStructureError("nil protocol node", "")
	case End:
		return nil
	case Send:
		if v.From == v.To {
			return sessrums.NewInvalidProtocolStructureError(
				fmt.Sprintf("send from %q to itself is not allowed", v.From), "")
		}
		return wellFormed(v.Next, markSendPassed(stack), labels)
	case Choice:
		if len(v.Branches) == 0 {
			return sessrums.NewInvalidProtocolStructureError("choice has no branches", "")
		}
		for _, b := range v.Branches {
			if err := checkBranchStartsWithDecider(b.Next, v.Decider); err != nil {
				return sessrums.NewInvalidProtocolStructureError(
					fmt.Sprintf("branch %q of choice by %q: %v", b.Label, v.Decider, err), b.Label)
			}
			if err := wellFormed(b.Next, stack, labels); err != nil {
				return err
			}
		}
		return nil
	case Rec:
		if labels[v.Label] {
			return sessrums.NewInvalidProtocolStructureError(
				fmt.Sprintf("recursion label %q is already bound", v.Label), v.Label)
		}
		labels2 := make(map[string]bool, len(labels)+1)
		for k := range labels {
			labels2[k] = true
		}
		labels2[v.Label] = true
		return wellFormed(v.Body, append(stack, recFrame{label: v.Label, productive: false}), labels2)
	case Var:
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].label == v.Label {
				if !stack[i].productive {
					return sessrums.NewInvalidProtocolStructureError(
						fmt.Sprintf("recursion %q is not productive: no send on the path back to its Rec", v.Label), v.Label)
				}
				return nil
			}
		}
		return sessrums.NewInvalidProtocolStructureError(
			fmt.Sprintf("var %q has no enclosing rec", v.Label), v.Label)
	default:
		return sessrums.NewInvalidProtocolStructureError(fmt.Sprintf("unknown protocol node %T", g), "")
	}
}

func markSendPassed(stack []recFrame) []recFrame {
	if len(stack) == 0 {
		return stack
	}
	out := make([]recFrame, len(stack))
	for i, f := range stack {
		out[i] = recFrame{label: f.label, productive: true}
	}
	return out
}

// checkBranchStartsWithDecider walks past any leading Rec until it finds a
// Send (must be from decider), End, a Choice (must be decided by decider),
// or a Var, which is accepted as is.
func checkBranchStartsWithDecider(p Protocol, decider role.ID) error {
	switch v := p.(type) {
	case End:
		return nil
	case Send:
		if v.From != decider {
			return fmt.Errorf("first message is sent by %q, not decider %q", v.From, decider)
		}
		return nil
	case Choice:
		if v.Decider != decider {
			return fmt.Errorf("nested choice is decided by %q, not %q", v.Decider, decider)
		}
		return nil
	case Var:
		// A branch that immediately loops is accepted; the body of the
		// Rec it refers to is not checked for starting with decider.
		return nil
	case Rec:
		return checkBranchStartsWithDecider(v.Body, decider)
	default:
		return fmt.Errorf("unexpected protocol node %T", p)
	}
}
