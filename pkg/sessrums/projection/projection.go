// Package projection implements Project(global, role) -> local (spec.md
// C3/§4.2): deriving one participant's local view of a whole-interaction
// global protocol. Every endpoint.Chan or session.Session that talks to a
// broker is, conceptually, driving the protocol this package derives.
package projection

import (
	"fmt"

	"github.com/dikini/sessrums"
	"github.com/dikini/sessrums/pkg/sessrums/global"
	"github.com/dikini/sessrums/pkg/sessrums/local"
	"github.com/dikini/sessrums/pkg/sessrums/role"
)

// Project derives r's local protocol from g, per the table in spec.md §4.2:
//
//	End                 -> End
//	Send{From:r}         -> Send{To, Next'}                  (r sends)
//	Send{To:r}           -> Recv{From, Next'}                 (r receives)
//	Send{From,To != r}   -> Next' directly                    (r is not involved)
//	Choice{Decider:r}    -> Select{branches'}                  (r decides)
//	Choice{...}, r in some branch -> Offer{Decider, branches'} (r is an offeree)
//	Choice{...}, r in no branch   -> the (identical) projection of any one branch
//	Rec{Label, Body}     -> Rec{Label, Body'} if r participates in Body,
//	                        else the body is pruned (see below)
//	Var{Label}           -> Var{Label}
//
// It calls global.WellFormed first: projection of an ill-formed protocol is
// not attempted.
func Project(g global.Protocol, r role.ID) (local.Protocol, error) {
	if err := global.WellFormed(g); err != nil {
		return nil, err
	}
	return project(g, r, map[string]bool{})
}

// ProjectAll projects g for every role named anywhere within it, returning
// a map from role to local protocol. It is the convenience spec.md §4.2
// describes for building every participant's endpoint from one global
// description.
func ProjectAll(g global.Protocol) (map[role.ID]local.Protocol, error) {
	if err := global.WellFormed(g); err != nil {
		return nil, err
	}
	roles := map[role.ID]bool{}
	collectRoles(g, roles)
	out := make(map[role.ID]local.Protocol, len(roles))
	for r := range roles {
		lp, err := project(g, r, map[string]bool{})
		if err != nil {
			return nil, err
		}
		out[r] = lp
	}
	return out, nil
}

func collectRoles(g global.Protocol, roles map[role.ID]bool) {
	switch v := g.(type) {
	case global.End:
	case global.Send:
		roles[v.From] = true
		roles[v.To] = true
		collectRoles(v.Next, roles)
	case global.Choice:
		roles[v.Decider] = true
		for _, b := range v.Branches {
			collectRoles(b.Next, roles)
		}
	case global.Rec:
		collectRoles(v.Body, roles)
	case global.Var:
	}
}

// project walks g, projecting for r. inScopeRecs tracks the labels of
// enclosing Rec nodes whose body is known (so far) to mention r, so a Var
// can be projected consistently with its Rec.
func project(g global.Protocol, r role.ID, inScopeRecs map[string]bool) (local.Protocol, error) {
	switch v := g.(type) {
	case global.End:
		return local.End{}, nil

	case global.Send:
		switch {
		case v.From == r:
			next, err := project(v.Next, r, inScopeRecs)
			if err != nil {
				return nil, err
			}
			return local.Send{Type: v.Type, To: v.To, Next: next}, nil
		case v.To == r:
			next, err := project(v.Next, r, inScopeRecs)
			if err != nil {
				return nil, err
			}
			return local.Recv{Type: v.Type, From: v.From, Next: next}, nil
		default:
			return project(v.Next, r, inScopeRecs)
		}

	case global.Choice:
		if v.Decider == r {
			branches, err := projectBranches(v.Branches, r, inScopeRecs)
			if err != nil {
				return nil, err
			}
			return local.Select{Branches: branches}, nil
		}
		if choiceMentions(v, r) {
			branches, err := projectBranches(v.Branches, r, inScopeRecs)
			if err != nil {
				return nil, err
			}
			return local.Offer{Decider: v.Decider, Branches: branches}, nil
		}
		// r takes no part in this choice: per spec.md §4.2, merge-equivalence
		// requires every branch to project identically for r when r does not
		// participate, so project the first branch and use it directly
		// (no Select/Offer wrapper is introduced for r).
		if len(v.Branches) == 0 {
			return nil, sessrums.NewInvalidProtocolStructureError("choice has no branches to project", "")
		}
		first, err := project(v.Branches[0].Next, r, inScopeRecs)
		if err != nil {
			return nil, err
		}
		for _, b := range v.Branches[1:] {
			other, err := project(b.Next, r, inScopeRecs)
			if err != nil {
				return nil, err
			}
			if !local.Equal(first, other) {
				return nil, sessrums.NewInvalidProtocolStructureError(
					fmt.Sprintf("role %q does not participate in choice by %q, but its branches project differently for it", r, v.Decider), b.Label)
			}
		}
		return first, nil

	case global.Rec:
		if !mentionsRole(v.Body, r, map[string]bool{v.Label: true}) {
			// r never participates in this recursive segment: prune the Rec
			// entirely and project whatever follows it does not exist here,
			// since global.Rec has no explicit continuation of its own
			// (spec.md's global Rec is itself the tail); treat it as End
			// for r, mirroring the teacher's pattern of collapsing
			// no-op protocol states rather than threading a sentinel.
			return local.End{}, nil
		}
		inner := map[string]bool{}
		for k := range inScopeRecs {
			inner[k] = true
		}
		inner[v.Label] = true
		body, err := project(v.Body, r, inner)
		if err != nil {
			return nil, err
		}
		return local.Rec{Label: v.Label, Body: body}, nil

	case global.Var:
		if !inScopeRecs[v.Label] {
			return nil, sessrums.NewInvalidProtocolStructureError(
				fmt.Sprintf("var %q projected for role %q has no enclosing, role-participating rec", v.Label, r), v.Label)
		}
		return local.Var{Label: v.Label}, nil

	default:
		return nil, sessrums.NewInvalidProtocolStructureError(fmt.Sprintf("unknown global protocol node %T", g), "")
	}
}

func projectBranches(bs []global.Branch, r role.ID, inScopeRecs map[string]bool) ([]local.Branch, error) {
	out := make([]local.Branch, 0, len(bs))
	for _, b := range bs {
		next, err := project(b.Next, r, inScopeRecs)
		if err != nil {
			return nil, err
		}
		out = append(out, local.Branch{Label: b.Label, Next: next})
	}
	return out, nil
}

// choiceMentions reports whether r appears, as decider or participant,
// anywhere within any branch of v (shallow: does not cross into a nested
// Rec's unrelated Vars, which mentionsRole already guards against).
func choiceMentions(v global.Choice, r role.ID) bool {
	for _, b := range v.Branches {
		if mentionsRole(b.Next, r, map[string]bool{}) {
			return true
		}
	}
	return false
}

// mentionsRole reports whether r appears as a Send participant or Choice
// decider/participant anywhere reachable in g, stopping at Var boundaries
// (a bare Var contributes nothing new; its Rec's body is what is actually
// walked, and cycles are bounded by definedRecs).
func mentionsRole(g global.Protocol, r role.ID, definedRecs map[string]bool) bool {
	switch v := g.(type) {
	case global.End:
		return false
	case global.Send:
		return v.From == r || v.To == r || mentionsRole(v.Next, r, definedRecs)
	case global.Choice:
		if v.Decider == r {
			return true
		}
		for _, b := range v.Branches {
			if mentionsRole(b.Next, r, definedRecs) {
				return true
			}
		}
		return false
	case global.Rec:
		next := map[string]bool{}
		for k := range definedRecs {
			next[k] = true
		}
		next[v.Label] = true
		return mentionsRole(v.Body, r, next)
	case global.Var:
		return false
	default:
		return false
	}
}
