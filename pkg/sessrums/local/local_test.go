package local

import (
	"reflect"
	"testing"

	"github.com/dikini/sessrums/pkg/sessrums/role"
)

var (
	alice = role.ID("alice")
	bob   = role.ID("bob")
)

func intSend(to role.ID, next Protocol) Protocol {
	return Send{Type: reflect.TypeOf(0), To: to, Next: next}
}

func intRecv(from role.ID, next Protocol) Protocol {
	return Recv{Type: reflect.TypeOf(0), From: from, Next: next}
}

func Test_Dual_Involution_Send(t *testing.T) {
	p := intSend(bob, End{})
	got := Dual(Dual(p))
	if !Equal(got, p) {
		t.Fatalf("Dual(Dual(p)) = %#v, want %#v", got, p)
	}
}

func Test_Dual_Involution_SelectOffer(t *testing.T) {
	p := Select{Branches: []Branch{
		{Label: "left", Next: intSend(bob, End{})},
		{Label: "right", Next: End{}},
	}}
	got := Dual(Dual(p))
	if !Equal(got, p) {
		t.Fatalf("Dual(Dual(p)) = %#v, want %#v", got, p)
	}
}

func Test_Dual_Involution_Rec(t *testing.T) {
	p := Rec{Label: "0", Body: intSend(bob, Var{Label: "0"})}
	got := Dual(Dual(p))
	if !Equal(got, p) {
		t.Fatalf("Dual(Dual(p)) = %#v, want %#v", got, p)
	}
}

func Test_Dual_SendBecomesRecv(t *testing.T) {
	p := intSend(bob, End{})
	d := Dual(p)
	r, ok := d.(Recv)
	if !ok {
		t.Fatalf("Dual(Send) = %T, want Recv", d)
	}
	if r.From != bob {
		t.Fatalf("Dual(Send{To: bob}).From = %v, want %v", r.From, bob)
	}
}

func Test_Equal_DifferentPayloadTypes(t *testing.T) {
	a := intSend(bob, End{})
	b := Send{Type: reflect.TypeOf(""), To: bob, Next: End{}}
	if Equal(a, b) {
		t.Fatalf("protocols with different payload types compared equal")
	}
}

func Test_Participates(t *testing.T) {
	p := intSend(bob, intRecv(bob, End{}))
	if !Participates(p, bob) {
		t.Fatalf("expected bob to participate")
	}
	if Participates(p, alice) {
		t.Fatalf("alice does not appear in this local protocol")
	}
}

func Test_Participates_Offer(t *testing.T) {
	p := Offer{Decider: alice, Branches: []Branch{{Label: "x", Next: End{}}}}
	if !Participates(p, alice) {
		t.Fatalf("expected decider to count as a participant")
	}
}
