package session

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/dikini/sessrums/pkg/sessrums/broker"
	"github.com/dikini/sessrums/pkg/sessrums/config"
	"github.com/dikini/sessrums/pkg/sessrums/global"
	"github.com/dikini/sessrums/pkg/sessrums/history"
	"github.com/dikini/sessrums/pkg/sessrums/local"
	"github.com/dikini/sessrums/pkg/sessrums/projection"
	"github.com/dikini/sessrums/pkg/sessrums/role"
)

var (
	client = role.ID("client")
	server = role.ID("server")
	logger = role.ID("logger")
)

func strMsg(from, to role.ID, next global.Protocol) global.Protocol {
	return global.Send{Type: reflect.TypeOf(""), From: from, To: to, Next: next}
}

// Test_ThreePartyWithLogger builds a global protocol where client asks
// server, server tells logger, then server answers client, projects each
// role's local view, and drives all three over one broker.
func Test_ThreePartyWithLogger(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := strMsg(client, server, strMsg(server, logger, strMsg(server, client, global.End{})))
	views, err := projection.ProjectAll(g)
	if err != nil {
		t.Fatalf("ProjectAll: %v", err)
	}

	b := broker.New(config.DefaultBroker(), nil, nil, nil)
	defer b.Close()

	peers := []role.ID{client, server, logger}
	cs, err := New(client, b, views[client], peers, config.DefaultSession(), nil, nil)
	if err != nil {
		t.Fatalf("New(client): %v", err)
	}
	ss, err := New(server, b, views[server], peers, config.DefaultSession(), nil, nil)
	if err != nil {
		t.Fatalf("New(server): %v", err)
	}
	ls, err := New(logger, b, views[logger], peers, config.DefaultSession(), nil, nil)
	if err != nil {
		t.Fatalf("New(logger): %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	ctx := context.Background()

	go func() {
		defer wg.Done()
		if err := cs.Send(ctx, server, "ping"); err != nil {
			t.Errorf("client Send: %v", err)
			return
		}
		v, err := cs.Recv(ctx, server)
		if err != nil {
			t.Errorf("client Recv: %v", err)
			return
		}
		if v.(string) != "pong" {
			t.Errorf("client received %v, want pong", v)
		}
		if err := cs.Close(); err != nil {
			t.Errorf("client Close: %v", err)
		}
	}()

	go func() {
		defer wg.Done()
		v, err := ss.Recv(ctx, client)
		if err != nil {
			t.Errorf("server Recv: %v", err)
			return
		}
		if v.(string) != "ping" {
			t.Errorf("server received %v, want ping", v)
		}
		if err := ss.Send(ctx, logger, "ping"); err != nil {
			t.Errorf("server Send to logger: %v", err)
			return
		}
		if err := ss.Send(ctx, client, "pong"); err != nil {
			t.Errorf("server Send to client: %v", err)
			return
		}
		if err := ss.Close(); err != nil {
			t.Errorf("server Close: %v", err)
		}
	}()

	go func() {
		defer wg.Done()
		v, err := ls.Recv(ctx, server)
		if err != nil {
			t.Errorf("logger Recv: %v", err)
			return
		}
		if v.(string) != "ping" {
			t.Errorf("logger received %v, want ping", v)
		}
		if err := ls.Close(); err != nil {
			t.Errorf("logger Close: %v", err)
		}
	}()

	wg.Wait()
}

func Test_SendRejectedWhenProtocolExpectsRecv(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := broker.New(config.DefaultBroker(), nil, nil, nil)
	defer b.Close()
	if err := b.Register(server); err != nil {
		t.Fatalf("Register(server): %v", err)
	}

	proto := local.Recv{Type: reflect.TypeOf(""), From: server}
	peers := []role.ID{client, server}
	s, err := New(client, b, proto, peers, config.DefaultSession(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Send(context.Background(), server, "hi"); err == nil {
		t.Fatalf("expected Send to fail when the protocol head is Recv")
	}
}

func Test_SelectOffer_Choice(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := broker.New(config.DefaultBroker(), nil, nil, nil)
	defer b.Close()

	deciderProto := local.Select{Branches: []local.Branch{
		{Label: "buy", Next: local.End{}},
		{Label: "quit", Next: local.End{}},
	}}
	offereeProto := local.Offer{Decider: client, Branches: []local.Branch{
		{Label: "buy", Next: local.End{}},
		{Label: "quit", Next: local.End{}},
	}}

	peers := []role.ID{client, server}
	cs, err := New(client, b, deciderProto, peers, config.DefaultSession(), nil, nil)
	if err != nil {
		t.Fatalf("New(client): %v", err)
	}
	ss, err := New(server, b, offereeProto, peers, config.DefaultSession(), nil, nil)
	if err != nil {
		t.Fatalf("New(server): %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	ctx := context.Background()

	go func() {
		defer wg.Done()
		if err := cs.Select(ctx, "buy"); err != nil {
			t.Errorf("Select: %v", err)
			return
		}
		if err := cs.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	go func() {
		defer wg.Done()
		label, err := ss.Offer(ctx)
		if err != nil {
			t.Errorf("Offer: %v", err)
			return
		}
		if label != "buy" {
			t.Errorf("Offer() = %q, want %q", label, "buy")
		}
		if err := ss.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	wg.Wait()
}

// Test_New_StrictRoles_RejectsUnregisteredPeer checks that, once a Session's
// first operation runs, config.Session.StrictRoles rejects an operation
// whose head names a peer that never registered with the broker.
func Test_New_StrictRoles_RejectsUnregisteredPeer(t *testing.T) {
	b := broker.New(config.DefaultBroker(), nil, nil, nil)
	defer b.Close()

	proto := local.Send{Type: reflect.TypeOf(0), To: server, Next: local.End{}}
	s, err := New(client, b, proto, []role.ID{client, server}, config.DefaultSession(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Send(context.Background(), server, 1); err == nil {
		t.Fatalf("expected Send to fail: server was never registered and StrictRoles is set")
	}
}

// Test_New_StrictRoles_Disabled checks that, with StrictRoles off, an
// unregistered peer only surfaces as an ordinary Send/Recv error, not a
// StrictRoles rejection.
func Test_New_StrictRoles_Disabled(t *testing.T) {
	b := broker.New(config.DefaultBroker(), nil, nil, nil)
	defer b.Close()
	if err := b.Register(client); err != nil {
		t.Fatalf("Register(client): %v", err)
	}

	proto := local.Send{Type: reflect.TypeOf(0), To: server, Next: local.End{}}
	cfg := config.Session{StrictRoles: false}
	s, err := New(client, b, proto, []role.ID{client, server}, cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = s.Send(context.Background(), server, 1)
	if err == nil {
		t.Fatalf("expected Send to fail against a broker that never saw server registered")
	}
}

// Test_Session_RecordsHistory checks that a Session with a Recorder
// configured appends an Entry for each successful Send/Recv.
func Test_Session_RecordsHistory(t *testing.T) {
	b := broker.New(config.DefaultBroker(), nil, nil, nil)
	defer b.Close()

	store := history.NewInMemory()
	rec := history.NewRecorder(store)

	peers := []role.ID{client, server}
	cProto := local.Send{Type: reflect.TypeOf(0), To: server, Next: local.End{}}
	sProto := local.Recv{Type: reflect.TypeOf(0), From: client, Next: local.End{}}

	cs, err := New(client, b, cProto, peers, config.DefaultSession(), nil, rec)
	if err != nil {
		t.Fatalf("New(client): %v", err)
	}
	ss, err := New(server, b, sProto, peers, config.DefaultSession(), nil, rec)
	if err != nil {
		t.Fatalf("New(server): %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	ctx := context.Background()
	go func() {
		defer wg.Done()
		if err := cs.Send(ctx, server, 9); err != nil {
			t.Errorf("Send: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := ss.Recv(ctx, client); err != nil {
			t.Errorf("Recv: %v", err)
		}
	}()
	wg.Wait()

	entries, err := rec.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
}

// Test_NewMultiparty builds sessions for every role in a three-party
// protocol with one call and drives them to completion.
func Test_NewMultiparty(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := strMsg(client, server, strMsg(server, logger, strMsg(server, client, global.End{})))

	b := broker.New(config.DefaultBroker(), nil, nil, nil)
	defer b.Close()
	for _, r := range []role.ID{client, server, logger} {
		if err := b.Register(r); err != nil {
			t.Fatalf("Register(%s): %v", r, err)
		}
	}

	sessions, err := NewMultiparty(g, b)
	if err != nil {
		t.Fatalf("NewMultiparty: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("NewMultiparty returned %d sessions, want 3", len(sessions))
	}

	var wg sync.WaitGroup
	wg.Add(3)
	ctx := context.Background()

	go func() {
		defer wg.Done()
		cs := sessions[client]
		if err := cs.Send(ctx, server, "ping"); err != nil {
			t.Errorf("client Send: %v", err)
			return
		}
		v, err := cs.Recv(ctx, server)
		if err != nil {
			t.Errorf("client Recv: %v", err)
			return
		}
		if v.(string) != "pong" {
			t.Errorf("client received %v, want pong", v)
		}
		if err := cs.Close(); err != nil {
			t.Errorf("client Close: %v", err)
		}
	}()

	go func() {
		defer wg.Done()
		ss := sessions[server]
		v, err := ss.Recv(ctx, client)
		if err != nil {
			t.Errorf("server Recv: %v", err)
			return
		}
		if v.(string) != "ping" {
			t.Errorf("server received %v, want ping", v)
		}
		if err := ss.Send(ctx, logger, "ping"); err != nil {
			t.Errorf("server Send to logger: %v", err)
			return
		}
		if err := ss.Send(ctx, client, "pong"); err != nil {
			t.Errorf("server Send to client: %v", err)
			return
		}
		if err := ss.Close(); err != nil {
			t.Errorf("server Close: %v", err)
		}
	}()

	go func() {
		defer wg.Done()
		ls := sessions[logger]
		v, err := ls.Recv(ctx, server)
		if err != nil {
			t.Errorf("logger Recv: %v", err)
			return
		}
		if v.(string) != "ping" {
			t.Errorf("logger received %v, want ping", v)
		}
		if err := ls.Close(); err != nil {
			t.Errorf("logger Close: %v", err)
		}
	}()

	wg.Wait()
}

func Test_RecVarResolvedTransparently(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := broker.New(config.DefaultBroker(), nil, nil, nil)
	defer b.Close()

	// One round of a ping inside a Rec, then stop: Rec{Body: Send -> End}.
	// Only the unwrapping of the leading Rec is exercised; neither body
	// contains a Var.
	aProto := local.Rec{Label: "loop", Body: local.Send{
		Type: reflect.TypeOf(0), To: server, Next: local.End{},
	}}
	bProto := local.Rec{Label: "loop", Body: local.Recv{
		Type: reflect.TypeOf(0), From: client, Next: local.End{},
	}}

	peers := []role.ID{client, server}
	as, err := New(client, b, aProto, peers, config.DefaultSession(), nil, nil)
	if err != nil {
		t.Fatalf("New(client): %v", err)
	}
	bs, err := New(server, b, bProto, peers, config.DefaultSession(), nil, nil)
	if err != nil {
		t.Fatalf("New(server): %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	ctx := context.Background()

	go func() {
		defer wg.Done()
		if err := as.Send(ctx, server, 5); err != nil {
			t.Errorf("Send: %v", err)
			return
		}
		if err := as.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	go func() {
		defer wg.Done()
		v, err := bs.Recv(ctx, client)
		if err != nil {
			t.Errorf("Recv: %v", err)
			return
		}
		if v.(int) != 5 {
			t.Errorf("Recv() = %v, want 5", v)
		}
		if err := bs.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	wg.Wait()
}
