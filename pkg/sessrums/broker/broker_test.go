package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/goleak"

	"github.com/dikini/sessrums/pkg/sessrums/config"
	"github.com/dikini/sessrums/pkg/sessrums/history"
	"github.com/dikini/sessrums/pkg/sessrums/metrics"
	"github.com/dikini/sessrums/pkg/sessrums/role"
)

func newTestBroker() *Broker {
	return New(config.DefaultBroker(), nil, nil, nil)
}

func Test_SendRecv_RoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newTestBroker()
	defer b.Close()

	alice, bob := role.ID("alice"), role.ID("bob")
	if err := b.Register(alice); err != nil {
		t.Fatalf("Register(alice): %v", err)
	}
	if err := b.Register(bob); err != nil {
		t.Fatalf("Register(bob): %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := Send(context.Background(), b, alice, bob, 42); err != nil {
			t.Errorf("Send: %v", err)
		}
	}()

	v, err := Recv[int](context.Background(), b, alice, bob)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if v != 42 {
		t.Fatalf("Recv() = %d, want 42", v)
	}
	wg.Wait()
}

func Test_Send_RejectsUnregisteredSender(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newTestBroker()
	defer b.Close()

	bob := role.ID("bob")
	if err := b.Register(bob); err != nil {
		t.Fatalf("Register(bob): %v", err)
	}

	err := Send(context.Background(), b, "ghost", bob, 1)
	if err == nil {
		t.Fatalf("expected Send from an unregistered participant to fail")
	}
}

func Test_MailboxesAreIndependentByPayloadType(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newTestBroker()
	defer b.Close()

	alice, bob := role.ID("alice"), role.ID("bob")
	b.Register(alice)
	b.Register(bob)

	if err := Send(context.Background(), b, alice, bob, "hello"); err != nil {
		t.Fatalf("Send string: %v", err)
	}
	if err := Send(context.Background(), b, alice, bob, 7); err != nil {
		t.Fatalf("Send int: %v", err)
	}

	n, err := Recv[int](context.Background(), b, alice, bob)
	if err != nil {
		t.Fatalf("Recv int: %v", err)
	}
	if n != 7 {
		t.Fatalf("Recv int = %d, want 7", n)
	}

	s, err := Recv[string](context.Background(), b, alice, bob)
	if err != nil {
		t.Fatalf("Recv string: %v", err)
	}
	if s != "hello" {
		t.Fatalf("Recv string = %q, want %q", s, "hello")
	}
}

func Test_Close_UnblocksPendingRecv(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newTestBroker()

	alice, bob := role.ID("alice"), role.ID("bob")
	b.Register(alice)
	b.Register(bob)

	errCh := make(chan error, 1)
	go func() {
		_, err := Recv[int](context.Background(), b, alice, bob)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected Recv to fail once the broker is closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("Recv did not unblock after Close")
	}
}

func Test_NewRequestID_Unique(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	if a == b {
		t.Fatalf("expected two generated request IDs to differ")
	}
}

func Test_Register_Idempotent(t *testing.T) {
	b := newTestBroker()
	defer b.Close()
	alice := role.ID("alice")
	if err := b.Register(alice); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := b.Register(alice); err != nil {
		t.Fatalf("second Register: %v", err)
	}
}

func Test_IsRegistered(t *testing.T) {
	b := newTestBroker()
	defer b.Close()
	alice := role.ID("alice")

	if b.IsRegistered(alice) {
		t.Fatalf("IsRegistered(alice) = true before Register")
	}
	if err := b.Register(alice); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !b.IsRegistered(alice) {
		t.Fatalf("IsRegistered(alice) = false after Register")
	}
}

func Test_Close_ClearsMailboxesOpenGauge(t *testing.T) {
	defer goleak.VerifyNone(t)
	met := metrics.NewBroker(prometheus.NewRegistry(), "test")
	b := New(config.DefaultBroker(), nil, met, nil)

	alice, bob := role.ID("alice"), role.ID("bob")
	b.Register(alice)
	b.Register(bob)
	if err := Send(context.Background(), b, alice, bob, 1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := Send(context.Background(), b, alice, bob, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var before dto.Metric
	if err := met.MailboxesOpen.Write(&before); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if before.Gauge.GetValue() != 2 {
		t.Fatalf("MailboxesOpen before Close = %v, want 2", before.Gauge.GetValue())
	}

	b.Close()

	var after dto.Metric
	if err := met.MailboxesOpen.Write(&after); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if after.Gauge.GetValue() != 0 {
		t.Fatalf("MailboxesOpen after Close = %v, want 0", after.Gauge.GetValue())
	}
}

func Test_Send_RecordsHistory(t *testing.T) {
	defer goleak.VerifyNone(t)
	store := history.NewInMemory()
	rec := history.NewRecorder(store)
	b := New(config.DefaultBroker(), nil, nil, rec)
	defer b.Close()

	alice, bob := role.ID("alice"), role.ID("bob")
	b.Register(alice)
	b.Register(bob)

	if err := Send(context.Background(), b, alice, bob, 42); err != nil {
		t.Fatalf("Send: %v", err)
	}

	entries, err := rec.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Op != history.OpSend || entries[0].Role != alice || entries[0].Peer != bob {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}
