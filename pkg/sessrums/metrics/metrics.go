// Package metrics exposes the broker's (package broker) operational
// counters as Prometheus collectors. The teacher repo only reaches for
// prometheus indirectly, through the now-deprecated prometheus/common/log
// facade (pkg/mcast/core/transport.go); this module replaces that with a
// direct client_golang registry, grounded on the registry-construction
// pattern in _examples/other_examples (contour's featuretests harness
// builds its own prometheus.Registry rather than using the global one, the
// same choice made here so a process can run more than one broker).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Broker is the set of collectors a broker.Broker reports through.
type Broker struct {
	Registered    prometheus.Counter
	Sent          prometheus.Counter
	Received      prometheus.Counter
	MailboxesOpen prometheus.Gauge
	Closed        prometheus.Counter
}

// NewBroker creates a Broker's collectors and registers them with reg. Pass
// a fresh prometheus.NewRegistry() to keep multiple broker instances'
// metrics from colliding, or prometheus.DefaultRegisterer for a
// process-wide broker.
func NewBroker(reg prometheus.Registerer, namespace string) *Broker {
	b := &Broker{
		Registered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "participants_registered_total",
			Help:      "Participants registered with the broker.",
		}),
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "messages_sent_total",
			Help:      "Messages accepted by the broker for delivery.",
		}),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "messages_received_total",
			Help:      "Messages delivered to a receiver by the broker.",
		}),
		MailboxesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "mailboxes_open",
			Help:      "Mailboxes currently held open by the broker.",
		}),
		Closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "closed_total",
			Help:      "Times the broker has been closed.",
		}),
	}
	reg.MustRegister(b.Registered, b.Sent, b.Received, b.MailboxesOpen, b.Closed)
	return b
}

// Noop returns a Broker whose collectors are registered only on a fresh
// private registry that nothing gathers, for callers (and tests) that want
// the metrics calls to be safe without standing up a registry of their own.
func Noop() *Broker {
	return NewBroker(prometheus.NewRegistry(), "sessrums")
}
