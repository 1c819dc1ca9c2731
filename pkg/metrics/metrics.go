// Package metrics instruments the light client's verification state
// machine with Prometheus collectors. A Collector is constructed against
// whatever prometheus.Registerer the embedding host already scrapes from;
// this package never starts its own HTTP server or registers with the
// global default registry implicitly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds the light client's Prometheus instruments. A nil
// *Collector is valid everywhere it's used: every method checks for a nil
// receiver before touching a collector, so instrumentation is entirely
// opt-in via Client.WithMetrics.
type Collector struct {
	clientMessages       *prometheus.CounterVec
	misbehaviourDetected prometheus.Counter
	frozenClients        prometheus.Counter
}

// New constructs a Collector and registers its instruments with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		clientMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grandpa_lightclient",
			Name:      "client_messages_total",
			Help:      "ClientMessages processed by VerifyClientMessage, labeled by message kind and result.",
		}, []string{"kind", "result"}),
		misbehaviourDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grandpa_lightclient",
			Name:      "misbehaviour_detected_total",
			Help:      "Equivocations proven by VerifyClientMessage(Misbehaviour).",
		}),
		frozenClients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grandpa_lightclient",
			Name:      "frozen_clients_total",
			Help:      "Times UpdateStateOnMisbehaviour has newly frozen a client instance.",
		}),
	}
	reg.MustRegister(c.clientMessages, c.misbehaviourDetected, c.frozenClients)
	return c
}

// RecordClientMessage tallies one VerifyClientMessage call by message kind
// ("header" or "misbehaviour") and result ("accepted" or "rejected").
func (c *Collector) RecordClientMessage(kind string, err error) {
	if c == nil {
		return
	}
	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	c.clientMessages.WithLabelValues(kind, result).Inc()
}

// RecordMisbehaviourDetected tallies one proven equivocation.
func (c *Collector) RecordMisbehaviourDetected() {
	if c == nil {
		return
	}
	c.misbehaviourDetected.Inc()
}

// RecordFrozen tallies one client instance transitioning from healthy to
// frozen. UpdateStateOnMisbehaviour's idempotent no-op path never calls
// this, so it counts freeze events, not a point-in-time frozen count.
func (c *Collector) RecordFrozen() {
	if c == nil {
		return
	}
	c.frozenClients.Inc()
}
