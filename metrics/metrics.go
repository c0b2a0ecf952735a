// Package metrics exposes the prometheus counters shared by the services.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeRolledBack = "rolled_back"
	OutcomeTimeout    = "timeout"
	OutcomeFallback   = "fallback"
	OutcomeDuplicate  = "duplicate"
	OutcomeDeadLetter = "dead_letter"
	OutcomeCanceled   = "canceled"
)

type Metrics struct {
	registrations   *prometheus.CounterVec
	categoryLookups *prometheus.CounterVec
	shardOps        *prometheus.CounterVec
	eventsConsumed  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registration_saga_total",
			Help: "Registration attempts by provisioning strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		categoryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "category_lookup_total",
			Help: "Category RPC lookups by operation and outcome.",
		}, []string{"op", "outcome"}),
		shardOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shard_operations_total",
			Help: "Operations routed to each user-profile shard.",
		}, []string{"shard"}),
		eventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_consumed_total",
			Help: "Events handled by the profile consumer by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.registrations, m.categoryLookups, m.shardOps, m.eventsConsumed)
	}
	return m
}

func (m *Metrics) Registration(strategy, outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) CategoryLookup(op, outcome string) {
	if m == nil {
		return
	}
	m.categoryLookups.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ShardOperation(shardID int) {
	if m == nil {
		return
	}
	m.shardOps.WithLabelValues(strconv.Itoa(shardID)).Inc()
}

func (m *Metrics) EventConsumed(outcome string) {
	if m == nil {
		return
	}
	m.eventsConsumed.WithLabelValues(outcome).Inc()
}
