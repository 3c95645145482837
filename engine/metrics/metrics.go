// Package metrics wires the engine's Prometheus counters. It mirrors the
// registry/registerer shape of the teacher's monitoring service but, since
// the execution core has no HTTP surface of its own, exposes the registry
// for an embedder to serve rather than mounting its own handler.
package metrics

import (
	prom "github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of counters the Blacklist Cache and Cache-Hit Copy FSM
// increment.
type Metrics struct {
	Registry *prom.Registry

	BlacklistHitBad    *prom.CounterVec
	BlacklistBucketBad *prom.CounterVec
	CopyOutcomes       *prom.CounterVec
}

// New builds a Metrics instance registered against a fresh registry.
func New() *Metrics {
	registry := prom.NewRegistry()
	m := &Metrics{
		Registry: registry,
		BlacklistHitBad: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cromwell",
			Subsystem: "blacklist",
			Name:      "hit_bad_total",
			Help:      "Number of cache hit IDs transitioned to Bad.",
		}, []string{"backend"}),
		BlacklistBucketBad: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cromwell",
			Subsystem: "blacklist",
			Name:      "bucket_bad_total",
			Help:      "Number of cache bucket prefixes transitioned to Bad.",
		}, []string{"backend"}),
		CopyOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cromwell",
			Subsystem: "cachecopy",
			Name:      "outcomes_total",
			Help:      "Cache-hit copy attempt outcomes by result.",
		}, []string{"result"}),
	}
	registry.MustRegister(m.BlacklistHitBad, m.BlacklistBucketBad, m.CopyOutcomes)
	return m
}

// Noop builds a Metrics instance backed by a private, unregistered registry —
// safe to use repeatedly in tests without "duplicate metrics collector"
// panics across test cases.
func Noop() *Metrics {
	return New()
}
