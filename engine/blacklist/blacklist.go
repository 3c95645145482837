// Package blacklist implements the Blacklist Cache (C9, §4.9): the one
// piece of shared mutable state besides DataAccess (§5 "Shared-resource
// policy"). It tracks per-cache-hit and per-bucket-prefix status so the
// Cache-Hit Copy FSM can short-circuit doomed copy attempts.
package blacklist

import (
	"sync"

	"github.com/powelleric/cromwell/engine/metrics"
)

// Status is the three-valued cache health the spec names {Untested, Good, Bad}.
type Status string

const (
	Untested Status = "Untested"
	Good     Status = "Good"
	Bad      Status = "Bad"
)

// rank gives the monotonic-toward-Bad ordering: a write can only move a key
// from a lower rank to Bad, or set Good over Untested; Bad never regresses.
var rank = map[Status]int{Untested: 0, Good: 0, Bad: 1}

// Config toggles whether hit/bucket lookups consult the cache at all.
type Config struct {
	HitEnabled    bool
	BucketEnabled bool
}

// DefaultConfig enables both lookups, matching the teacher's pattern of
// safe-by-default toggles.
func DefaultConfig() Config {
	return Config{HitEnabled: true, BucketEnabled: true}
}

// Cache is a thread-safe, process-wide blacklist. Concurrent readers and
// writers are safe; a write downgrading Good/Untested to Bad always wins
// over a concurrent write going the other way (monotonic-toward-Bad,
// Testable Property §8).
type Cache struct {
	cfg Config
	met *metrics.Metrics

	mu      sync.RWMutex
	hits    map[string]Status
	buckets map[string]Status
}

// New builds an empty Cache. met may be nil, in which case Bad transitions
// are not counted (used by tests that don't care about metrics wiring).
func New(cfg Config, met *metrics.Metrics) *Cache {
	return &Cache{
		cfg:     cfg,
		met:     met,
		hits:    make(map[string]Status),
		buckets: make(map[string]Status),
	}
}

// HitStatus returns the current status of a cache hit ID, or Untested if
// hit lookups are disabled or the ID has never been written.
func (c *Cache) HitStatus(hitID string) Status {
	if !c.cfg.HitEnabled {
		return Untested
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.hits[hitID]; ok {
		return s
	}
	return Untested
}

// BucketStatus returns the current status of a bucket prefix, or Untested if
// bucket lookups are disabled or the prefix has never been written.
func (c *Cache) BucketStatus(bucketPrefix string) Status {
	if !c.cfg.BucketEnabled {
		return Untested
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.buckets[bucketPrefix]; ok {
		return s
	}
	return Untested
}

// MarkHit records the outcome of one cache-hit copy attempt against hitID.
// A Bad write downgrading from Good or Untested increments the metric
// exactly once; a Bad write observing an already-Bad entry does not
// double-count (Testable Property — no double counting on repeated Bad
// writes for the same transition).
func (c *Cache) MarkHit(hitID string, status Status, backendName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.hits[hitID]
	if rank[status] < rank[current] {
		return
	}
	if status == Bad && current != Bad && c.met != nil {
		c.met.BlacklistHitBad.WithLabelValues(backendName).Inc()
	}
	c.hits[hitID] = status
}

// MarkBucket records the outcome of one cache-hit copy attempt against the
// bucket prefix derived from hitID's storage path, with the same
// monotonic-toward-Bad and no-double-count semantics as MarkHit.
func (c *Cache) MarkBucket(bucketPrefix string, status Status, backendName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.buckets[bucketPrefix]
	if rank[status] < rank[current] {
		return
	}
	if status == Bad && current != Bad && c.met != nil {
		c.met.BlacklistBucketBad.WithLabelValues(backendName).Inc()
	}
	c.buckets[bucketPrefix] = status
}
