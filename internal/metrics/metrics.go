// Package metrics provides collection and reporting of proxy metrics.
package metrics

import (
	"sync/atomic"
)

// Collector holds all proxy metrics as plain atomics, updated directly
// from the hot path (upstream client, downstream connections, cache).
type Collector struct {
	// Connection metrics
	UpConnected      atomic.Bool
	DownstreamActive atomic.Int64

	// Cache metrics
	CacheSize   atomic.Int64
	CacheHits   atomic.Uint64
	CacheMisses atomic.Uint64

	// Correlation metrics
	PendingRequests atomic.Int64

	// Subscriber metrics. No caller writes these and Snapshot does not
	// report them, so they stay at zero.
	TextSubscribers   atomic.Int64
	BinarySubscribers atomic.Int64

	// Delivery metrics
	RepliesDelivered atomic.Uint64
	RepliesDropped   atomic.Uint64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetUpstreamConnected sets the upstream connection status.
func (m *Collector) SetUpstreamConnected(connected bool) {
	m.UpConnected.Store(connected)
}

// IsUpstreamConnected returns the upstream connection status.
func (m *Collector) IsUpstreamConnected() bool {
	return m.UpConnected.Load()
}

// IncrementDownstream increments the active downstream connection count.
func (m *Collector) IncrementDownstream() {
	m.DownstreamActive.Add(1)
}

// DecrementDownstream decrements the active downstream connection count.
func (m *Collector) DecrementDownstream() {
	m.DownstreamActive.Add(-1)
}

// GetDownstreamActive returns the current number of active downstream
// connections.
func (m *Collector) GetDownstreamActive() int64 {
	return m.DownstreamActive.Load()
}

// SetCacheSize records the current number of cache entries.
func (m *Collector) SetCacheSize(n int) {
	m.CacheSize.Store(int64(n))
}

// RecordCacheHit increments the cache hit counter.
func (m *Collector) RecordCacheHit() {
	m.CacheHits.Add(1)
}

// RecordCacheMiss increments the cache miss counter.
func (m *Collector) RecordCacheMiss() {
	m.CacheMisses.Add(1)
}

// SetPendingRequests records the current pending-request queue depth.
func (m *Collector) SetPendingRequests(n int) {
	m.PendingRequests.Store(int64(n))
}

// RecordReplyDelivered increments the delivered-reply counter.
func (m *Collector) RecordReplyDelivered() {
	m.RepliesDelivered.Add(1)
}

// RecordReplyDropped increments the dropped-reply counter (a reply
// filtered out by a downstream connection).
func (m *Collector) RecordReplyDropped() {
	m.RepliesDropped.Add(1)
}

// Snapshot returns a point-in-time view of the collector, suitable for
// JSON serving from the /status endpoint.
func (m *Collector) Snapshot() Snapshot {
	return Snapshot{
		UpstreamConnected: m.IsUpstreamConnected(),
		DownstreamActive:  m.GetDownstreamActive(),
		CacheSize:         m.CacheSize.Load(),
		CacheHits:         m.CacheHits.Load(),
		CacheMisses:       m.CacheMisses.Load(),
		PendingRequests:   m.PendingRequests.Load(),
		RepliesDelivered:  m.RepliesDelivered.Load(),
		RepliesDropped:    m.RepliesDropped.Load(),
	}
}

// Snapshot represents a point-in-time view of metrics, rendered as JSON
// by the proxy's /status endpoint.
type Snapshot struct {
	UpstreamConnected bool   `json:"upstream_connected"`
	DownstreamActive  int64  `json:"downstream_active"`
	CacheSize         int64  `json:"cache_size"`
	CacheHits         uint64 `json:"cache_hits"`
	CacheMisses       uint64 `json:"cache_misses"`
	PendingRequests   int64  `json:"pending_requests"`
	RepliesDelivered  uint64 `json:"replies_delivered"`
	RepliesDropped    uint64 `json:"replies_dropped"`
}
