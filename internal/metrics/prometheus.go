package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollectors holds all prometheus metric collectors mirroring
// a Collector's atomics.
type PrometheusCollectors struct {
	UpConnected      prometheus.Gauge
	DownstreamActive prometheus.Gauge
	CacheSize        prometheus.Gauge
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	PendingRequests  prometheus.Gauge
	RepliesDelivered prometheus.Counter
	RepliesDropped   prometheus.Counter
}

// register registers c, or returns the already-registered collector if
// one with the same descriptor exists (safe to call repeatedly, e.g.
// across tests in the same process).
func register(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		return c
	}
	return c
}

// InitPrometheus initializes and registers prometheus metrics under the
// given namespace.
func InitPrometheus(namespace string) *PrometheusCollectors {
	pc := &PrometheusCollectors{}

	pc.UpConnected = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upstream_connected",
		Help:      "Upstream connection status (1 = connected, 0 = disconnected)",
	})).(prometheus.Gauge)

	pc.DownstreamActive = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "downstream_connections_active",
		Help:      "Number of currently connected downstream clients",
	})).(prometheus.Gauge)

	pc.CacheSize = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Number of entries currently held in the response cache",
	})).(prometheus.Gauge)

	pc.CacheHits = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total number of response cache hits",
	})).(prometheus.Counter)

	pc.CacheMisses = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total number of response cache misses",
	})).(prometheus.Counter)

	pc.PendingRequests = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_requests",
		Help:      "Number of upstream requests awaiting a correlated reply",
	})).(prometheus.Gauge)

	pc.RepliesDelivered = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replies_delivered_total",
		Help:      "Total number of upstream replies delivered to a downstream subscriber",
	})).(prometheus.Counter)

	pc.RepliesDropped = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replies_dropped_total",
		Help:      "Total number of upstream replies dropped (no matching subscriber)",
	})).(prometheus.Counter)

	return pc
}

// Sync copies the current values of c into the prometheus collectors.
// Called by the server on each /metrics scrape rather than on a batch
// timer, since c's fields are already atomics and the sync itself is
// cheap — simpler than instrumenting every call site twice.
func (p *PrometheusCollectors) Sync(c *Collector) {
	if c.IsUpstreamConnected() {
		p.UpConnected.Set(1)
	} else {
		p.UpConnected.Set(0)
	}
	p.DownstreamActive.Set(float64(c.GetDownstreamActive()))
	p.CacheSize.Set(float64(c.CacheSize.Load()))
	p.PendingRequests.Set(float64(c.PendingRequests.Load()))
}
