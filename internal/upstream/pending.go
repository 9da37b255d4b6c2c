package upstream

import (
	"time"

	"github.com/opensong/ws-proxy/internal/endpoint"
)

// pendingTTL is how long a sent-but-unanswered request may sit in the
// pending queue before it is considered stale and evicted.
const pendingTTL = 5 * time.Second

// pendingEntry associates an endpoint with the time it was enqueued.
type pendingEntry struct {
	endpoint endpoint.Endpoint
	enqueued time.Time
}

// pendingQueue is an insertion-ordered association from Endpoint to
// enqueue time, modeling an OrderedDict-style pending request table.
// At most one entry exists per endpoint value; adding an
// endpoint already present moves it to the tail. Every lookup first
// evicts entries older than pendingTTL.
type pendingQueue struct {
	now   func() time.Time
	order []pendingEntry
}

func newPendingQueue(now func() time.Time) *pendingQueue {
	return &pendingQueue{now: now}
}

// evictStale drops every entry older than pendingTTL, preserving order.
func (q *pendingQueue) evictStale() {
	cutoff := q.now().Add(-pendingTTL)
	kept := q.order[:0]
	for _, e := range q.order {
		if e.enqueued.After(cutoff) {
			kept = append(kept, e)
		}
	}
	q.order = kept
}

// removeEndpoint drops any existing entry for ep, if present.
func (q *pendingQueue) removeEndpoint(ep endpoint.Endpoint) {
	for i, e := range q.order {
		if e.endpoint.Equal(ep) {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

// Add evicts stale entries, removes any existing entry for ep so the
// fresh one lands at the tail, then appends ep with the current time.
func (q *pendingQueue) Add(ep endpoint.Endpoint) {
	q.evictStale()
	q.removeEndpoint(ep)
	q.order = append(q.order, pendingEntry{endpoint: ep, enqueued: q.now()})
}

// MatchNewestFirst evicts stale entries, then scans from the most
// recently added entry to the oldest, returning the first whose
// endpoint satisfies skip == false and matches the given triple via
// endpoint.Matches. The matched entry is removed. skip is consulted
// before matching so callers can, for example, ignore binary-expecting
// entries while correlating a text reply.
func (q *pendingQueue) MatchNewestFirst(triple endpoint.Endpoint, skip func(endpoint.Endpoint) bool) (endpoint.Endpoint, bool) {
	q.evictStale()
	for i := len(q.order) - 1; i >= 0; i-- {
		ep := q.order[i].endpoint
		if skip != nil && skip(ep) {
			continue
		}
		if ep.Matches(triple) {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return ep, true
		}
	}
	return endpoint.Endpoint{}, false
}

// MatchNewestFirstBinary scans from the most recently added entry to the
// oldest, returning the first whose endpoint expects a binary reply.
// Binary frames carry no correlation attributes of their own, so unlike
// MatchNewestFirst there is nothing to match against beyond the
// binary/text split itself.
func (q *pendingQueue) MatchNewestFirstBinary() (endpoint.Endpoint, bool) {
	q.evictStale()
	for i := len(q.order) - 1; i >= 0; i-- {
		ep := q.order[i].endpoint
		if ep.ExpectBinary() {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return ep, true
		}
	}
	return endpoint.Endpoint{}, false
}

// Len reports the current number of pending entries, after evicting
// stale ones — used for metrics reporting.
func (q *pendingQueue) Len() int {
	q.evictStale()
	return len(q.order)
}
