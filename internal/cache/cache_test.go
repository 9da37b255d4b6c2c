package cache

import (
	"testing"
	"time"

	"github.com/opensong/ws-proxy/internal/endpoint"
)

// fakeClock lets tests advance simulated time deterministically.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache() (*Cache, *fakeClock) {
	c := New()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c.now = clock.now
	return c, clock
}

func TestAddThenGetByURL(t *testing.T) {
	c, _ := newTestCache()
	e := endpoint.New("/presentation/status")

	c.Add(e, TextPayload("<x/>"), 0)

	got, ok := c.GetByURL("/presentation/status")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Text != "<x/>" {
		t.Errorf("payload = %q, want <x/>", got.Text)
	}
}

func TestDefaultTTLStatusExpiresAfter5s(t *testing.T) {
	c, clock := newTestCache()
	e := endpoint.New("/presentation/status")
	c.Add(e, TextPayload("<x/>"), 0)

	clock.advance(6 * time.Second)

	if _, ok := c.GetByURL("/presentation/status"); ok {
		t.Error("expected cache miss after TTL elapsed")
	}
}

func TestDefaultTTLOtherIs10Min(t *testing.T) {
	c, clock := newTestCache()
	e := endpoint.New("/song/folders")
	c.Add(e, TextPayload("<x/>"), 0)

	clock.advance(9 * time.Minute)
	if _, ok := c.GetByURL("/song/folders"); !ok {
		t.Error("expected cache hit before 10 minute default TTL elapses")
	}

	clock.advance(2 * time.Minute)
	if _, ok := c.GetByURL("/song/folders"); ok {
		t.Error("expected cache miss after 10 minute default TTL elapses")
	}
}

func TestAddReplacesAndRefreshesExpiry(t *testing.T) {
	c, clock := newTestCache()
	e := endpoint.New("/presentation/status")

	c.Add(e, TextPayload("first"), 5*time.Second)
	clock.advance(3 * time.Second)
	c.Add(e, TextPayload("second"), 5*time.Second)
	clock.advance(3 * time.Second)

	got, ok := c.GetByURL("/presentation/status")
	if !ok {
		t.Fatal("expected hit: refreshed expiry should still be live")
	}
	if got.Text != "second" {
		t.Errorf("payload = %q, want second (most recent add wins)", got.Text)
	}
}

func TestGetByTripleWildcard(t *testing.T) {
	c, _ := newTestCache()
	c.Add(endpoint.New("/presentation/slide/42"), TextPayload("<slide/>"), 0)

	got, ok := c.GetByTriple("presentation", "slide", "42")
	if !ok {
		t.Fatal("expected hit for exact triple")
	}
	if got.Text != "<slide/>" {
		t.Errorf("payload = %q", got.Text)
	}

	if _, ok := c.GetByTriple("song", "slide", "42"); ok {
		t.Error("resource must never be wildcarded")
	}
}

// TestGetByTripleStoredWildcardMatchesConcreteProbe pins the match
// direction: the stored endpoint is the (possibly wildcard-bearing)
// pattern and the caller-supplied triple is always a concrete probe,
// never the other way around.
func TestGetByTripleStoredWildcardMatchesConcreteProbe(t *testing.T) {
	c, _ := newTestCache()
	c.Add(endpoint.FromParts("song", "list", "*", ""), TextPayload("<list/>"), 0)

	got, ok := c.GetByTriple("song", "list", "42")
	if !ok {
		t.Fatal("expected a wildcard-identifier stored entry to match a concrete probe identifier")
	}
	if got.Text != "<list/>" {
		t.Errorf("payload = %q", got.Text)
	}
}

func TestPurgeRemovesOnlyExpired(t *testing.T) {
	c, clock := newTestCache()
	c.Add(endpoint.New("/presentation/status"), TextPayload("a"), 5*time.Second)
	c.Add(endpoint.New("/song/folders"), TextPayload("b"), 10*time.Minute)

	clock.advance(6 * time.Second)
	c.Purge()

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after purge", c.Len())
	}
	if _, ok := c.GetByURL("/song/folders"); !ok {
		t.Error("unexpired entry should survive purge")
	}
}

func TestAtMostOneEntryPerEndpoint(t *testing.T) {
	c, _ := newTestCache()
	e := endpoint.New("/presentation/status")
	c.Add(e, TextPayload("a"), 0)
	c.Add(e, TextPayload("b"), 0)

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (second add should replace, not append)", c.Len())
	}
}

func TestHitsAndMissesCounted(t *testing.T) {
	c, _ := newTestCache()
	e := endpoint.New("/presentation/status")
	c.Add(e, TextPayload("a"), 0)

	c.GetByURL("/presentation/status")
	c.GetByURL("/does/not/exist")

	hits, misses := c.HitsAndMisses()
	if hits != 1 || misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", hits, misses)
	}
}
