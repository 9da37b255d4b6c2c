package downstream

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opensong/ws-proxy/internal/endpoint"
	"github.com/opensong/ws-proxy/internal/metrics"
	"github.com/opensong/ws-proxy/internal/upstream"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// fakeConn is an in-memory Conn: writes append to sent, ReadText drains
// a pre-loaded queue of frames and then blocks until closed.
type fakeConn struct {
	mu     sync.Mutex
	sent   []string
	binary [][]byte
	closed bool

	inbox chan string
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan string, 8)}
}

func (f *fakeConn) ReadText() (string, error) {
	text, ok := <-f.inbox
	if !ok {
		return "", errors.New("closed")
	}
	return text, nil
}

func (f *fakeConn) WriteText(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeConn) WriteBinary(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binary = append(f.binary, b)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbox)
	}
	return nil
}

func (f *fakeConn) RemoteAddr() net.Addr { return fakeAddr("127.0.0.1:1234") }

func (f *fakeConn) snapshotSent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestConnection() (*Connection, *fakeConn) {
	fc := newFakeConn()
	client := upstream.New(upstream.Config{Host: "opensong", Port: 8082}, metrics.NewCollector())
	conn := New(fc, client, metrics.NewCollector())
	return conn, fc
}

func waitForSent(t *testing.T, fc *fakeConn, n int) []string {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got := fc.snapshotSent(); len(got) >= n {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent frames, got %v", n, fc.snapshotSent())
	return nil
}

func TestDisallowedEndpointRepliesNotFound(t *testing.T) {
	conn, fc := newTestConnection()
	conn.processRequest("/admin/shutdown")
	got := waitForSent(t, fc, 1)
	if got[0] != NotFoundMessage {
		t.Errorf("expected not-found message, got %q", got[0])
	}
}

func TestSubscribeRepliesOK(t *testing.T) {
	conn, fc := newTestConnection()
	conn.processRequest("/ws/subscribe/presentation")
	got := waitForSent(t, fc, 1)
	if got[0] != "OK" {
		t.Errorf("expected OK, got %q", got[0])
	}
	if !conn.isSubscribed() {
		t.Error("expected subscribed flag to be set")
	}
}

func TestUnsubscribeClearsFlag(t *testing.T) {
	conn, fc := newTestConnection()
	conn.setSubscribed(true)
	conn.processRequest("/ws/unsubscribe/presentation")
	waitForSent(t, fc, 1)
	if conn.isSubscribed() {
		t.Error("expected subscribed flag to be cleared")
	}
}

func TestRequestWhileDisconnectedRepliesNotFound(t *testing.T) {
	conn, fc := newTestConnection()
	conn.processRequest("/presentation/status")
	got := waitForSent(t, fc, 1)
	if got[0] != NotFoundMessage {
		t.Errorf("expected not-found message when upstream disconnected, got %q", got[0])
	}
}

func TestSubscribedReceivesStatusPushUnconditionally(t *testing.T) {
	conn, fc := newFakeConnTestPair(t)
	conn.setSubscribed(true)
	conn.OnText("<?xml?><x/>", "presentation", "status", "")
	got := waitForSent(t, fc, 1)
	if got[0] != "<?xml?><x/>" {
		t.Errorf("unexpected payload: %q", got[0])
	}
}

func TestUnsubscribedWithNoOutstandingRequestDropsStatusPush(t *testing.T) {
	conn, fc := newFakeConnTestPair(t)
	conn.OnText("<?xml?><x/>", "presentation", "status", "")
	if got := fc.snapshotSent(); len(got) != 0 {
		t.Errorf("expected no delivery, got %v", got)
	}
}

func TestMatchingTextReplyForwardsAndClearsLastRequested(t *testing.T) {
	conn, fc := newFakeConnTestPair(t)
	ep := endpoint.New("/song/folders")
	conn.setLastRequested(&ep)
	conn.OnText("<?xml?><folders/>", "song", "folders", "")
	waitForSent(t, fc, 1)
	if conn.getLastRequested() != nil {
		t.Error("expected lastRequested to be cleared after matching delivery")
	}
}

func TestNonMatchingTextReplyIsDropped(t *testing.T) {
	conn, fc := newFakeConnTestPair(t)
	ep := endpoint.New("/song/folders")
	conn.setLastRequested(&ep)
	conn.OnText("<?xml?><other/>", "set", "list", "")
	if got := fc.snapshotSent(); len(got) != 0 {
		t.Errorf("expected no delivery for mismatched reply, got %v", got)
	}
	if conn.getLastRequested() == nil {
		t.Error("lastRequested should remain set when the reply doesn't match")
	}
}

func TestBinaryExpectingEndpointIgnoresTextReply(t *testing.T) {
	conn, fc := newFakeConnTestPair(t)
	ep := endpoint.New("/presentation/slide/7/preview")
	conn.setLastRequested(&ep)
	conn.OnText("<?xml?><x/>", "presentation", "slide", "7")
	if got := fc.snapshotSent(); len(got) != 0 {
		t.Errorf("a binary-expecting last-requested endpoint must not accept a text reply, got %v", got)
	}
}

func TestMatchingBinaryReplyForwards(t *testing.T) {
	conn, fc := newFakeConnTestPair(t)
	ep := endpoint.New("/presentation/slide/7/preview")
	conn.setLastRequested(&ep)
	conn.OnBinary([]byte{0xFF, 0xD8}, "presentation", "slide", "7")
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		fc.mu.Lock()
		n := len(fc.binary)
		fc.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.binary) != 1 {
		t.Fatalf("expected 1 binary delivery, got %d", len(fc.binary))
	}
	if conn.getLastRequested() != nil {
		t.Error("expected lastRequested cleared after binary delivery")
	}
}

func newFakeConnTestPair(t *testing.T) (*Connection, *fakeConn) {
	t.Helper()
	conn, fc := newTestConnection()
	return conn, fc
}
