// Package downstream implements one DownstreamConnection per accepted
// client session: ACL enforcement, request dispatch through the
// upstream client, subscription commands, and reply filtering based on
// subscription state and the connection's last-requested endpoint.
package downstream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensong/ws-proxy/internal/acl"
	"github.com/opensong/ws-proxy/internal/endpoint"
	"github.com/opensong/ws-proxy/internal/metrics"
	"github.com/opensong/ws-proxy/internal/upstream"
	"github.com/opensong/ws-proxy/pkg/apperr"
	"github.com/opensong/ws-proxy/pkg/logger"
)

// NotFoundMessage is sent verbatim for disallowed endpoints and for
// upstream requests that could not be initiated (upstream
// disconnected).
const NotFoundMessage = "The requested resource could not be found"

const okMessage = "OK"

// Connection is one accepted downstream session. It registers itself
// as both a text and binary subscriber with the shared UpstreamClient
// and deregisters on close.
type Connection struct {
	conn   Conn
	client *upstream.Client
	mx     *metrics.Collector

	mu            sync.Mutex
	subscribed    bool
	lastRequested *endpoint.Endpoint

	connectedAt   time.Time
	requestsServed int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Connection bound to conn, ready to Run.
func New(conn Conn, client *upstream.Client, mx *metrics.Collector) *Connection {
	return &Connection{
		conn:   conn,
		client: client,
		mx:     mx,
		stopCh: make(chan struct{}),
	}
}

// Run registers the connection's subscriber callbacks with the
// upstream client, then reads text frames until the socket closes or
// Stop is called. Each frame is dispatched to processRequest on its
// own goroutine so a slow request never blocks reading the next.
func (c *Connection) Run() {
	c.connectedAt = time.Now()
	c.client.RegisterTextSubscriber(c)
	c.client.RegisterBinarySubscriber(c)
	c.mx.IncrementDownstream()

	defer func() {
		c.client.UnregisterTextSubscriber(c)
		c.client.UnregisterBinarySubscriber(c)
		c.mx.DecrementDownstream()
		_ = c.conn.Close()
		logger.Info("downstream: client closed: %s subscribed=%t requests=%d duration=%s",
			c.conn.RemoteAddr(), c.isSubscribed(), atomic.LoadInt64(&c.requestsServed), time.Since(c.connectedAt))
	}()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		text, err := c.conn.ReadText()
		if err != nil {
			return
		}
		go c.processRequest(text)
	}
}

// Stop requests shutdown: the read loop observes it between frames,
// and the live socket is closed so a blocked read returns immediately.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		_ = c.conn.Close()
	})
}

// processRequest implements spec.md §4.4's process_request: ACL check,
// /ws subscription commands, or a forwarded request through the
// upstream client.
func (c *Connection) processRequest(url string) {
	atomic.AddInt64(&c.requestsServed, 1)
	ep := endpoint.New(url)

	if !acl.Allows(ep) {
		logger.Debug("downstream: %v", apperr.New(apperr.CodeDisallowedEndpoint, ep.URL()))
		c.reply(NotFoundMessage)
		return
	}

	if ep.Resource() == "ws" {
		c.handleWSCommand(ep)
		return
	}

	if c.client.Request(ep) {
		c.setLastRequested(&ep)
		return
	}
	c.reply(NotFoundMessage)
}

// handleWSCommand implements the two supported /ws/* commands.
// Anything else matching the /ws/[un]subscribe/* ACL pattern but not
// exactly "presentation" is accepted by the ACL yet unsupported here,
// per spec.md §4.4, and is silently ignored (no reply).
func (c *Connection) handleWSCommand(ep endpoint.Endpoint) {
	switch {
	case ep.Action() == "subscribe" && ep.Identifier() == "presentation":
		c.setSubscribed(true)
		c.reply(okMessage)
	case ep.Action() == "unsubscribe" && ep.Identifier() == "presentation":
		c.setSubscribed(false)
		c.reply(okMessage)
	default:
		logger.Debug("downstream: unsupported ws command %s", ep.URL())
	}
}

// OnText implements upstream.TextSubscriber. It applies spec.md §4.4's
// reply filtering rule: unconditional forward for a presentation/status
// push while subscribed, else forward only if this connection has a
// matching, non-binary-expecting outstanding request.
func (c *Connection) OnText(payload, resource, action, identifier string) {
	if c.isSubscribed() && resource == "presentation" && action == "status" {
		c.reply(payload)
		return
	}

	last := c.getLastRequested()
	if last == nil {
		c.mx.RecordReplyDropped()
		return
	}
	if last.ExpectBinary() || !last.MatchesTriple(resource, action, identifier) {
		c.mx.RecordReplyDropped()
		return
	}
	c.reply(payload)
	c.clearLastRequested()
}

// OnBinary implements upstream.BinarySubscriber: forward iff this
// connection's outstanding request expects a binary reply and matches.
func (c *Connection) OnBinary(payload []byte, resource, action, identifier string) {
	last := c.getLastRequested()
	if last == nil || !last.ExpectBinary() || !last.MatchesTriple(resource, action, identifier) {
		c.mx.RecordReplyDropped()
		return
	}
	c.replyBinary(payload)
	c.clearLastRequested()
}

func (c *Connection) reply(text string) {
	if err := c.conn.WriteText(text); err != nil {
		logger.Debug("downstream: %v", apperr.Wrap(apperr.CodeDownstreamWrite, c.conn.RemoteAddr().String(), err))
	}
}

func (c *Connection) replyBinary(payload []byte) {
	if err := c.conn.WriteBinary(payload); err != nil {
		logger.Debug("downstream: %v", apperr.Wrap(apperr.CodeDownstreamWrite, c.conn.RemoteAddr().String(), err))
	}
}

func (c *Connection) setSubscribed(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = v
}

func (c *Connection) isSubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

func (c *Connection) setLastRequested(ep *endpoint.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRequested = ep
}

func (c *Connection) getLastRequested() *endpoint.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRequested
}

func (c *Connection) clearLastRequested() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRequested = nil
}
