// Package upstream maintains the single persistent websocket connection
// to the OpenSong upstream: it owns the pending-request queue used to
// correlate replies with requests, parses upstream frames, populates the
// response cache, and fans replies out to registered subscribers.
package upstream

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensong/ws-proxy/internal/cache"
	"github.com/opensong/ws-proxy/internal/endpoint"
	"github.com/opensong/ws-proxy/internal/metrics"
	"github.com/opensong/ws-proxy/pkg/apperr"
	"github.com/opensong/ws-proxy/pkg/logger"
)

// subscribeDelay is how long run() waits after dialing before sending
// the presentation-status subscription, giving the upstream time to
// finish its own startup.
const subscribeDelay = 5 * time.Second

// Config holds the settings needed to dial and maintain the upstream
// connection.
type Config struct {
	Host string
	Port int

	// BackoffMin/BackoffMax bound the jittered reconnect delay between
	// run() iterations.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Client is the single persistent websocket connection to the upstream
// presentation application. It is safe for concurrent use: Request is
// called concurrently from many downstream connection goroutines while
// the read loop delivers frames from its own goroutine, so the pending
// queue is guarded by pendingMu (the cache guards itself) and the
// connection field by connMu.
type Client struct {
	cfg Config
	mx  *metrics.Collector

	cache *cache.Cache

	pendingMu sync.Mutex
	pending   *pendingQueue

	textSubs   textSubscriberList
	binarySubs binarySubscriberList

	connMu sync.Mutex
	conn   *websocket.Conn

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Client ready to be started with Run.
func New(cfg Config, mx *metrics.Collector) *Client {
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		mx:      mx,
		cache:   cache.New(),
		pending: newPendingQueue(time.Now),
		stopCh:  make(chan struct{}),
	}
}

// RegisterTextSubscriber registers s to receive future text (XML) replies
// and subscription pushes.
func (c *Client) RegisterTextSubscriber(s TextSubscriber) { c.textSubs.Register(s) }

// UnregisterTextSubscriber removes a previously registered TextSubscriber.
func (c *Client) UnregisterTextSubscriber(s TextSubscriber) { c.textSubs.Unregister(s) }

// RegisterBinarySubscriber registers s to receive future binary replies.
func (c *Client) RegisterBinarySubscriber(s BinarySubscriber) { c.binarySubs.Register(s) }

// UnregisterBinarySubscriber removes a previously registered
// BinarySubscriber.
func (c *Client) UnregisterBinarySubscriber(s BinarySubscriber) { c.binarySubs.Unregister(s) }

// IsConnected reports whether the upstream websocket is currently live.
func (c *Client) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Request services a downstream request for ep: on a cache hit it
// schedules asynchronous delivery of the cached payload to the
// appropriate subscriber set with ep as correlation context and returns
// true; on a miss it enqueues ep as pending and sends its URL upstream,
// returning true. It returns false without side effects if the upstream
// is not currently connected.
func (c *Client) Request(ep endpoint.Endpoint) bool {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return false
	}

	c.cache.Purge()
	c.mx.SetCacheSize(c.cache.Len())

	if payload, ok := c.cache.GetByURL(ep.URL()); ok {
		c.mx.RecordCacheHit()
		go c.deliver(payload, ep.Resource(), ep.Action(), ep.Identifier())
		return true
	}
	c.mx.RecordCacheMiss()

	c.pendingMu.Lock()
	c.pending.Add(ep)
	pendingLen := c.pending.Len()
	c.pendingMu.Unlock()
	c.mx.SetPendingRequests(pendingLen)

	go func() {
		if err := c.sendText(ep.URL()); err != nil {
			logger.Error("upstream: send failed for %s: %v", ep.URL(), err)
		}
	}()
	return true
}

// deliver routes a cache-hit payload to the correct subscriber set.
func (c *Client) deliver(payload cache.Payload, resource, action, identifier string) {
	if payload.IsText {
		for _, sub := range c.textSubs.Snapshot() {
			c.safeOnText(sub, payload.Text, resource, action, identifier)
		}
		return
	}
	for _, sub := range c.binarySubs.Snapshot() {
		c.safeOnBinary(sub, payload.Binary, resource, action, identifier)
	}
}

// safeOnText invokes sub.OnText, swallowing any panic so one failing
// subscriber never denies delivery to the others.
func (c *Client) safeOnText(sub TextSubscriber, payload, resource, action, identifier string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("upstream: text subscriber panicked: %v", r)
		}
	}()
	sub.OnText(payload, resource, action, identifier)
	c.mx.RecordReplyDelivered()
}

// safeOnBinary invokes sub.OnBinary, swallowing any panic so one failing
// subscriber never denies delivery to the others.
func (c *Client) safeOnBinary(sub BinarySubscriber, payload []byte, resource, action, identifier string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("upstream: binary subscriber panicked: %v", r)
		}
	}()
	sub.OnBinary(payload, resource, action, identifier)
	c.mx.RecordReplyDelivered()
}

func (c *Client) sendText(text string) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return apperr.New(apperr.CodeUpstreamSend, "not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Run loops dialing the upstream, subscribing, and reading frames until
// ctx is cancelled or Stop is called. Each disconnect (error or normal
// socket close) is followed by a jittered reconnect delay, unless
// shutdown has been requested.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		if err := c.connectAndRead(ctx); err != nil {
			logger.Error("upstream: disconnected: %v", err)
		}

		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		c.mx.SetUpstreamConnected(false)

		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		delay := backoff(c.cfg.BackoffMin, c.cfg.BackoffMax)
		logger.Info("upstream: reconnecting in %s", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

// connectAndRead performs one Disconnected -> Connecting -> Subscribed ->
// Reading -> Disconnected cycle.
func (c *Client) connectAndRead(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port), Path: "/ws"}
	logger.Info("upstream: connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return apperr.Wrap(apperr.CodeUpstreamDial, "dial upstream", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.mx.SetUpstreamConnected(true)
	logger.Info("upstream: connected")

	defer func() {
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-time.After(subscribeDelay):
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
		if err := c.sendText("/ws/subscribe/presentation"); err != nil {
			logger.Error("upstream: subscribe failed: %v", err)
		} else {
			logger.Info("upstream: subscribed to presentation status")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		default:
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return apperr.Wrap(apperr.CodeUpstreamRead, "read upstream frame", err)
		}

		switch msgType {
		case websocket.TextMessage:
			c.handleText(string(data))
		case websocket.BinaryMessage:
			c.handleBinary(data)
		}
	}
}

// Stop requests shutdown: Run's inner read loop observes it between
// frames (or when a read fails) and exits without reconnecting. The
// live socket, if any, is closed so a blocked read returns immediately.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.connMu.Unlock()
	})
}

type correlationXML struct {
	XMLName    xml.Name
	Resource   string `xml:"resource,attr"`
	Action     string `xml:"action,attr"`
	Identifier string `xml:"identifier,attr"`
}

// handleText classifies and processes a text frame per the upstream
// wire contract: "<?xml..." payloads are parsed and correlated, the
// literal "OK" is ignored, and anything else is logged and dropped.
func (c *Client) handleText(text string) {
	if text == "OK" {
		return
	}
	if !strings.HasPrefix(strings.TrimSpace(text), "<?xml") {
		logger.Debug("upstream: unexpected text frame: %q", text)
		return
	}

	var parsed correlationXML
	if err := xml.Unmarshal([]byte(text), &parsed); err != nil {
		logger.Debug("upstream: %v", apperr.Wrap(apperr.CodeMalformedXML, "parse XML frame", err))
		return
	}

	triple := endpoint.FromParts(parsed.Resource, parsed.Action, parsed.Identifier, "")

	c.pendingMu.Lock()
	matched, ok := c.pending.MatchNewestFirst(triple, func(ep endpoint.Endpoint) bool {
		return ep.ExpectBinary()
	})
	pendingLen := c.pending.Len()
	c.pendingMu.Unlock()
	c.mx.SetPendingRequests(pendingLen)

	correlationEndpoint := triple
	if ok {
		correlationEndpoint = matched
	}

	c.cache.Add(correlationEndpoint, cache.TextPayload(text), 0)
	c.mx.SetCacheSize(c.cache.Len())

	for _, sub := range c.textSubs.Snapshot() {
		c.safeOnText(sub, text, parsed.Resource, parsed.Action, parsed.Identifier)
	}
}

// handleBinary processes a binary (image) frame: correlates against the
// newest binary-expecting pending entry, caches, and delivers to binary
// subscribers.
func (c *Client) handleBinary(data []byte) {
	c.pendingMu.Lock()
	ep, found := c.pending.MatchNewestFirstBinary()
	pendingLen := c.pending.Len()
	c.pendingMu.Unlock()
	c.mx.SetPendingRequests(pendingLen)

	if !found {
		logger.Debug("upstream: binary frame with no pending binary request")
		return
	}

	c.cache.Add(ep, cache.BinaryPayload(data), 0)
	c.mx.SetCacheSize(c.cache.Len())

	for _, sub := range c.binarySubs.Snapshot() {
		c.safeOnBinary(sub, data, ep.Resource(), ep.Action(), ep.Identifier())
	}
}
