// Package server implements the ProxyServer: a single listening port
// multiplexing websocket upgrades (persistent DownstreamConnection
// sessions) and one-shot HTTP GET requests, plus the operational
// /healthz, /status, and /metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensong/ws-proxy/internal/acl"
	"github.com/opensong/ws-proxy/internal/cache"
	"github.com/opensong/ws-proxy/internal/downstream"
	"github.com/opensong/ws-proxy/internal/endpoint"
	"github.com/opensong/ws-proxy/internal/metrics"
	"github.com/opensong/ws-proxy/internal/ratelimit"
	"github.com/opensong/ws-proxy/internal/upstream"
	"github.com/opensong/ws-proxy/pkg/apperr"
	"github.com/opensong/ws-proxy/pkg/logger"
)

// httpReplyTimeout bounds how long a one-shot HTTP request waits on the
// response queue for its matching reply. spec.md defines only the
// closed-queue 500 case; this ambient timeout prevents a request whose
// reply is lost (e.g. stolen by a concurrent request, spec.md §9's
// documented queue limitation) from hanging forever.
const httpReplyTimeout = 30 * time.Second

// queueEntry is one (resource, action, identifier, payload) tuple
// pushed by every text/binary delivery from the UpstreamClient, per
// spec.md §4.5's queue semantics.
type queueEntry struct {
	resource, action, identifier string
	payload                      cache.Payload
}

// Config holds ProxyServer settings.
type Config struct {
	Host                string
	Port                int
	MaxConnectionsPerIP int
	Namespace           string
}

// Server is the dual-mode websocket/HTTP listener.
type Server struct {
	cfg    Config
	client *upstream.Client
	mx     *metrics.Collector
	pc     *metrics.PrometheusCollectors
	rl     *ratelimit.Limiter

	upgrader websocket.Upgrader

	queueMu sync.Mutex
	queue   chan queueEntry
	closed  bool

	connMu sync.Mutex
	conns  map[*downstream.Connection]struct{}

	httpSrv *http.Server
}

// New builds a Server wired to client, registering queue-feeding
// subscribers with it immediately so no upstream reply is missed once
// the upstream connects.
func New(cfg Config, client *upstream.Client, mx *metrics.Collector, rl *ratelimit.Limiter) *Server {
	if cfg.MaxConnectionsPerIP <= 0 {
		cfg.MaxConnectionsPerIP = 50
	}
	s := &Server{
		cfg:    cfg,
		client: client,
		mx:     mx,
		pc:     metrics.InitPrometheus(cfg.Namespace),
		rl:     rl,
		queue:  make(chan queueEntry, 256),
		conns:  make(map[*downstream.Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	client.RegisterTextSubscriber(upstream.TextSubscriberFunc(s.enqueueText))
	client.RegisterBinarySubscriber(upstream.BinarySubscriberFunc(s.enqueueBinary))
	return s
}

func (s *Server) enqueueText(payload, resource, action, identifier string) {
	s.pushQueue(queueEntry{resource: resource, action: action, identifier: identifier, payload: cache.TextPayload(payload)})
}

func (s *Server) enqueueBinary(payload []byte, resource, action, identifier string) {
	s.pushQueue(queueEntry{resource: resource, action: action, identifier: identifier, payload: cache.BinaryPayload(payload)})
}

func (s *Server) pushQueue(e queueEntry) {
	select {
	case s.queue <- e:
	default:
		logger.Warn("server: response queue full, dropping %s/%s/%s", e.resource, e.action, e.identifier)
	}
}

// ListenAndServe starts the HTTP/websocket listener and blocks until ctx
// is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/", s.handleRoot)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	logger.Info("server: listening on %s", addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop cascades shutdown per spec.md §5: stop every DownstreamConnection,
// close the listener, poison the response queue.
func (s *Server) Stop() {
	s.connMu.Lock()
	for c := range s.conns {
		c.Stop()
	}
	s.connMu.Unlock()

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(ctx)
	}

	s.queueMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.queueMu.Unlock()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.mx.Snapshot())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.pc.Sync(s.mx)
	promhttp.Handler().ServeHTTP(w, r)
}

// handleRoot implements spec.md §4.5's pre-upgrade inspection: absent
// Upgrade header means a one-shot HTTP request, otherwise the websocket
// upgrade proceeds.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !s.rl.AllowConnection(remoteAddr(r)) {
		logger.Debug("server: %v", apperr.New(apperr.CodeRateLimited, remoteAddr(r).String()))
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	if r.Header.Get("Upgrade") == "" {
		defer s.rl.ReleaseConnection(remoteAddr(r))
		s.handleHTTPOneShot(w, r)
		return
	}

	s.handleWebsocketUpgrade(w, r)
}

func (s *Server) handleWebsocketUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.rl.ReleaseConnection(remoteAddr(r))
		logger.Debug("server: upgrade failed: %v", err)
		return
	}

	dc := downstream.New(newWSConn(conn), s.client, s.mx)

	s.connMu.Lock()
	s.conns[dc] = struct{}{}
	s.connMu.Unlock()

	go func() {
		defer func() {
			s.connMu.Lock()
			delete(s.conns, dc)
			s.connMu.Unlock()
			s.rl.ReleaseConnection(remoteAddr(r))
		}()
		dc.Run()
	}()
}

func (s *Server) handleHTTPOneShot(w http.ResponseWriter, r *http.Request) {
	ep := endpoint.New(r.URL.Path)

	if ep.Resource() == "ws" || !acl.Allows(ep) || !s.client.IsConnected() {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}

	if !s.client.Request(ep) {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}

	deadline := time.NewTimer(httpReplyTimeout)
	defer deadline.Stop()

	for {
		select {
		case entry, ok := <-s.queue:
			if !ok {
				logger.Debug("server: %v", apperr.New(apperr.CodeResponseQueueClosed, ep.URL()))
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if !ep.MatchesTriple(entry.resource, entry.action, entry.identifier) {
				continue
			}
			writePayload(w, entry.payload)
			return
		case <-deadline.C:
			w.WriteHeader(http.StatusInternalServerError)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writePayload(w http.ResponseWriter, payload cache.Payload) {
	if payload.IsText {
		if strings.HasPrefix(payload.Text, "<?xml") {
			w.Header().Set("Content-Type", "text/xml")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(payload.Text))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload.Binary)
}

// stringAddr lets remoteAddr satisfy ratelimit.Limiter's net.Addr
// parameter using only the string form http.Request exposes.
type stringAddr string

func (a stringAddr) Network() string { return "tcp" }
func (a stringAddr) String() string  { return string(a) }

func remoteAddr(r *http.Request) net.Addr {
	return stringAddr(r.RemoteAddr)
}
