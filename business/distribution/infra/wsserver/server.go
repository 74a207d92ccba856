// Package wsserver serves the price distribution registry over WebSocket.
//
// Clients connect to /ws, optionally with ?pairs=ETH/USDT,BTC/USDT, and may
// send {"action":"subscribe","pairs":["ETH/USDT"]} at any time. Every frame
// from the client, and every answered ping, counts as activity.
package wsserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sugawarayuuta/sonnet"

	"github.com/fd1az/triarb/business/distribution/app"
	md "github.com/fd1az/triarb/business/marketdata/domain"
	"github.com/fd1az/triarb/internal/logger"
)

const (
	writeTimeout   = 5 * time.Second
	maxMessageSize = 4096
)

// Config tunes the server.
type Config struct {
	Addr         string
	PingInterval time.Duration
	// OriginPatterns are accepted cross-origin hosts; empty allows only same-origin.
	OriginPatterns []string
}

// Message types sent to clients.
const (
	TypeBook       = "book"
	TypeSubscribed = "subscribed"
	TypeError      = "error"
)

// Envelope is every frame the server sends.
type Envelope struct {
	Type  string      `json:"type"`
	Book  *app.Update `json:"book,omitempty"`
	Pairs []md.Pair   `json:"pairs,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Request is a client frame.
type Request struct {
	Action string   `json:"action"` // subscribe | unsubscribe
	Pairs  []string `json:"pairs"`
}

// Server bridges a Registry to WebSocket clients.
type Server struct {
	cfg      Config
	registry *app.Registry
	log      logger.LoggerInterface

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New creates a Server. Call Start to listen, or mount Handler yourself.
func New(cfg Config, registry *app.Registry, log logger.LoggerInterface) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	return &Server{cfg: cfg, registry: registry, log: log}
}

// Handler returns the HTTP handler serving /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	srv := s.srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(ctx, "price distribution server stopped", "error", err)
		}
	}()
	s.log.Info(ctx, "price distribution listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// Close shuts the listener down and waits briefly for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	pairs, err := parsePairs(strings.Split(r.URL.Query().Get("pairs"), ","))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageSize)

	l := s.registry.Add(pairs...)
	defer s.registry.Remove(l.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.log.Debug(ctx, "listener connected", "listener", l.ID, "remote", r.RemoteAddr)
	if len(pairs) > 0 {
		s.send(ctx, conn, Envelope{Type: TypeSubscribed, Pairs: pairs})
	}

	go s.readLoop(ctx, cancel, conn, l.ID)
	go s.pingLoop(ctx, conn, l.ID)

	status, reason := s.writeLoop(ctx, conn, l)
	conn.Close(status, reason)
	s.log.Debug(ctx, "listener disconnected", "listener", l.ID, "reason", reason, "missed", l.Missed())
}

// writeLoop forwards updates until the listener is removed or the peer goes away.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, l *app.Listener) (websocket.StatusCode, string) {
	for {
		select {
		case <-ctx.Done():
			return websocket.StatusGoingAway, "closed"
		case u, ok := <-l.C():
			if !ok {
				return websocket.StatusPolicyViolation, "idle"
			}
			if err := s.send(ctx, conn, Envelope{Type: TypeBook, Book: &u}); err != nil {
				return websocket.StatusInternalError, "write failed"
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, id string) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		s.registry.Touch(id)

		var req Request
		if err := sonnet.Unmarshal(data, &req); err != nil {
			s.send(ctx, conn, Envelope{Type: TypeError, Error: "malformed request"})
			continue
		}
		pairs, err := parsePairs(req.Pairs)
		if err != nil {
			s.send(ctx, conn, Envelope{Type: TypeError, Error: err.Error()})
			continue
		}

		switch req.Action {
		case "subscribe":
			s.registry.Subscribe(id, pairs...)
			s.send(ctx, conn, Envelope{Type: TypeSubscribed, Pairs: pairs})
		case "unsubscribe":
			s.registry.Unsubscribe(id, pairs...)
		case "ping", "":
		default:
			s.send(ctx, conn, Envelope{Type: TypeError, Error: "unknown action " + req.Action})
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, id string) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, s.cfg.PingInterval)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				s.registry.Touch(id)
			}
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	data, err := sonnet.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func parsePairs(raw []string) ([]md.Pair, error) {
	var out []md.Pair
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		p, err := md.ParsePair(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
