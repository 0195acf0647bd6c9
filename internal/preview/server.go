// Package preview serves rendered SVG pages over HTTP and tells connected
// browsers to reload when the document is rendered again.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/typster/internal/logging"
	"github.com/conneroisu/typster/internal/watcher"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	shutdownTimeout = 5 * time.Second
)

// RenderFunc renders the previewed document to one SVG per page.
type RenderFunc func(ctx context.Context) ([]string, error)

// Config configures a Server.
type Config struct {
	Host  string
	Port  int
	Title string
	// OriginPatterns are extra origins allowed to open the reload socket.
	OriginPatterns []string
}

// Snapshot is the outcome of the latest render. Pages hold the last
// successful render, so a broken edit keeps the previous pages on screen.
type Snapshot struct {
	Version    int       `json:"version"`
	PageCount  int       `json:"page_count"`
	Error      string    `json:"error,omitempty"`
	RenderedAt time.Time `json:"rendered_at"`
	Pages      []string  `json:"-"`
}

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Version   int       `json:"version"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type client struct {
	send chan []byte
}

// Server serves the preview
type Server struct {
	config Config
	render RenderFunc
	logger logging.Logger
	now    func() time.Time

	snapMu   sync.RWMutex
	snapshot Snapshot

	// renderMu serializes renders so versions are assigned in order.
	renderMu sync.Mutex

	clientsMu sync.Mutex
	clients   map[*client]struct{}
}

// New creates a preview server. Call Refresh before serving to show the
// first render.
func New(cfg Config, render RenderFunc, logger logging.Logger) *Server {
	if cfg.Title == "" {
		cfg.Title = "typster preview"
	}
	return &Server{
		config:  cfg,
		render:  render,
		logger:  logging.OrNop(logger).WithComponent("preview"),
		now:     time.Now,
		clients: make(map[*client]struct{}),
	}
}

// Snapshot returns the latest render outcome.
func (s *Server) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapshot
}

// Refresh renders the document and notifies every connected browser. The
// render error, if any, is returned and also shown on the page.
func (s *Server) Refresh(ctx context.Context) error {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	op := logging.StartOperation(s.logger, "preview_render")
	pages, err := s.render(ctx)

	s.snapMu.Lock()
	snap := s.snapshot
	snap.Version++
	snap.RenderedAt = s.now()
	if err != nil {
		snap.Error = err.Error()
	} else {
		snap.Error = ""
		snap.Pages = pages
		snap.PageCount = len(pages)
	}
	s.snapshot = snap
	s.snapMu.Unlock()

	msg := UpdateMessage{Type: "reload", Version: snap.Version, Timestamp: snap.RenderedAt}
	if err != nil {
		op.EndWithError(ctx, err, "version", snap.Version)
		msg.Type = "error"
		msg.Content = snap.Error
	} else {
		op.End(ctx, "version", snap.Version, "pages", snap.PageCount)
	}
	s.broadcast(ctx, msg)
	return err
}

// Watch re-renders whenever fw reports a batch of changes.
func (s *Server) Watch(fw *watcher.FileWatcher) {
	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		s.logger.Info(ctx, "Sources changed, re-rendering", "files", len(events))
		if err := s.Refresh(ctx); err != nil {
			s.logger.Warn(ctx, err, "Preview render failed")
		}
		return nil
	})
}

// Handler returns the preview routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /page/{n}", s.handlePage)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	var h http.Handler = mux
	h = securityHeaders(s.logger)(h)
	h = requestLogger(s.logger)(h)
	return h
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Preview server listening", "addr", "http://"+httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("preview server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	pageHandler(s.config.Title, s.Snapshot()).ServeHTTP(w, r)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	snap := s.Snapshot()
	if err != nil || n < 1 || n > len(snap.Pages) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(snap.Pages[n-1]))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "version": s.Snapshot().Version})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.Snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.config.OriginPatterns,
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade error")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c := &client{send: make(chan []byte, 16)}
	s.register(c)
	defer s.unregister(c)

	// The browser never sends anything; CloseRead handles control frames.
	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				s.logger.Debug(ctx, "WebSocket write failed", "error", err.Error())
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) register(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) unregister(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}

// ClientCount returns the number of connected browsers.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *Server) broadcast(ctx context.Context, msg UpdateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error(ctx, err, "Encoding update message")
		return
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; it reloads on the next message anyway.
		}
	}
}
