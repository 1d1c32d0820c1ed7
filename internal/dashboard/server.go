// Package dashboard exposes the terminal's sync state over HTTP: a
// WebSocket stream of status snapshots for live monitoring, a JSON
// status endpoint for the CLI, and the Prometheus scrape endpoint.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanesync/lanesync/internal/engine"
)

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:7355). The dashboard is
	// meant for the local terminal, not the store network.
	Addr string

	// Registry backing the /metrics endpoint; nil disables it.
	Registry *prometheus.Registry

	// Counts supplies per-collection document counts for the status
	// payload; nil omits them.
	Counts func(ctx context.Context) (map[string]int, error)

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// statusPayload is the JSON shape served on /status and streamed over
// the WebSocket.
type statusPayload struct {
	engine.Snapshot
	Collections map[string]int `json:"collections,omitempty"`
	At          time.Time      `json:"at"`
}

// Server streams engine status to connected WebSocket clients and
// serves the scrape and status endpoints.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	status   *engine.Status
	counts   func(ctx context.Context) (map[string]int, error)
	registry *prometheus.Registry

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates the dashboard server over an engine's status.
func NewServer(status *engine.Status, config Config) *Server {
	if config.Addr == "" {
		config.Addr = "127.0.0.1:7355"
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:     config.Addr,
		status:   status,
		counts:   config.Counts,
		registry: config.Registry,
		clients:  make(map[*websocket.Conn]bool),
		ctx:      ctx,
		cancel:   cancel,
		logger:   config.Logger,
	}
}

// Start begins listening and launches the broadcast loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every client connection and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// payload assembles the current status payload.
func (s *Server) payload(ctx context.Context) statusPayload {
	p := statusPayload{Snapshot: s.status.Snapshot(), At: time.Now()}
	if s.counts != nil {
		if counts, err := s.counts(ctx); err == nil {
			p.Collections = counts
		}
	}
	return p
}

// broadcastLoop forwards every status change to connected clients.
// Slow clients receive the latest snapshot rather than a backlog; the
// subscription collapses intermediate states.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	updates, unsubscribe := s.status.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-s.ctx.Done():
			return

		case _, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(s.payload(s.ctx))
			if err != nil {
				s.logger.Printf("Failed to marshal status: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades the connection and sends the current state
// immediately so clients never start blank.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	if data, err := json.Marshal(s.payload(r.Context())); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}

	go s.readLoop(conn)
}

// readLoop drains client frames until disconnect. Client messages are
// not processed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleStatus serves the current status payload as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.payload(r.Context()))
}

// handleHealth reports liveness and the connected client count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}
