// Package gateway implements the Connection Manager (C3): WebSocket
// session ownership, inbound frame dispatch (chat/cancel/ping), outbound
// frame delivery, and the two REST endpoints that enter the core (§4.3,
// §6).
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mdcslabs/conduit/internal/auth"
	"github.com/mdcslabs/conduit/internal/cancel"
	"github.com/mdcslabs/conduit/internal/pipeline"
	"github.com/mdcslabs/conduit/internal/providers"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsSendBuffer      = 64
)

// Server owns every live WebSocket session (the session-id -> socket map
// §4.3 names) and serves the two REST endpoints.
type Server struct {
	Orchestrator *pipeline.Orchestrator
	Sessions     *cancel.Registry
	Auth         *auth.Bearer
	Logger       *slog.Logger
	bridge       *providerBridge

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*wsConn
}

// NewServer wires an Orchestrator (already built from internal/store and
// internal/pipeline) into a ready-to-serve gateway.
func NewServer(orch *pipeline.Orchestrator, sessions *cancel.Registry, bearer *auth.Bearer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Orchestrator: orch,
		Sessions:     sessions,
		Auth:         bearer,
		Logger:       logger,
		bridge:       newProviderBridge(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*wsConn),
	}
}

// Routes registers the chat WebSocket endpoint and the two REST endpoints
// on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/chat", s.handleWebSocket)
	mux.HandleFunc("/api/connections/", s.handleConnectionsREST)
}

// Emit implements pipeline.Emitter by writing {type, data} to the named
// session's socket; a dead or unknown socket is a silent no-op (§4.3:
// "on write failure, silently disconnects that session").
func (s *Server) Emit(ctx context.Context, sessionID string, frame pipeline.Frame) error {
	s.mu.Lock()
	conn, ok := s.conns[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.send(frame.Type, frame.Data)
}

func (s *Server) register(conn *wsConn) {
	s.mu.Lock()
	s.conns[conn.id] = conn
	s.mu.Unlock()
}

func (s *Server) unregister(sessionID string) {
	s.mu.Lock()
	delete(s.conns, sessionID)
	s.mu.Unlock()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.Auth != nil && s.Auth.Enabled() {
		if !s.Auth.Authenticate(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancelFn := context.WithCancel(r.Context())
	conn := newWSConn(s, raw, ctx, cancelFn)
	s.register(conn)
	defer s.unregister(conn.id)

	if err := conn.send("session_start", map[string]any{"session_id": conn.id}); err != nil {
		return
	}
	conn.run()
}

func (s *Server) handleConnectionsREST(w http.ResponseWriter, r *http.Request) {
	if s.Auth != nil && s.Auth.Enabled() {
		if !s.Auth.Authenticate(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Path shape: /api/connections/<provider>/test or .../models
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/connections/"), "/"), "/")
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	providerName, op := parts[0], parts[1]

	client, err := s.bridge.clientFor(providerName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var settings providers.Settings
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&settings)
	}

	switch op {
	case "test":
		if err := client.TestConnection(r.Context(), settings); err != nil {
			writeJSONError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	case "models":
		models, err := client.ListModels(r.Context(), settings)
		if err != nil {
			writeJSONError(w, err)
			return
		}
		writeJSON(w, map[string]any{"models": models})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch err.(type) {
	case *providers.AuthenticationError:
		status = http.StatusUnauthorized
	case *providers.ConnectionError:
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
}
