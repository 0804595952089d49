package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mdcslabs/conduit/internal/auth"
	"github.com/mdcslabs/conduit/internal/cancel"
	"github.com/mdcslabs/conduit/internal/pipeline"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(nil, cancel.NewRegistry(cancel.DefaultMaxSessions), nil, nil)
}

func TestEmitToUnknownSessionIsSilentNoOp(t *testing.T) {
	s := newTestServer(t)
	if err := s.Emit(nil, "no-such-session", pipeline.Frame{Type: "chunk"}); err != nil {
		t.Fatalf("Emit(unknown session) error = %v, want nil (silent no-op)", err)
	}
}

func TestHandleConnectionsRESTUnknownProviderIs404(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(http.HandlerFunc(s.handleConnectionsREST))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/connections/bogus/test", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandleConnectionsRESTRejectsNonPost(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(http.HandlerFunc(s.handleConnectionsREST))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/connections/ollama/test")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestHandleConnectionsRESTRequiresBearerWhenEnabled(t *testing.T) {
	s := newTestServer(t)
	s.Auth = auth.NewBearer("s3cr3t")
	srv := httptest.NewServer(http.HandlerFunc(s.handleConnectionsREST))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/connections/ollama/test", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestHandleConnectionsRESTListModelsAgainstFakeOllama(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
	}))
	defer upstream.Close()

	s := newTestServer(t)
	srv := httptest.NewServer(http.HandlerFunc(s.handleConnectionsREST))
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"base_url": upstream.URL, "model": "llama3"})
	resp, err := http.Post(srv.URL+"/api/connections/ollama/models", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var decoded struct {
		Models []struct {
			ID string `json:"id"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(decoded.Models) != 1 || decoded.Models[0].ID != "llama3" {
		t.Fatalf("models = %+v, want one entry for llama3", decoded.Models)
	}
}

func TestWebSocketSessionStartAndPingPong(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial error = %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage (session_start) error = %v", err)
	}
	var start wireFrame
	if err := json.Unmarshal(msg, &start); err != nil {
		t.Fatalf("unmarshal session_start: %v", err)
	}
	if start.Type != "session_start" {
		t.Fatalf("first frame type = %q, want session_start", start.Type)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("WriteMessage(ping) error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage (pong) error = %v", err)
	}
	var pong wireFrame
	if err := json.Unmarshal(msg, &pong); err != nil {
		t.Fatalf("unmarshal pong: %v", err)
	}
	if pong.Type != "pong" {
		t.Fatalf("second frame type = %q, want pong", pong.Type)
	}
}

func TestWebSocketUpgradeRequiresBearerWhenEnabled(t *testing.T) {
	s := newTestServer(t)
	s.Auth = auth.NewBearer("s3cr3t")
	mux := http.NewServeMux()
	s.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Dial succeeded without a bearer token, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		status := -1
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("handshake status = %d, want %d", status, http.StatusUnauthorized)
	}
}

func TestWebSocketSendsErrorFrameOnMalformedInboundFrame(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial error = %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("ReadMessage (session_start) error = %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","data":{"provider":"ollama"}}`)); err != nil {
		t.Fatalf("WriteMessage(chat missing message) error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage (error) error = %v", err)
	}
	var frame wireFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("unmarshal error frame: %v", err)
	}
	if frame.Type != "error" {
		t.Fatalf("frame type = %q, want error", frame.Type)
	}
}
