package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mdcslabs/conduit/internal/pipeline"
)

const (
	wsPongWait  = 45 * time.Second
	wsWriteWait = 10 * time.Second

	// idempotencyCap bounds the per-connection recently-seen set before
	// the oldest entries are FIFO-evicted (SPEC_FULL.md §12).
	idempotencyCap = 256
)

// wsConn is one socket's session: the unit the Connection Manager
// registers under a session-id, grounded on the teacher's wsSession
// (read/write-loop split, buffered outbound channel) but simplified to
// this spec's three inbound types and no RPC request/response framing.
type wsConn struct {
	server *Server
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	outbox chan wireFrame

	id string

	idemMu   sync.Mutex
	idemSeen map[string]struct{}
	idemFIFO []string
}

type wireFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func newWSConn(server *Server, conn *websocket.Conn, ctx context.Context, cancel context.CancelFunc) *wsConn {
	return &wsConn{
		server:   server,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		outbox:   make(chan wireFrame, wsSendBuffer),
		id:       uuid.NewString(),
		idemSeen: make(map[string]struct{}),
	}
}

func (c *wsConn) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *wsConn) close() {
	c.cancel()
	close(c.outbox)
	_ = c.conn.Close()
}

func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.handleMessage(data)
	}
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame, ok := <-c.outbox:
			if !ok {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// send enqueues an outbound {type, data} frame; a full buffer means a
// slow/dead peer, so the send is dropped rather than blocking the
// orchestrator (§4.3: a write failure silently disconnects the session,
// which the closed writeLoop will surface on the next attempt).
func (c *wsConn) send(frameType string, data any) error {
	select {
	case c.outbox <- wireFrame{Type: frameType, Data: data}:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		return nil
	}
}

func (c *wsConn) handleMessage(raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.sendError("", "invalid_frame")
		return
	}
	if err := validateInboundFrame(raw, &frame); err != nil {
		c.server.Logger.Warn("dropping invalid inbound frame", "session_id", c.id, "error", err)
		c.sendError("", err.Error())
		return
	}

	switch frame.Type {
	case "ping":
		_ = c.send("pong", nil)
	case "cancel":
		c.handleCancel(frame)
	case "chat":
		c.handleChat(frame)
	default:
		c.server.Logger.Warn("unknown inbound frame type", "session_id", c.id, "type", frame.Type)
	}
}

func (c *wsConn) handleCancel(frame inboundFrame) {
	// note: frame.SessionID is the chat_session_id, not the socket
	// session id (spec.md §6).
	c.server.Sessions.Cancel(frame.SessionID)
}

func (c *wsConn) handleChat(frame inboundFrame) {
	var data chatFrameData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		c.sendError("", "invalid chat payload")
		return
	}

	if data.IdempotencyKey != "" && c.isDuplicate(data.IdempotencyKey) {
		return
	}

	settings := make(map[string]any, len(data.ProviderSettings)+1)
	for k, v := range data.ProviderSettings {
		settings[k] = v
	}
	settings[adapterSettingsKey] = data.Provider

	req := pipeline.ChatRequest{
		SocketSessionID:  c.id,
		Message:          data.Message,
		Provider:         data.Provider,
		PersonaID:        data.PersonaID,
		ConversationID:   data.ConversationID,
		ProviderSettings: settings,
		ChatControls:     data.ChatControls,
	}

	go func() {
		if err := c.server.Orchestrator.RunTurn(c.ctx, c.server, req); err != nil {
			c.server.Logger.Warn("turn failed", "session_id", c.id, "error", err)
		}
	}()
}

func (c *wsConn) sendError(sessionID, message string) {
	_ = c.send("error", map[string]any{"error": message, "session_id": sessionID})
}

// isDuplicate reports whether key was already seen on this connection,
// evicting the oldest tracked key once idempotencyCap is exceeded
// (SPEC_FULL.md §12, grounded on ws_control_plane.go's
// isIdempotencyDuplicate).
func (c *wsConn) isDuplicate(key string) bool {
	c.idemMu.Lock()
	defer c.idemMu.Unlock()
	if _, ok := c.idemSeen[key]; ok {
		return true
	}
	c.idemSeen[key] = struct{}{}
	c.idemFIFO = append(c.idemFIFO, key)
	if len(c.idemFIFO) > idempotencyCap {
		oldest := c.idemFIFO[0]
		c.idemFIFO = c.idemFIFO[1:]
		delete(c.idemSeen, oldest)
	}
	return false
}
