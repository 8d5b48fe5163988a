// WebSocket channel: a bidirectional companion to the SSE event stream.
// Where sse.go is server-to-client only, this file lets a single client
// (a TUI, a remote agent runner) chat with a session and answer tool
// calls over one persistent connection instead of the request/poll cycle
// client-tools uses. Grounded on gorilla/websocket, the same library the
// rest of the client-tool registry's event plumbing was already built to
// pair with.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/codescout-dev/codescout/internal/clienttool"
	"github.com/codescout-dev/codescout/internal/event"
	"github.com/codescout-dev/codescout/internal/logging"
	"github.com/codescout-dev/codescout/pkg/types"
)

// Inbound frame types, sent by the client.
const (
	wsAgentChat  = "AGENT_CHAT"
	wsToolResult = "TOOL_RESULT"
	wsStop       = "STOP"
	wsPing       = "PING"
)

// Outbound frame types, sent by the server.
const (
	wsAgentResponse = "AGENT_RESPONSE"
	wsToolCall      = "TOOL_CALL"
	wsStopped       = "STOPPED"
	wsPong          = "PONG"
	wsError         = "ERROR"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
)

// wsInboundFrame is the shape of every frame the client may send.
// Only the fields relevant to Type are populated.
type wsInboundFrame struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Model     *types.ModelRef `json:"model,omitempty"`
	RequestID string          `json:"requestID,omitempty"`
	Status    string          `json:"status,omitempty"`
	Output    string          `json:"output,omitempty"`
	Title     string          `json:"title,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// wsOutboundFrame is the shape of every frame the server may send.
type wsOutboundFrame struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionID,omitempty"`
	Message   *types.Message `json:"message,omitempty"`
	Parts     []types.Part   `json:"parts,omitempty"`
	RequestID string         `json:"requestID,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Error     string         `json:"error,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// sessionWebSocket upgrades GET /session/{sessionID}/ws into the
// AGENT_CHAT/TOOL_RESULT/STOP/PING bidirectional channel.
func (s *Server) sessionWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.sessionService.Get(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := r.URL.Query().Get("clientID")
	if clientID == "" {
		clientID = ulid.Make().String()
	}

	ch := &wsChannel{
		srv:       s,
		conn:      conn,
		sessionID: sessionID,
		clientID:  clientID,
		send:      make(chan wsOutboundFrame, 32),
	}
	ch.run()
}

// wsChannel owns one upgraded connection for the lifetime of the session
// chat. gorilla/websocket connections only support a single concurrent
// writer, so all outbound frames flow through the send channel and a
// single writer goroutine.
type wsChannel struct {
	srv       *Server
	conn      *websocket.Conn
	sessionID string
	clientID  string

	send    chan wsOutboundFrame
	closeMu sync.Mutex
	closed  bool
}

func (ch *wsChannel) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unsubToolCall := event.Subscribe(event.ClientToolRequest, func(e event.Event) {
		data, ok := e.Data.(event.ClientToolRequestData)
		if !ok || data.ClientID != ch.clientID {
			return
		}
		req, ok := data.Request.(clienttool.ExecutionRequest)
		if !ok {
			return
		}
		ch.enqueue(wsOutboundFrame{
			Type:      wsToolCall,
			SessionID: req.SessionID,
			RequestID: req.RequestID,
			Tool:      req.Tool,
			Input:     req.Input,
		})
	})
	defer unsubToolCall()

	unsubUpdate := event.Subscribe(event.MessageUpdated, func(e event.Event) {
		data, ok := e.Data.(event.MessageUpdatedData)
		if !ok || data.Info == nil || data.Info.SessionID != ch.sessionID {
			return
		}
		parts, _ := ch.srv.sessionService.GetParts(ctx, data.Info.ID)
		ch.enqueue(wsOutboundFrame{
			Type:      wsAgentResponse,
			SessionID: ch.sessionID,
			Message:   data.Info,
			Parts:     parts,
		})
	})
	defer unsubUpdate()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ch.writeLoop()
	}()

	ch.readLoop(ctx)
	cancel()
	ch.closeSend()
	wg.Wait()
	clienttool.Cleanup(ch.clientID)
	_ = ch.conn.Close()
}

func (ch *wsChannel) readLoop(ctx context.Context) {
	ch.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	ch.conn.SetPongHandler(func(string) error {
		ch.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var frame wsInboundFrame
		if err := ch.conn.ReadJSON(&frame); err != nil {
			return
		}
		ch.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch frame.Type {
		case wsAgentChat:
			go ch.handleAgentChat(frame)
		case wsToolResult:
			ch.handleToolResult(frame)
		case wsStop:
			go ch.handleStop(ctx)
		case wsPing:
			ch.enqueue(wsOutboundFrame{Type: wsPong})
		default:
			ch.enqueue(wsOutboundFrame{Type: wsError, Error: fmt.Sprintf("unknown frame type %q", frame.Type)})
		}
	}
}

func (ch *wsChannel) handleAgentChat(frame wsInboundFrame) {
	sess, err := ch.srv.sessionService.Get(context.Background(), ch.sessionID)
	if err != nil {
		ch.enqueue(wsOutboundFrame{Type: wsError, SessionID: ch.sessionID, Error: err.Error()})
		return
	}

	// Run with a background context: the WebSocket connection may outlive
	// any single request, but a dropped connection shouldn't silently
	// cancel an in-flight agentic turn.
	msg, parts, err := ch.srv.sessionService.ProcessMessage(context.Background(), sess, frame.Content, frame.Model, func(m *types.Message, p []types.Part) {
		ch.enqueue(wsOutboundFrame{Type: wsAgentResponse, SessionID: ch.sessionID, Message: m, Parts: p})
	})
	if err != nil {
		ch.enqueue(wsOutboundFrame{Type: wsError, SessionID: ch.sessionID, Error: err.Error()})
		return
	}
	ch.enqueue(wsOutboundFrame{Type: wsAgentResponse, SessionID: ch.sessionID, Message: msg, Parts: parts})
}

func (ch *wsChannel) handleToolResult(frame wsInboundFrame) {
	if frame.RequestID == "" {
		ch.enqueue(wsOutboundFrame{Type: wsError, Error: "TOOL_RESULT requires requestID"})
		return
	}
	resp := clienttool.ToolResponse{
		Status:   frame.Status,
		Title:    frame.Title,
		Output:   frame.Output,
		Metadata: frame.Metadata,
		Error:    frame.Error,
	}
	if resp.Status == "" {
		resp.Status = "success"
	}
	if !clienttool.SubmitResult(frame.RequestID, resp) {
		ch.enqueue(wsOutboundFrame{Type: wsError, Error: fmt.Sprintf("no pending tool call %q", frame.RequestID)})
	}
}

func (ch *wsChannel) handleStop(ctx context.Context) {
	if err := ch.srv.sessionService.Abort(ctx, ch.sessionID); err != nil {
		ch.enqueue(wsOutboundFrame{Type: wsError, SessionID: ch.sessionID, Error: err.Error()})
		return
	}
	ch.enqueue(wsOutboundFrame{Type: wsStopped, SessionID: ch.sessionID})
}

func (ch *wsChannel) enqueue(f wsOutboundFrame) {
	ch.closeMu.Lock()
	defer ch.closeMu.Unlock()
	if ch.closed {
		return
	}
	select {
	case ch.send <- f:
	default:
		logging.Warn().Str("sessionID", ch.sessionID).Str("type", f.Type).Msg("websocket outbound frame dropped: channel full")
	}
}

func (ch *wsChannel) closeSend() {
	ch.closeMu.Lock()
	defer ch.closeMu.Unlock()
	if ch.closed {
		return
	}
	ch.closed = true
	close(ch.send)
}

func (ch *wsChannel) writeLoop() {
	ticker := time.NewTicker(wsPongWait / 2)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-ch.send:
			if !ok {
				return
			}
			ch.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ch.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			ch.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ch.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
