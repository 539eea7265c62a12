// SPDX-License-Identifier: Apache-2.0
package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Frame types exchanged on /ws.
const (
	FrameTextMessage      = "text_message"
	FrameStatus           = "status"
	FrameToken            = "llm_token"
	FrameResponseComplete = "response_complete"
	FrameTrace            = "agent_trace"
	FrameError            = "error"
)

// writeWait bounds every frame write so a client that stops reading cannot
// stall a turn.
const writeWait = 10 * time.Second

// Status frame values.
const (
	StatusThinking = "thinking"
	StatusIdle     = "idle"
)

// ClientFrame is a message sent by the browser.
type ClientFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ServerFrame is a message sent to the browser. Only the fields relevant to
// Type are set.
type ServerFrame struct {
	Type     string `json:"type"`
	Status   string `json:"status,omitempty"`
	Token    string `json:"token,omitempty"`
	FullText string `json:"full_text,omitempty"`
	TurnID   string `json:"turn_id,omitempty"`
	Intent   string `json:"intent,omitempty"`
	Model    string `json:"model,omitempty"`
	Trace    any    `json:"trace,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
				return true
			}
			return slices.Contains(s.cfg.AllowedOrigins, origin) || slices.Contains(s.cfg.AllowedOrigins, "*")
		},
	}
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(frame ServerFrame) error {
	return w.sendContext(context.Background(), frame)
}

// sendContext writes frame before ctx's deadline or writeWait, whichever is
// sooner.
func (w *wsConn) sendContext(ctx context.Context, frame ServerFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteJSON(frame)
}

// handleWebsocket serves one chat session. Messages are processed one at a
// time in arrival order. The session id comes from the session_id query
// parameter or is generated per connection.
func (s *Server) handleWebsocket(c echo.Context) error {
	up := s.upgrader()
	conn, err := up.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("ws.upgrade", slog.String("error", err.Error()))
		return nil
	}
	defer conn.Close()

	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	logger := s.logger.With(slog.String("session_id", sessionID))
	logger.InfoContext(ctx, "ws.connect")
	defer logger.InfoContext(ctx, "ws.disconnect")

	ws := &wsConn{conn: conn}
	for {
		var frame ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.DebugContext(ctx, "ws.read", slog.String("error", err.Error()))
			}
			return nil
		}

		switch frame.Type {
		case FrameTextMessage:
			text := strings.TrimSpace(frame.Text)
			if text == "" {
				if ws.send(ServerFrame{Type: FrameError, Message: "empty message"}) != nil {
					return nil
				}
				continue
			}
			if err := s.serveTurn(ctx, ws, sessionID, text); err != nil {
				logger.DebugContext(ctx, "ws.write", slog.String("error", err.Error()))
				return nil
			}
		default:
			if ws.send(ServerFrame{Type: FrameError, Message: "unsupported message type: " + frame.Type}) != nil {
				return nil
			}
		}
	}
}

// serveTurn streams one turn: status thinking, the tokens, the complete
// response, the trace and status idle. It returns only write errors.
func (s *Server) serveTurn(ctx context.Context, ws *wsConn, sessionID, text string) error {
	if err := ws.send(ServerFrame{Type: FrameStatus, Status: StatusThinking}); err != nil {
		return err
	}

	sink := func(ctx context.Context, token string) error {
		return ws.sendContext(ctx, ServerFrame{Type: FrameToken, Token: token})
	}
	res, err := s.runTurn(ctx, sessionID, text, sink)
	if err != nil {
		if werr := ws.send(ServerFrame{Type: FrameError, Message: err.Error()}); werr != nil {
			return werr
		}
		return ws.send(ServerFrame{Type: FrameStatus, Status: StatusIdle})
	}

	frames := []ServerFrame{
		{Type: FrameResponseComplete, FullText: res.Response, TurnID: res.TurnID},
		{Type: FrameTrace, TurnID: res.TurnID, Intent: res.Intent, Model: res.Model, Trace: res.Trace},
		{Type: FrameStatus, Status: StatusIdle},
	}
	for _, f := range frames {
		if err := ws.send(f); err != nil {
			return err
		}
	}
	return nil
}
