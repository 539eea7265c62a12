// SPDX-License-Identifier: Apache-2.0
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/orchestrator"
	"github.com/jllopis/jarvis/pkg/session"
	"github.com/jllopis/jarvis/pkg/tracestore"
)

type fakeTurns struct {
	mu     sync.Mutex
	turns  []orchestrator.Turn
	tokens []string
	err    error
}

func (f *fakeTurns) Process(ctx context.Context, turn orchestrator.Turn) (*orchestrator.TurnResult, error) {
	f.mu.Lock()
	f.turns = append(f.turns, turn)
	n := len(f.turns)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if turn.Sink != nil {
		for _, tok := range f.tokens {
			if err := turn.Sink(ctx, tok); err != nil {
				break
			}
		}
	}
	return &orchestrator.TurnResult{
		TurnID:   fmt.Sprintf("turn-%d", n),
		Response: strings.Join(f.tokens, ""),
		History:  turn.History,
		Intent:   core.IntentGreeting,
		Model:    core.ModelFast,
		Trace:    []core.TraceEntry{{Agent: core.AgentChat, Status: core.StatusOK, DurationMS: 3}},
	}, nil
}

func (f *fakeTurns) received() []orchestrator.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orchestrator.Turn(nil), f.turns...)
}

type fakeStatus []core.AgentStatus

func (f fakeStatus) Status() []core.AgentStatus { return f }

func newTestServer(t *testing.T, cfg Config, deps Deps) *Server {
	t.Helper()
	if deps.Turns == nil {
		deps.Turns = &fakeTurns{tokens: []string{"Hello", " there"}}
	}
	srv, err := New(cfg, deps)
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresTurnProcessor(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn processor is required")
}

func TestNewAppliesDefaults(t *testing.T) {
	srv := newTestServer(t, Config{}, Deps{})
	assert.Equal(t, ":8080", srv.cfg.Addr)
	assert.Equal(t, 10*time.Second, srv.cfg.ShutdownTimeout)
	assert.Equal(t, session.DefaultMaxMessages, srv.cfg.MaxMessages)
}

func TestHandleTurn(t *testing.T) {
	t.Run("runs the turn and stores the exchange", func(t *testing.T) {
		turns := &fakeTurns{tokens: []string{"Hi", "!"}}
		sessions := session.NewInMemory()
		srv := newTestServer(t, Config{UserID: "u1"}, Deps{Turns: turns, Sessions: sessions})

		rec := do(t, srv, http.MethodPost, "/api/v1/turn", `{"session_id":"s1","message":" hello "}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp TurnResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "turn-1", resp.TurnID)
		assert.Equal(t, "s1", resp.SessionID)
		assert.Equal(t, "Hi!", resp.Response)
		assert.Equal(t, core.IntentGreeting, resp.Intent)
		require.Len(t, resp.Trace, 1)

		got := turns.received()
		require.Len(t, got, 1)
		assert.Equal(t, "hello", got[0].UserMessage)
		assert.Equal(t, "u1", got[0].UserID)
		assert.Equal(t, "s1", got[0].SessionID)
		assert.Nil(t, got[0].Sink)

		history, err := sessions.Load(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, []core.Message{
			{Role: core.RoleUser, Content: "hello"},
			{Role: core.RoleAssistant, Content: "Hi!"},
		}, history)
	})

	t.Run("carries history into the next turn", func(t *testing.T) {
		turns := &fakeTurns{tokens: []string{"ok"}}
		srv := newTestServer(t, Config{}, Deps{Turns: turns, Sessions: session.NewInMemory()})

		require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/turn", `{"session_id":"s","message":"one"}`).Code)
		require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/turn", `{"session_id":"s","message":"two"}`).Code)

		got := turns.received()
		require.Len(t, got, 2)
		assert.Len(t, got[1].History, 2)
		assert.Equal(t, "one", got[1].History[0].Content)
	})

	t.Run("caps stored history", func(t *testing.T) {
		sessions := session.NewInMemory()
		srv := newTestServer(t, Config{MaxMessages: 4}, Deps{Sessions: sessions})
		for i := range 3 {
			body := fmt.Sprintf(`{"session_id":"s","message":"m%d"}`, i)
			require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/turn", body).Code)
		}
		history, err := sessions.Load(context.Background(), "s")
		require.NoError(t, err)
		require.Len(t, history, 4)
		assert.Equal(t, "m1", history[0].Content)
	})

	t.Run("generates a session id", func(t *testing.T) {
		srv := newTestServer(t, Config{}, Deps{})
		rec := do(t, srv, http.MethodPost, "/api/v1/turn", `{"message":"hi"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp TurnResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.SessionID)
	})

	t.Run("rejects empty message", func(t *testing.T) {
		srv := newTestServer(t, Config{}, Deps{})
		rec := do(t, srv, http.MethodPost, "/api/v1/turn", `{"message":"   "}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "message field is required")
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		srv := newTestServer(t, Config{}, Deps{})
		rec := do(t, srv, http.MethodPost, "/api/v1/turn", `{"message":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("processor error is a server error", func(t *testing.T) {
		srv := newTestServer(t, Config{}, Deps{Turns: &fakeTurns{err: fmt.Errorf("no runner")}})
		rec := do(t, srv, http.MethodPost, "/api/v1/turn", `{"message":"hi"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleTurns(t *testing.T) {
	store := tracestore.NewMemoryStore(10)
	now := time.Now()
	require.NoError(t, store.Save(context.Background(), tracestore.Record{TurnID: "turn-a", SessionID: "s1", Intent: "greeting", StartedAt: now, FinishedAt: now}))
	require.NoError(t, store.Save(context.Background(), tracestore.Record{TurnID: "turn-b", SessionID: "s2", Intent: "weather_query", StartedAt: now, FinishedAt: now}))
	srv := newTestServer(t, Config{}, Deps{Traces: store})

	t.Run("get", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/v1/turns/turn-a", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var got tracestore.Record
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "s1", got.SessionID)
	})

	t.Run("unknown turn", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/v1/turns/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list filters by intent", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/v1/turns?intent=weather_query", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var got []tracestore.Record
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "turn-b", got[0].TurnID)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/v1/turns?limit=abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRoutesDisabledWithoutDeps(t *testing.T) {
	srv := newTestServer(t, Config{}, Deps{})
	for _, path := range []string{"/api/v1/turns", "/api/v1/agents/status", "/api/v1/sessions", "/metrics"} {
		rec := do(t, srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestHandleAgentStatus(t *testing.T) {
	status := fakeStatus{{Name: core.AgentChat, LastRunMS: 12, LastStatus: core.StatusOK, RunsToday: 3}}
	srv := newTestServer(t, Config{}, Deps{Agents: status})

	rec := do(t, srv, http.MethodGet, "/api/v1/agents/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []core.AgentStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []core.AgentStatus(status), got)
}

func TestHandleSessions(t *testing.T) {
	sessions := session.NewInMemory()
	ctx := context.Background()
	require.NoError(t, sessions.Save(ctx, "s1", []core.Message{{Role: core.RoleUser, Content: "hi"}}))
	srv := newTestServer(t, Config{}, Deps{Sessions: sessions})

	rec := do(t, srv, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["s1"]`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/v1/sessions/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"role":"user","content":"hi"}]`, rec.Body.String())

	rec = do(t, srv, http.MethodDelete, "/api/v1/sessions/s1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	history, err := sessions.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHandleHealth(t *testing.T) {
	t.Run("without checks", func(t *testing.T) {
		srv := newTestServer(t, Config{}, Deps{})
		rec := do(t, srv, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), string(core.HealthHealthy))
	})

	t.Run("unhealthy component", func(t *testing.T) {
		health := core.NewHealthCheckProvider(time.Second)
		health.RegisterChecker("store", core.PingChecker(func(context.Context) error {
			return fmt.Errorf("database is locked")
		}))
		srv := newTestServer(t, Config{}, Deps{Health: health})

		rec := do(t, srv, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var got HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, core.HealthUnhealthy, got.Status)
		require.Len(t, got.Components, 1)
		assert.Equal(t, "store", got.Components[0].Component)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jarvis_turns_total 1\n"))
	})
	srv := newTestServer(t, Config{}, Deps{Metrics: metrics})
	rec := do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "jarvis_turns_total")
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, Config{AllowedOrigins: []string{"http://localhost:5173"}}, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func dialWS(t *testing.T, srv *Server, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readFrames(t *testing.T, conn *websocket.Conn, until func(ServerFrame) bool) []ServerFrame {
	t.Helper()
	var frames []ServerFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var f ServerFrame
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if until(f) {
			return frames
		}
	}
}

func isIdle(f ServerFrame) bool { return f.Type == FrameStatus && f.Status == StatusIdle }

func TestWebsocketTurn(t *testing.T) {
	turns := &fakeTurns{tokens: []string{"Good", " morning"}}
	sessions := session.NewInMemory()
	srv := newTestServer(t, Config{}, Deps{Turns: turns, Sessions: sessions})

	conn, _, err := dialWS(t, srv, "?session_id=ws-1", nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameTextMessage, Text: "hello"}))
	frames := readFrames(t, conn, isIdle)

	types := make([]string, len(frames))
	for i, f := range frames {
		types[i] = f.Type
	}
	assert.Equal(t, []string{FrameStatus, FrameToken, FrameToken, FrameResponseComplete, FrameTrace, FrameStatus}, types)
	assert.Equal(t, StatusThinking, frames[0].Status)
	assert.Equal(t, "Good", frames[1].Token)
	assert.Equal(t, " morning", frames[2].Token)
	assert.Equal(t, "Good morning", frames[3].FullText)
	assert.Equal(t, core.IntentGreeting, frames[4].Intent)
	assert.NotNil(t, frames[4].Trace)

	history, err := sessions.Load(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	// A second message on the same connection sees the stored exchange.
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameTextMessage, Text: "again"}))
	readFrames(t, conn, isIdle)
	got := turns.received()
	require.Len(t, got, 2)
	assert.Len(t, got[1].History, 2)
	assert.NotNil(t, got[1].Sink)
}

func TestWebsocketRejectsUnsupportedFrames(t *testing.T) {
	turns := &fakeTurns{}
	srv := newTestServer(t, Config{}, Deps{Turns: turns})
	conn, _, err := dialWS(t, srv, "", nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "audio_chunk"}))
	frames := readFrames(t, conn, func(ServerFrame) bool { return true })
	assert.Equal(t, FrameError, frames[0].Type)
	assert.Contains(t, frames[0].Message, "audio_chunk")

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameTextMessage, Text: "  "}))
	frames = readFrames(t, conn, func(ServerFrame) bool { return true })
	assert.Equal(t, FrameError, frames[0].Type)
	assert.Empty(t, turns.received())
}

func TestWebsocketReportsTurnErrors(t *testing.T) {
	srv := newTestServer(t, Config{}, Deps{Turns: &fakeTurns{err: fmt.Errorf("orchestrator has no runner")}})
	conn, _, err := dialWS(t, srv, "", nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameTextMessage, Text: "hi"}))
	frames := readFrames(t, conn, isIdle)
	require.Len(t, frames, 3)
	assert.Equal(t, FrameError, frames[1].Type)
	assert.Contains(t, frames[1].Message, "no runner")
}

func TestWebsocketChecksOrigin(t *testing.T) {
	srv := newTestServer(t, Config{AllowedOrigins: []string{"http://localhost:5173"}}, Deps{})

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := dialWS(t, srv, "", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"http://localhost:5173"}}
	_, _, err = dialWS(t, srv, "", header)
	require.NoError(t, err)
}

func TestWebsocketWritesHonourDeadline(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	defer ts.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	server := <-conns
	defer server.Close()
	ws := &wsConn{conn: server}

	require.NoError(t, ws.sendContext(context.Background(), ServerFrame{Type: FrameToken, Token: "hi"}))
	var f ServerFrame
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, client.ReadJSON(&f))
	assert.Equal(t, "hi", f.Token)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	start := time.Now()
	assert.Error(t, ws.sendContext(ctx, ServerFrame{Type: FrameToken, Token: "late"}))
	assert.Less(t, time.Since(start), time.Second)
}
