package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/toolhost-go/internal/core/service"
	"github.com/yndnr/toolhost-go/internal/core/tool"
	"github.com/yndnr/toolhost-go/internal/server/inflight"
	"github.com/yndnr/toolhost-go/internal/server/session"
	"github.com/yndnr/toolhost-go/internal/telemetry/history"
	"github.com/yndnr/toolhost-go/internal/telemetry/logger"
	"github.com/yndnr/toolhost-go/internal/telemetry/usage"
)

type fixture struct {
	h         *Handler
	sessions  *session.Manager
	history   *history.Store
	usage     *usage.Tracker
	cleanups  atomic.Int32
	shutting  atomic.Bool
	failClean atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	log := logger.Discard()

	catalog := tool.NewCatalog(log)
	catalog.MustRegister(
		tool.Tool{Name: "echo", Category: "util", Description: "echo args", Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			return args, nil
		}},
		tool.Tool{Name: "fail", Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("boom")
		}},
	)

	hist, err := history.Open(history.Config{Dir: dir, InstanceID: "test", Logger: log})
	require.NoError(t, err)
	tracker, err := usage.Open(usage.Config{Dir: dir, InstanceID: "test", Categorizer: catalog, Logger: log})
	require.NoError(t, err)
	sessions := session.NewManager(session.Config{Logger: log})
	t.Cleanup(func() {
		_ = hist.Shutdown(context.Background())
		_ = tracker.Shutdown(context.Background())
		_ = sessions.Shutdown(context.Background())
	})

	f := &fixture{sessions: sessions, history: hist, usage: tracker}
	f.h = New(Config{
		Tools:      service.NewTools(catalog, service.ToolsConfig{History: hist, Usage: tracker, Logger: log}),
		Sessions:   sessions,
		History:    hist,
		Usage:      tracker,
		Requests:   inflight.New(),
		Metrics:    http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		InstanceID: "test",
		Category:   "default",
		Server:     ServerInfo{Name: "toolhost-test", Version: "1.0.0"},
		ShuttingDown: func() bool {
			return f.shutting.Load()
		},
		ShutdownState: func() string {
			if f.shutting.Load() {
				return "draining"
			}
			return "running"
		},
		ConnectionCleanup: func(context.Context, string) error {
			f.cleanups.Add(1)
			if f.failClean.Load() {
				return errors.New("cleanup failed")
			}
			return nil
		},
		Logger: log,
	})
	return f
}

func (f *fixture) do(method, path, sessionID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) rpc(t *testing.T, sessionID string, id int, method string, params any) (*httptest.ResponseRecorder, RPCResponse, json.RawMessage) {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	rec := f.do(http.MethodPost, "/mcp", sessionID, req)

	var raw struct {
		RPCResponse
		Result json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw), rec.Body.String())
	return rec, raw.RPCResponse, raw.Result
}

func (f *fixture) initialize(t *testing.T) string {
	t.Helper()
	rec, resp, result := f.rpc(t, "", 1, "initialize", map[string]any{
		"protocolVersion": "2025-03-26",
		"clientInfo":      map[string]string{"name": "tester", "version": "0.1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Error)

	var init InitializeResult
	require.NoError(t, json.Unmarshal(result, &init))
	assert.Equal(t, "toolhost-test", init.ServerInfo.Name)
	assert.Equal(t, "2025-03-26", init.ProtocolVersion)

	id := rec.Header().Get(SessionHeader)
	require.NotEmpty(t, id)
	return id
}

func TestMCP_InitializeAndListTools(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)
	assert.Equal(t, 1, f.sessions.Len())

	_, resp, result := f.rpc(t, id, 2, "tools/list", nil)
	require.Nil(t, resp.Error)
	var list struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(result, &list))
	require.Len(t, list.Tools, 2)
	assert.Equal(t, "echo", list.Tools[0].Name)
	assert.JSONEq(t, `{"type":"object"}`, string(list.Tools[0].InputSchema))
}

func TestMCP_CallToolRecordsTelemetry(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)

	_, resp, result := f.rpc(t, id, 2, "tools/call", map[string]any{
		"name":      "echo",
		"arguments": map[string]int{"x": 1},
	})
	require.Nil(t, resp.Error)
	var call CallToolResult
	require.NoError(t, json.Unmarshal(result, &call))
	assert.False(t, call.IsError)
	require.Len(t, call.Content, 1)
	assert.JSONEq(t, `{"x":1}`, call.Content[0].Text)

	_, _, result = f.rpc(t, id, 3, "tools/call", map[string]any{"name": "fail"})
	require.NoError(t, json.Unmarshal(result, &call))
	assert.True(t, call.IsError)

	require.NoError(t, f.history.Sync(context.Background()))
	require.NoError(t, f.usage.Sync(context.Background()))

	rec := f.do(http.MethodGet, "/admin/v1/connections/"+id+"/history?tool=echo", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Data HistoryResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, 1, env.Data.Count)
	assert.Equal(t, "echo", env.Data.Records[0].ToolName)

	rec = f.do(http.MethodGet, "/admin/v1/connections/"+id+"/usage", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var usageEnv struct {
		Data UsageResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usageEnv))
	assert.Equal(t, uint64(2), usageEnv.Data.Stats.TotalToolCalls)
	assert.Equal(t, uint64(1), usageEnv.Data.Stats.FailedCalls)
	assert.Equal(t, uint64(1), usageEnv.Data.Stats.Categories["util"])
}

func TestMCP_SessionErrors(t *testing.T) {
	f := newFixture(t)

	rec, resp, _ := f.rpc(t, "", 1, "tools/list", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, SessionRequired, resp.Error.Code)

	rec, resp, _ = f.rpc(t, "ths-unknown", 1, "tools/list", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, SessionRequired, resp.Error.Code)
}

func TestMCP_ProtocolErrors(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)

	rec := f.do(http.MethodPost, "/mcp", id, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "-32700")

	rec = f.do(http.MethodPost, "/mcp", id, map[string]any{"jsonrpc": "1.0", "id": 1, "method": "ping"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, resp, _ := f.rpc(t, id, 2, "nope", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)

	_, resp, _ = f.rpc(t, id, 3, "tools/call", map[string]any{"name": "missing"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)

	_, resp, result := f.rpc(t, id, 4, "ping", nil)
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `{}`, string(result))
	assert.JSONEq(t, `4`, string(resp.ID))
}

func TestMCP_Notification(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)

	rec := f.do(http.MethodPost, "/mcp", id, map[string]any{"jsonrpc": "2.0", "method": "notifications/initialized"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestMCP_Disconnect(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/mcp", "", nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/mcp", id, nil).Code)
	assert.Equal(t, 0, f.sessions.Len())
	assert.Equal(t, int32(1), f.cleanups.Load())

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/mcp", id, nil).Code)
}

func TestAdmin_DeleteConnection(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)
	f.rpc(t, id, 2, "tools/call", map[string]any{"name": "echo"})
	require.NoError(t, f.history.Sync(context.Background()))
	require.NotEmpty(t, f.history.History(id))

	f.failClean.Store(true)
	rec := f.do(http.MethodDelete, "/admin/v1/connections/"+id, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int32(1), f.cleanups.Load())

	require.NoError(t, f.history.Sync(context.Background()))
	require.NoError(t, f.usage.Sync(context.Background()))
	assert.Empty(t, f.history.History(id))
	_, ok := f.usage.Stats(id)
	assert.False(t, ok)

	rec = f.do(http.MethodGet, "/admin/v1/connections/"+id+"/usage", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TH-CONN-4040", rec.Header().Get("X-Error-Code"))
}

func TestAdmin_HistoryValidation(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/admin/v1/connections/x/history?max=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodGet, "/admin/v1/connections/x/history?offset=1.5", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/admin/v1/connections/x/history?offset=-3", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Data HistoryResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, 0, env.Data.Count)
	assert.NotNil(t, env.Data.Records)
}

func TestHealthReadyStatusMetrics(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/ready", "", nil).Code)

	rec := f.do(http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Code string         `json:"code"`
		Data StatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "OK", env.Code)
	assert.Equal(t, "test", env.Data.InstanceID)
	assert.Equal(t, "default", env.Data.Category)
	assert.Equal(t, 1, env.Data.Sessions)
	assert.Equal(t, "running", env.Data.ShutdownState)
	assert.NotEmpty(t, env.Data.MemoryHuman)

	rec = f.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, "# metrics", rec.Body.String())

	f.shutting.Store(true)
	rec = f.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "draining")
}
