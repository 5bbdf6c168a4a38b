package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/toolhost-go/internal/core/domain"
	"github.com/yndnr/toolhost-go/internal/core/tool"
	"github.com/yndnr/toolhost-go/internal/infra/shutdown"
	"github.com/yndnr/toolhost-go/internal/infra/tlsroots"
	"github.com/yndnr/toolhost-go/internal/infra/tlsroots/tlstest"
	"github.com/yndnr/toolhost-go/internal/server/httpserver/handler"
	"github.com/yndnr/toolhost-go/internal/server/session"
	"github.com/yndnr/toolhost-go/internal/telemetry/history"
	"github.com/yndnr/toolhost-go/internal/telemetry/logger"
	"github.com/yndnr/toolhost-go/internal/telemetry/usage"
)

type orderLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *orderLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *orderLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Category:        "test",
		Addr:            "127.0.0.1:0",
		DataDir:         t.TempDir(),
		ShutdownTimeout: 5 * time.Second,
		Logger:          logger.Discard(),
	}
}

func echoRegister(log *orderLog) RegisterFunc {
	return func(_ context.Context, env Env) (*RouterSet, error) {
		c := tool.NewCatalog(env.Logger)
		c.MustRegister(tool.Tool{Name: "echo", Category: "util", Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			return args, nil
		}})
		reg := shutdown.NewRegistry()
		reg.RegisterFunc("first", func(context.Context) error { log.add("first"); return nil })
		reg.RegisterFunc("second", func(context.Context) error { log.add("second"); return nil })
		return &RouterSet{
			Catalog:  c,
			Registry: reg,
			ConnectionCleanup: func(_ context.Context, id string) error {
				log.add("cleanup " + id)
				return nil
			},
		}, nil
	}
}

func rpc(t *testing.T, client *http.Client, base, sessionID string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, base+"/mcp", bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(handler.SessionHeader, sessionID)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestNewInstanceID(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 42, time.UTC)
	id := NewInstanceID(ts)
	assert.Regexp(t, regexp.MustCompile(`^20260304-050607-000000042-\d+$`), id)
}

func TestStart_EndToEnd(t *testing.T) {
	log := &orderLog{}
	opts := testOptions(t)
	srv, err := Start(context.Background(), opts, echoRegister(log))
	require.NoError(t, err)
	base := "http://" + srv.Addr().String()
	client := &http.Client{Timeout: 5 * time.Second}

	resp, _ := rpc(t, client, base, "", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
		"params": map[string]any{"clientInfo": map[string]string{"name": "e2e"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	connID := resp.Header.Get(handler.SessionHeader)
	require.True(t, domain.IsValidSessionID(connID), connID)

	resp, out := rpc(t, client, base, connID, map[string]any{
		"jsonrpc": "2.0", "id": 2, "method": "tools/call",
		"params": map[string]any{"name": "echo", "arguments": map[string]string{"hello": "world"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, out["error"])

	statusResp, err := client.Get(base + "/status")
	require.NoError(t, err)
	statusResp.Body.Close()
	assert.Equal(t, http.StatusOK, statusResp.StatusCode)

	metricsResp, err := client.Get(base + "/metrics")
	require.NoError(t, err)
	var metricsBody bytes.Buffer
	_, _ = metricsBody.ReadFrom(metricsResp.Body)
	metricsResp.Body.Close()
	assert.Contains(t, metricsBody.String(), "toolhost_requests_in_flight")
	assert.Contains(t, metricsBody.String(), `toolhost_tools_calls_total{outcome="success",tool="echo"} 1`)

	require.NoError(t, srv.History().Sync(context.Background()))
	recs := srv.History().History(connID)
	require.Len(t, recs, 1)
	assert.Equal(t, "echo", recs[0].ToolName)

	client.CloseIdleConnections()
	srv.Cancel()
	require.NoError(t, srv.WaitForCompletion(10*time.Second))
	assert.Equal(t, shutdown.StateDone, srv.State())

	// Caller hooks ran last registered first.
	assert.Equal(t, []string{"second", "first"}, log.get())

	// Telemetry reached the disk during shutdown.
	data, err := os.ReadFile(filepath.Join(opts.DataDir, history.FileName(srv.InstanceID())))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool_name":"echo"`)
	_, err = os.Stat(usage.FilePath(opts.DataDir, "test", srv.InstanceID()))
	assert.NoError(t, err)
}

func TestStart_TeardownViaDelete(t *testing.T) {
	log := &orderLog{}
	srv, err := Start(context.Background(), testOptions(t), echoRegister(log))
	require.NoError(t, err)
	defer func() {
		srv.Cancel()
		_ = srv.WaitForCompletion(10 * time.Second)
	}()
	base := "http://" + srv.Addr().String()
	client := &http.Client{Timeout: 5 * time.Second}

	resp, _ := rpc(t, client, base, "", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"})
	connID := resp.Header.Get(handler.SessionHeader)

	req, err := http.NewRequest(http.MethodDelete, base+"/admin/v1/connections/"+connID, nil)
	require.NoError(t, err)
	del, err := client.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
	assert.Equal(t, 0, srv.Sessions().Len())
	assert.Contains(t, log.get(), "cleanup "+connID)
	client.CloseIdleConnections()
}

type recordingSessions struct {
	*session.Manager
	log *orderLog
}

func (r recordingSessions) ShutdownHook() shutdown.Hook {
	return shutdown.NamedHook("sessions", shutdown.HookFunc(func(ctx context.Context) error {
		r.log.add("sessions")
		return r.Manager.Shutdown(ctx)
	}))
}

func TestStart_HookOrder(t *testing.T) {
	log := &orderLog{}
	register := func(ctx context.Context, env Env) (*RouterSet, error) {
		set, err := echoRegister(log)(ctx, env)
		if err != nil {
			return nil, err
		}
		set.SessionManager = recordingSessions{Manager: session.NewManager(session.Config{Logger: env.Logger}), log: log}
		return set, nil
	}

	srv, err := Start(context.Background(), testOptions(t), register)
	require.NoError(t, err)
	srv.Cancel()
	require.NoError(t, srv.WaitForCompletion(10*time.Second))

	assert.Equal(t, []string{"second", "first", "sessions"}, log.get())
}

func TestStart_InFlightRequestsFinishBeforeHooks(t *testing.T) {
	const calls = 3
	log := &orderLog{}
	var started sync.WaitGroup
	started.Add(calls)

	register := func(_ context.Context, env Env) (*RouterSet, error) {
		c := tool.NewCatalog(env.Logger)
		c.MustRegister(tool.Tool{Name: "slow", Category: "util", Handler: func(context.Context, json.RawMessage) (any, error) {
			started.Done()
			time.Sleep(500 * time.Millisecond)
			log.add("request done")
			return "ok", nil
		}})
		reg := shutdown.NewRegistry()
		reg.RegisterFunc("A", func(context.Context) error { log.add("closing A"); return nil })
		reg.RegisterFunc("B", func(context.Context) error { log.add("closing B"); return nil })
		return &RouterSet{Catalog: c, Registry: reg}, nil
	}

	srv, err := Start(context.Background(), testOptions(t), register)
	require.NoError(t, err)
	base := "http://" + srv.Addr().String()
	client := &http.Client{Timeout: 10 * time.Second}

	resp, _ := rpc(t, client, base, "", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"})
	connID := resp.Header.Get(handler.SessionHeader)
	require.NotEmpty(t, connID)

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 2, "method": "tools/call",
		"params": map[string]any{"name": "slow"},
	})
	require.NoError(t, err)

	codes := make([]int, calls)
	errs := make([]error, calls)
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, base+"/mcp", bytes.NewReader(body))
			if err != nil {
				errs[i] = err
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(handler.SessionHeader, connID)
			resp, err := client.Do(req)
			if err != nil {
				errs[i] = err
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}

	started.Wait()
	srv.Cancel()
	require.NoError(t, srv.WaitForCompletion(10*time.Second))
	wg.Wait()

	for i := 0; i < calls; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, codes[i])
	}
	assert.Equal(t, []string{
		"request done", "request done", "request done",
		"closing B", "closing A",
	}, log.get())
}

func TestStartWithListener_ClosesListenerOnError(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Options)
		register RegisterFunc
	}{
		{"invalid options", func(o *Options) { o.DataDir = "" }, echoRegister(&orderLog{})},
		{"register error", func(*Options) {}, func(context.Context, Env) (*RouterSet, error) {
			return nil, errors.New("boom")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)
			opts := testOptions(t)
			tt.mutate(&opts)

			_, err = StartWithListener(context.Background(), ln, opts, tt.register)
			require.Error(t, err)

			_, err = ln.Accept()
			assert.ErrorIs(t, err, net.ErrClosed)
		})
	}
}

func TestStart_InvalidOptions(t *testing.T) {
	reg := echoRegister(&orderLog{})
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"missing addr", func(o *Options) { o.Addr = "" }},
		{"bad addr", func(o *Options) { o.Addr = "nope" }},
		{"cert without key", func(o *Options) { o.TLSCertFile = "cert.pem" }},
		{"missing data dir", func(o *Options) { o.DataDir = "" }},
		{"negative keep-alive", func(o *Options) { o.SessionKeepAlive = -time.Second }},
		{"negative shutdown timeout", func(o *Options) { o.ShutdownTimeout = -time.Second }},
		{"missing cert file", func(o *Options) {
			o.TLSCertFile = filepath.Join(o.DataDir, "missing.pem")
			o.TLSKeyFile = filepath.Join(o.DataDir, "missing-key.pem")
		}},
		{"unknown trace exporter", func(o *Options) {
			o.Tracing.Enabled = true
			o.Tracing.Exporter = "zipkin"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t)
			tt.mutate(&opts)
			_, err := Start(context.Background(), opts, reg)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}

	_, err := StartWithListener(context.Background(), nil, testOptions(t), reg)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestStart_RegisterError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Start(context.Background(), testOptions(t), func(context.Context, Env) (*RouterSet, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestStart_NilRouterSet(t *testing.T) {
	srv, err := Start(context.Background(), testOptions(t), func(context.Context, Env) (*RouterSet, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, srv.Catalog().Len())
	srv.Cancel()
	require.NoError(t, srv.WaitForCompletion(10*time.Second))
}

func TestStartWithListener_TLS(t *testing.T) {
	pair := tlstest.WriteSelfSigned(t, t.TempDir(), "server")
	opts := testOptions(t)
	opts.TLSCertFile = pair.CertFile
	opts.TLSKeyFile = pair.KeyFile

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv, err := StartWithListener(context.Background(), ln, opts, echoRegister(&orderLog{}))
	require.NoError(t, err)

	pool := tlsroots.NewEmptyPool()
	require.NoError(t, pool.AddCertPEM(pair.CertPEM))
	client := &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{TLSClientConfig: pool.TLSConfig()}}

	resp, err := client.Get("https://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	client.CloseIdleConnections()

	srv.Cancel()
	require.NoError(t, srv.WaitForCompletion(10*time.Second))
}

func TestServer_TransportDeathIsReported(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv, err := StartWithListener(context.Background(), ln, testOptions(t), echoRegister(&orderLog{}))
	require.NoError(t, err)

	// Kill the listener underneath the transport.
	require.NoError(t, ln.Close())

	err = srv.serveUntilStopped(context.Background(), 10*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport exited unexpectedly")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	registered := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- Run(ctx, testOptions(t), func(ctx context.Context, env Env) (*RouterSet, error) {
			close(registered)
			return nil, nil
		})
	}()

	select {
	case <-registered:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return")
	}
}
