package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/toolhost-go/internal/server/inflight"
)

var (
	// ErrAlreadyStarted is returned by a second Serve call.
	ErrAlreadyStarted = errors.New("httpserver: already started")
	// ErrNilListener is returned when Serve is given no listener.
	ErrNilListener = errors.New("httpserver: nil listener")
	// ErrNoCertificate means a TLS config carries no certificate source.
	ErrNoCertificate = errors.New("httpserver: TLS enabled without a certificate")
)

const (
	// DefaultReadHeaderTimeout bounds reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultIdleTimeout closes keep-alive connections left idle.
	DefaultIdleTimeout = 120 * time.Second
	// DefaultHandshakeTimeout bounds each TLS handshake.
	DefaultHandshakeTimeout = 10 * time.Second
)

// Config configures the transport.
type Config struct {
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	HandshakeTimeout  time.Duration
	// TLSConfig enables the TLS accept loop when set.
	TLSConfig *tls.Config
	// OnHandshakeFailure is called for every failed or timed out handshake.
	OnHandshakeFailure func(error)
}

// Server is the HTTP transport. It satisfies shutdown.Transport.
type Server struct {
	cfg     Config
	http    *http.Server
	counter *inflight.Counter
	logger  *slog.Logger

	mu       sync.Mutex
	started  bool
	closing  atomic.Bool
	addr     atomic.Value
	raw      net.Listener
	doneOnce sync.Once
	done     chan struct{}
	err      error
}

// New creates a transport for handler. counter may be nil.
func New(cfg Config, handler http.Handler, counter *inflight.Counter, logger *slog.Logger) *Server {
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if counter == nil {
		counter = inflight.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "httpserver")

	return &Server{
		cfg: cfg,
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		counter: counter,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// TLS reports whether the server terminates TLS.
func (s *Server) TLS() bool {
	return s.cfg.TLSConfig != nil
}

// Addr returns the bound address once Serve has been called.
func (s *Server) Addr() net.Addr {
	if a, ok := s.addr.Load().(net.Addr); ok {
		return a
	}
	return nil
}

// Serve starts the transport goroutine on ln and returns immediately.
// Configuration errors are returned synchronously.
func (s *Server) Serve(ln net.Listener) error {
	if ln == nil {
		return ErrNilListener
	}
	var tlsCfg *tls.Config
	if s.cfg.TLSConfig != nil {
		if s.cfg.TLSConfig.GetCertificate == nil && len(s.cfg.TLSConfig.Certificates) == 0 {
			return ErrNoCertificate
		}
		tlsCfg = s.cfg.TLSConfig.Clone()
		// Connections are handed to http.Server after the handshake, so
		// only HTTP/1.1 is negotiated.
		tlsCfg.NextProtos = []string{"http/1.1"}
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.raw = ln
	s.mu.Unlock()

	s.addr.Store(ln.Addr())
	scheme := "http"
	if tlsCfg != nil {
		scheme = "https"
	}
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "scheme", scheme)

	go func() {
		var err error
		if tlsCfg != nil {
			err = s.serveTLS(ln, tlsCfg)
		} else {
			err = s.http.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.finish(err)
	}()
	return nil
}

func (s *Server) serveTLS(raw net.Listener, tlsCfg *tls.Config) error {
	cl := newConnListener(raw.Addr())
	go s.acceptLoop(raw, cl, tlsCfg)
	return s.http.Serve(cl)
}

func (s *Server) finish(err error) {
	s.doneOnce.Do(func() {
		s.err = err
		if err != nil {
			s.logger.Error("HTTP server stopped with error", "error", err)
		} else {
			s.logger.Info("HTTP server stopped")
		}
		close(s.done)
	})
}

// Done is closed when the transport goroutine has exited.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns why the transport exited. It is nil before Done is closed
// and after a graceful stop.
func (s *Server) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Shutdown stops accepting, closes idle connections and waits for active
// ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	s.mu.Lock()
	started, raw := s.started, s.raw
	s.mu.Unlock()
	if !started {
		s.finish(nil)
		return nil
	}
	if s.TLS() {
		// The raw listener is not known to http.Server.
		_ = raw.Close()
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("httpserver: shutdown: %w", err)
	}
	return nil
}
