package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// acceptLoop accepts raw connections, completes the TLS handshake on a
// goroutine per connection, and delivers established connections to cl.
func (s *Server) acceptLoop(raw net.Listener, cl *connListener, tlsCfg *tls.Config) {
	var backoff time.Duration
	for {
		c, err := raw.Accept()
		if err != nil {
			if s.closing.Load() {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				cl.closeWith(err)
				return
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff *= 2
			}
			if backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			s.logger.Warn("accept error, retrying", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		go s.handshake(c, cl, tlsCfg)
	}
}

func (s *Server) handshake(c net.Conn, cl *connListener, tlsCfg *tls.Config) {
	tc := tls.Server(c, tlsCfg)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
	err := tc.HandshakeContext(ctx)
	cancel()
	if err != nil {
		s.logger.Warn("TLS handshake failed",
			"remote_addr", c.RemoteAddr().String(),
			"error", err,
		)
		_ = c.Close()
		if s.cfg.OnHandshakeFailure != nil {
			s.cfg.OnHandshakeFailure(err)
		}
		return
	}

	guard := s.counter.Enter()
	defer guard.Release()
	if !cl.deliver(tc) {
		_ = tc.Close()
	}
}

// connListener is an in-memory net.Listener fed by the TLS accept loop.
type connListener struct {
	addr   net.Addr
	conns  chan net.Conn
	closed chan struct{}
	once   sync.Once
	err    error
}

func newConnListener(addr net.Addr) *connListener {
	return &connListener{
		addr:   addr,
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

func (l *connListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, l.err
	}
}

func (l *connListener) Close() error {
	l.closeWith(net.ErrClosed)
	return nil
}

func (l *connListener) Addr() net.Addr {
	return l.addr
}

func (l *connListener) closeWith(err error) {
	l.once.Do(func() {
		l.err = err
		close(l.closed)
	})
}

func (l *connListener) deliver(c net.Conn) bool {
	select {
	case <-l.closed:
		return false
	default:
	}
	select {
	case l.conns <- c:
		return true
	case <-l.closed:
		return false
	}
}
