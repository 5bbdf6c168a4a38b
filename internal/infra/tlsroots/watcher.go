package tlsroots

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds the server certificate and reloads it when the files
// change.
type Watcher struct {
	certFile string
	keyFile  string
	cert     *tls.Certificate
	mu       sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	debounce   time.Duration
	settle     time.Duration
	lastReload time.Time
	reloadMu   sync.Mutex
	onReload   func(error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger for the watcher.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDebounce sets the minimum time between reloads.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithReloadHook is called after every reload attempt.
func WithReloadHook(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher loads the key pair. The files are not watched until Start.
func NewWatcher(certFile, keyFile string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		certFile: certFile,
		keyFile:  keyFile,
		done:     make(chan struct{}),
		logger:   slog.Default(),
		debounce: 500 * time.Millisecond,
		settle:   100 * time.Millisecond,
		onReload: func(error) {},
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.reload(); err != nil {
		return nil, fmt.Errorf("tlsroots: initial load: %w", err)
	}
	return w, nil
}

// Start begins watching the certificate directories in a goroutine.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}

	certDir := filepath.Dir(w.certFile)
	keyDir := filepath.Dir(w.keyFile)
	if err := watcher.Add(certDir); err != nil {
		watcher.Close()
		return fmt.Errorf("tlsroots: watch cert dir %s: %w", certDir, err)
	}
	if keyDir != certDir {
		if err := watcher.Add(keyDir); err != nil {
			watcher.Close()
			return fmt.Errorf("tlsroots: watch key dir %s: %w", keyDir, err)
		}
	}
	w.watcher = watcher

	w.logger.Info("certificate watcher started", "cert_file", w.certFile, "key_file", w.keyFile)
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	certBase := filepath.Base(w.certFile)
	keyBase := filepath.Base(w.keyFile)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			changed := filepath.Base(event.Name)
			if changed != certBase && changed != keyBase {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("certificate file changed", "file", event.Name, "op", event.Op.String())
			if err := w.debouncedReload(); err != nil {
				w.logger.Error("certificate reload failed", "error", err, "cert_file", w.certFile)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("certificate watcher error", "error", err, "cert_file", w.certFile)
		case <-w.done:
			return
		}
	}
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

// Name identifies the watcher as a shutdown hook.
func (w *Watcher) Name() string {
	return "tls-cert-watcher"
}

// Shutdown stops the watcher.
func (w *Watcher) Shutdown(context.Context) error {
	w.Stop()
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (w *Watcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cert, nil
}

// TLSConfig returns a server config that always serves the current
// certificate.
func (w *Watcher) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: w.GetCertificate,
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"h2", "http/1.1"},
	}
}

func (w *Watcher) debouncedReload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	now := time.Now()
	if now.Sub(w.lastReload) < w.debounce {
		return nil
	}
	w.lastReload = now

	// Let the writer finish before reading the pair.
	time.Sleep(w.settle)
	return w.reload()
}

func (w *Watcher) reload() error {
	cert, err := tls.LoadX509KeyPair(w.certFile, w.keyFile)
	if err != nil {
		err = fmt.Errorf("load key pair: %w", err)
		w.onReload(err)
		return err
	}

	w.mu.Lock()
	w.cert = &cert
	w.mu.Unlock()

	w.logger.Info("certificate loaded", "cert_file", w.certFile)
	w.onReload(nil)
	return nil
}
