package tlsroots

import (
	"context"
	"crypto/tls"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/toolhost-go/internal/infra/tlsroots/tlstest"
)

func TestNewWatcher_LoadsPair(t *testing.T) {
	pair := tlstest.WriteSelfSigned(t, t.TempDir(), "server")

	w, err := NewWatcher(pair.CertFile, pair.KeyFile)
	require.NoError(t, err)
	defer w.Stop()

	cert, err := w.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	require.NotNil(t, cert)

	cfg := w.TLSConfig()
	assert.NotNil(t, cfg.GetCertificate)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}

func TestNewWatcher_MissingFiles(t *testing.T) {
	_, err := NewWatcher("/nonexistent/cert.pem", "/nonexistent/key.pem")
	assert.Error(t, err)
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	pair := tlstest.WriteSelfSigned(t, dir, "server")

	reloaded := make(chan error, 8)
	w, err := NewWatcher(pair.CertFile, pair.KeyFile,
		WithDebounce(0),
		WithReloadHook(func(err error) {
			select {
			case reloaded <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)
	require.NoError(t, <-reloaded)
	require.NoError(t, w.Start())
	defer w.Stop()

	before, _ := w.GetCertificate(nil)

	next := tlstest.WriteSelfSigned(t, t.TempDir(), "next")
	certPEM, err := os.ReadFile(next.CertFile)
	require.NoError(t, err)
	keyPEM, err := os.ReadFile(next.KeyFile)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pair.KeyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(pair.CertFile, certPEM, 0o644))

	require.Eventually(t, func() bool {
		after, _ := w.GetCertificate(nil)
		return string(after.Certificate[0]) != string(before.Certificate[0])
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatcher_ShutdownHook(t *testing.T) {
	pair := tlstest.WriteSelfSigned(t, t.TempDir(), "server")
	w, err := NewWatcher(pair.CertFile, pair.KeyFile)
	require.NoError(t, err)
	require.NoError(t, w.Start())

	assert.Equal(t, "tls-cert-watcher", w.Name())
	assert.NoError(t, w.Shutdown(context.Background()))
	assert.NoError(t, w.Shutdown(context.Background()))
}
