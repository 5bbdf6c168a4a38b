package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Server struct {
		HTTP struct {
			Addr        string `koanf:"addr"`
			TLSCertFile string `koanf:"tls_cert_file"`
		} `koanf:"http"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	} `koanf:"server"`
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
	ignored string
}

func defaults() *testConfig {
	cfg := &testConfig{}
	cfg.Server.HTTP.Addr = "127.0.0.1:1"
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Log.Level = "info"
	return cfg
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestKeys(t *testing.T) {
	assert.ElementsMatch(t, []string{
		"server.http.addr",
		"server.http.tls_cert_file",
		"server.shutdown_timeout",
		"log.level",
	}, Keys(&testConfig{}))
	assert.Nil(t, Keys(42))
}

func TestLoader_DefaultsSurvive(t *testing.T) {
	cfg := defaults()
	require.NoError(t, NewLoader(WithEnvPrefix("CONFLOADER_TEST_NONE_")).Load(cfg))
	assert.Equal(t, "127.0.0.1:1", cfg.Server.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoader_FileEnvOverridePriority(t *testing.T) {
	path := writeFile(t, `
server:
  http:
    addr: "0.0.0.0:5080"
    tls_cert_file: "/from/file.pem"
  shutdown_timeout: 10s
log:
  level: warn
`)
	t.Setenv("CLTEST_SERVER_HTTP_TLS_CERT_FILE", "/from/env.pem")
	t.Setenv("CLTEST_LOG_LEVEL", "error")

	cfg := defaults()
	l := NewLoader(
		WithEnvPrefix("CLTEST_"),
		WithConfigFile(path),
		WithOverrides(map[string]any{"log.level": "debug"}),
	)
	require.NoError(t, l.Load(cfg))

	assert.True(t, l.IsLoaded())
	assert.Equal(t, "0.0.0.0:5080", cfg.Server.HTTP.Addr)
	assert.Equal(t, "/from/env.pem", cfg.Server.HTTP.TLSCertFile)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "debug", l.GetString("log.level"))
}

func TestLoader_MissingFile(t *testing.T) {
	err := NewLoader(WithConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))).Load(defaults())
	assert.Error(t, err)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeFile(t, "server: [unclosed")
	err := NewLoader(WithConfigFile(path)).Load(defaults())
	assert.Error(t, err)
}

func TestMapProvider(t *testing.T) {
	m, err := mapProvider{"a.b": 1, "c": "x"}.Read()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1}, "c": "x"}, m)

	_, err = mapProvider{}.ReadBytes()
	assert.ErrorIs(t, err, ErrReadBytesNotSupported)
}
