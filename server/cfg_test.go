package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/brisk-server/brisk/http1"
	"github.com/brisk-server/brisk/internal/logging"
)

func Test_LoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
address: 0.0.0.0
port: 9090
worker_count: 2
idle_timeout_secs: 60
limits:
  max_url_size: 4KB
  max_request_size: 1MB
  max_connection_count: 1000
tls:
  enabled: true
  cert_file: /certs/cert.crt
  key_file: /certs/cert.key
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.Logging = logging.Config{Level: zapcore.DebugLevel}
	want.Address = "0.0.0.0"
	want.Port = 9090
	want.WorkerCount = 2
	want.IdleTimeoutSecs = 60
	want.Limits.MaxURLSize = 4 * datasize.KB
	want.Limits.MaxRequestSize = datasize.MB
	want.Limits.MaxConnectionCount = 1000
	want.TLS = TLSConfig{Enabled: true, CertFile: "/certs/cert.crt", KeyFile: "/certs/cert.key"}

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_LoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func Test_ConfigApply(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerCount = 1
	cfg.IdleTimeoutSecs = 30
	cfg.Limits.MaxURLSize = 2 * datasize.KB

	opts := http1.NewOptions()
	require.NoError(t, cfg.Apply(opts))
	assert.Equal(t, int64(1), opts.Get(http1.WorkerCount))
	assert.Equal(t, int64(30), opts.Get(http1.IdleTimeoutInSecs))
	assert.Equal(t, int64(2048), opts.Get(http1.MaxURLSize))
}

func Test_ConfigApplyRejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerCount = 1 << 20

	opts := http1.NewOptions()
	err := cfg.Apply(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker count")
}
