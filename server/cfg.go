package server

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/brisk-server/brisk/http1"
	"github.com/brisk-server/brisk/internal/logging"
)

// Config is the YAML-facing server configuration. Size limits accept
// human-readable values ("64KB", "1MB"); zero leaves a limit at its
// default bound and zero timeouts disable them.
type Config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Address is the IP the listeners bind to.
	Address string `yaml:"address"`
	// Port is the TCP port the listeners bind to.
	Port uint16 `yaml:"port"`
	// WorkerCount is the number of worker threads; zero means one per
	// available CPU.
	WorkerCount int64 `yaml:"worker_count"`
	// BacklogSize is the listen backlog of every worker's socket.
	BacklogSize int64 `yaml:"backlog_size"`
	// IdleTimeoutSecs closes connections with no inbound bytes for
	// the interval.
	IdleTimeoutSecs int64 `yaml:"idle_timeout_secs"`
	// RequestTimeoutSecs aborts requests not fully received within
	// the interval.
	RequestTimeoutSecs int64 `yaml:"request_timeout_secs"`
	// Limits bounds the parser's work.
	Limits LimitsConfig `yaml:"limits"`
	// TLS enables and configures the TLS listener.
	TLS TLSConfig `yaml:"tls"`
}

// LimitsConfig carries the parser bounds in config form.
type LimitsConfig struct {
	MaxURLSize           datasize.ByteSize `yaml:"max_url_size"`
	MaxHeaderNameSize    datasize.ByteSize `yaml:"max_header_name_size"`
	MaxHeaderValueSize   datasize.ByteSize `yaml:"max_header_value_size"`
	MaxHeaderLineCount   int64             `yaml:"max_header_line_count"`
	MaxTrailerNameSize   datasize.ByteSize `yaml:"max_trailer_name_size"`
	MaxTrailerValueSize  datasize.ByteSize `yaml:"max_trailer_value_size"`
	MaxTrailerLineCount  int64             `yaml:"max_trailer_line_count"`
	MaxChunkMetadataSize datasize.ByteSize `yaml:"max_chunk_metadata_size"`
	MaxRequestSize       datasize.ByteSize `yaml:"max_request_size"`
	MaxBodySize          datasize.ByteSize `yaml:"max_body_size"`
	MaxConnectionCount   int64             `yaml:"max_connection_count"`
}

// TLSConfig selects the certificate material for TLS listeners.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{Level: zapcore.InfoLevel},
		Address: "127.0.0.1",
		Port:    8080,
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}
	return cfg, nil
}

// Apply validates the configured values through the option layer.
func (c *Config) Apply(opts *http1.Options) error {
	set := func(option http1.Option, value int64) error {
		if !opts.Set(option, value) {
			return fmt.Errorf("invalid configuration: %s", opts.ErrorMessage())
		}
		return nil
	}
	pairs := []struct {
		option http1.Option
		value  int64
	}{
		{http1.WorkerCount, c.WorkerCount},
		{http1.IdleTimeoutInSecs, c.IdleTimeoutSecs},
		{http1.RequestTimeoutInSecs, c.RequestTimeoutSecs},
		{http1.MaxURLSize, int64(c.Limits.MaxURLSize)},
		{http1.MaxHeaderNameSize, int64(c.Limits.MaxHeaderNameSize)},
		{http1.MaxHeaderValueSize, int64(c.Limits.MaxHeaderValueSize)},
		{http1.MaxHeaderLineCount, c.Limits.MaxHeaderLineCount},
		{http1.MaxTrailerNameSize, int64(c.Limits.MaxTrailerNameSize)},
		{http1.MaxTrailerValueSize, int64(c.Limits.MaxTrailerValueSize)},
		{http1.MaxTrailerLineCount, c.Limits.MaxTrailerLineCount},
		{http1.MaxChunkMetadataSize, int64(c.Limits.MaxChunkMetadataSize)},
		{http1.MaxRequestSize, int64(c.Limits.MaxRequestSize)},
		{http1.MaxBodySize, int64(c.Limits.MaxBodySize)},
		{http1.MaxConnectionCount, c.Limits.MaxConnectionCount},
	}
	for _, p := range pairs {
		if p.value == 0 {
			continue
		}
		if err := set(p.option, p.value); err != nil {
			return err
		}
	}
	if c.BacklogSize != 0 {
		if err := set(http1.TCPServerBacklogSize, c.BacklogSize); err != nil {
			return err
		}
	}
	return nil
}
