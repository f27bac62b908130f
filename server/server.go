// Package server assembles the HTTP/1.1 runtime: validated options,
// a route table, and N single-threaded workers each owning a reactor,
// a SO_REUSEPORT listener and its connections.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/netip"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brisk-server/brisk/http1"
)

// Server is the embeddable HTTP/1.1 server.
type Server struct {
	log       *zap.SugaredLogger
	opts      *http1.Options
	routes    *router
	tlsConfig *tls.Config

	connCount atomic.Int64
	boundPort atomic.Uint32
}

// New creates a server with default options.
func New(log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		log:    log,
		opts:   http1.NewOptions(),
		routes: newRouter(),
	}
}

// SetOption validates and stores one option value.
func (s *Server) SetOption(option http1.Option, value int64) bool {
	return s.opts.Set(option, value)
}

// ErrorMessage returns the message recorded by the last rejected
// option.
func (s *Server) ErrorMessage() string { return s.opts.ErrorMessage() }

// Options exposes the validated option set, for config binding.
func (s *Server) Options() *http1.Options { return s.opts }

// AddRoute registers a handler for a method and path pattern.
func (s *Server) AddRoute(method http1.Method, pattern string, handler Handler) error {
	return s.routes.add(method, pattern, handler)
}

// SetTLSConfig enables TLS for every listener.
func (s *Server) SetTLSConfig(cfg *tls.Config) { s.tlsConfig = cfg }

// LoadTLSKeyPair enables TLS with the given certificate and key
// files.
func (s *Server) LoadTLSKeyPair(certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	s.SetTLSConfig(&tls.Config{Certificates: []tls.Certificate{cert}})
	return nil
}

// Run binds the listeners and serves until ctx is canceled. The
// worker count is the configured value bounded by the available CPUs,
// with zero meaning one worker per CPU.
func (s *Server) Run(ctx context.Context, address string, port uint16) error {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", address, err)
	}
	workers := int(s.opts.Get(http1.WorkerCount))
	if workers <= 0 || workers > runtime.NumCPU() {
		workers = runtime.NumCPU()
	}
	s.log.Infow("starting server",
		zap.String("address", address),
		zap.Uint16("port", port),
		zap.Int("workers", workers),
		zap.Bool("tls", s.tlsConfig != nil))

	wg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		w := newWorker(s, i, addr, port)
		wg.Go(func() error { return w.run(ctx) })
	}
	err = wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ConnectionCount reports the live connections across all workers.
func (s *Server) ConnectionCount() int64 { return s.connCount.Load() }

// BoundPort reports the port the first worker bound, which differs
// from the requested one only when serving on port zero.
func (s *Server) BoundPort() uint16 { return uint16(s.boundPort.Load()) }
