package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/netip"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/brisk-server/brisk/http1"
	"github.com/brisk-server/brisk/internal/hostaddr"
	"github.com/brisk-server/brisk/internal/reactor"
	"github.com/brisk-server/brisk/internal/ring"
	"github.com/brisk-server/brisk/internal/sigfd"
)

// worker owns one OS thread, one reactor, one listening socket and
// the connections accepted on it. Connections never migrate between
// workers.
type worker struct {
	id     int
	server *Server
	log    *zap.SugaredLogger

	address netip.Addr
	port    uint16
	backlog int

	reactor *reactor.Reactor
	scratch *ring.Scratch
	fetcher *hostaddr.Fetcher

	routes    *router
	tlsConfig *tls.Config
	limits    http1.Limits

	readBufferCapacity int
	idleTimeout        time.Duration
	requestTimeout     time.Duration
	maxConns           int64

	listenFD int
	conns    map[int]*conn
}

func newWorker(s *Server, id int, address netip.Addr, port uint16) *worker {
	return &worker{
		id:             id,
		server:         s,
		log:            s.log.With(zap.Int("worker", id)),
		address:        address,
		port:           port,
		backlog:        int(s.opts.Get(http1.TCPServerBacklogSize)),
		scratch:        &ring.Scratch{},
		routes:         s.routes,
		tlsConfig:      s.tlsConfig,
		limits:         s.opts.RequestLimits(),
		idleTimeout:    time.Duration(s.opts.Get(http1.IdleTimeoutInSecs)) * time.Second,
		requestTimeout: time.Duration(s.opts.Get(http1.RequestTimeoutInSecs)) * time.Second,
		maxConns:       s.opts.Get(http1.MaxConnectionCount),
		conns:          make(map[int]*conn),
	}
}

// run pins the worker to an OS thread, blocks signal delivery on it
// and drives the reactor until the context is canceled.
func (w *worker) run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := sigfd.BlockSignalsOnCurrentThread(); err != nil {
		return err
	}

	r, err := reactor.New(w.log)
	if err != nil {
		return err
	}
	w.reactor = r
	defer r.Close()
	w.fetcher = hostaddr.New(r.Post, w.log)

	fd, err := listenSocket(w.address, w.port, w.backlog)
	if err != nil {
		return err
	}
	w.listenFD = fd
	defer unix.Close(fd)
	if w.port == 0 {
		if sa, err := unix.Getsockname(fd); err == nil {
			switch bound := sa.(type) {
			case *unix.SockaddrInet4:
				w.port = uint16(bound.Port)
			case *unix.SockaddrInet6:
				w.port = uint16(bound.Port)
			}
		}
	}
	w.server.boundPort.CompareAndSwap(0, uint32(w.port))

	if err := r.Register(fd, &acceptHandler{w: w}, true, false); err != nil {
		return err
	}
	w.log.Infow("worker listening", zap.String("address", w.address.String()), zap.Uint16("port", w.port))

	err = r.Run(ctx)
	for _, c := range w.conns {
		c.close()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *worker) removeConn(c *conn) {
	delete(w.conns, c.fd)
	w.server.connCount.Add(-1)
}

// acceptHandler drains the listening socket on readability.
type acceptHandler struct {
	w *worker
}

func (h *acceptHandler) OnReadable() {
	w := h.w
	for {
		fd, _, err := unix.Accept4(w.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EAGAIN {
			return
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			w.log.Warnw("accept failed", zap.Error(err))
			return
		}
		if w.maxConns > 0 && w.server.connCount.Load() >= w.maxConns {
			unix.Close(fd)
			continue
		}
		w.server.connCount.Add(1)
		c := newConn(w, fd)
		w.conns[fd] = c
		if err := w.reactor.Register(fd, c, true, true); err != nil {
			w.log.Warnw("failed to register connection", zap.Error(err))
			c.close()
		}
	}
}

func (h *acceptHandler) OnWritable() {}
func (h *acceptHandler) OnHangup()   {}

// listenSocket opens a non-blocking SO_REUSEPORT listener so every
// worker binds the same address and the kernel spreads accepts.
func listenSocket(address netip.Addr, port uint16, backlog int) (int, error) {
	domain := unix.AF_INET
	if address.Is6() {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to create listening socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to set SO_REUSEPORT: %w", err)
	}
	var sa unix.Sockaddr
	if address.Is6() {
		sa6 := &unix.SockaddrInet6{Port: int(port)}
		sa6.Addr = address.As16()
		sa = sa6
	} else {
		sa4 := &unix.SockaddrInet4{Port: int(port)}
		sa4.Addr = address.As4()
		sa = sa4
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to bind %s:%d: %w", address, port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to listen on %s:%d: %w", address, port, err)
	}
	return fd, nil
}
