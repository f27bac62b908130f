package server

import (
	"crypto/tls"

	"go.uber.org/zap"

	"github.com/brisk-server/brisk/http1"
	"github.com/brisk-server/brisk/internal/channel"
	"github.com/brisk-server/brisk/internal/reactor"
	"github.com/brisk-server/brisk/internal/ring"
)

// conn ties one accepted socket to its channel, parser and broker.
// Everything here runs on the owning worker's thread.
type conn struct {
	w    *worker
	fd   int
	sock *channel.Socket
	ch   *channel.IOChannel

	// TLS state; nil for plaintext connections.
	tlsConn   *tls.Conn
	encIn     *ring.Buffer
	encOut    *ring.Buffer
	tlsSource *channel.TLSSource
	tlsSink   *channel.TLSSink

	parser *http1.RequestParser
	broker *Broker

	idleTimer    *reactor.Timer
	requestTimer *reactor.Timer

	requestActive bool
	draining      bool
	closed        bool
}

func newConn(w *worker, fd int) *conn {
	c := &conn{w: w, fd: fd, sock: channel.NewSocket(fd)}
	if w.tlsConfig != nil {
		c.encIn = ring.NewWithScratch(0, w.scratch)
		c.encOut = ring.NewWithScratch(0, w.scratch)
		c.tlsConn = tls.Server(channel.NewRecordConn(c.encIn, c.encOut), w.tlsConfig)
		c.tlsSource = channel.NewTLSSource(c.tlsConn, c.encIn)
		c.tlsSink = channel.NewTLSSink(c.tlsConn)
		c.ch = channel.New(c.tlsSource, c.tlsSink, w.readBufferCapacity, w.scratch)
	} else {
		c.ch = channel.New(c.sock, c.sock, w.readBufferCapacity, w.scratch)
	}
	c.ch.OnReadNotification = func(bool) { c.updateInterest() }
	c.ch.OnWriteNotification = func(bool) { c.updateInterest() }
	c.ch.OnReceivedData = c.onReceivedData
	c.parser = http1.NewRequestParser(c.ch, w.limits)
	c.broker = &Broker{ch: c.ch, fetcher: w.fetcher}
	c.armIdleTimer()
	return c
}

// OnReadable pumps transport bytes towards the parser.
func (c *conn) OnReadable() {
	if c.closed {
		return
	}
	c.armIdleTimer()
	if c.tlsConn != nil {
		// Ciphertext first; the channel then decrypts through its
		// source.
		c.encIn.WriteFrom(c.sock)
	}
	c.ch.ReadFromChannel()
	if c.closed {
		return
	}
	c.flushTransport()
	c.checkTransport()
}

// OnWritable drains buffered output into the socket.
func (c *conn) OnWritable() {
	if c.closed {
		return
	}
	c.flushTransport()
	c.checkTransport()
}

// OnHangup tears the connection down on peer reset.
func (c *conn) OnHangup() {
	if !c.closed {
		// Drain whatever arrived with the hangup before closing.
		c.OnReadable()
	}
	c.close()
}

// onReceivedData runs the parser over newly buffered bytes. It fires
// at most once per reactor cycle.
func (c *conn) onReceivedData() {
	for !c.closed {
		status := c.parser.Parse()
		switch status {
		case http1.ParsedRequest, http1.ParsedBody:
			if !c.requestActive {
				c.requestActive = true
				c.armRequestTimer()
			}
			req := c.parser.Request()
			if status == http1.ParsedBody {
				c.broker.body = append(c.broker.body, req.Body()...)
			}
			if req.IsComplete() {
				c.finishRequest(req)
			}
		case http1.NeedsMoreData:
			if !c.requestActive && c.parser.InProgress() {
				c.requestActive = true
				c.armRequestTimer()
			}
			return
		case http1.Failed:
			status := 400
			if c.parser.Error() == http1.TooBigRequest {
				status = 413
			}
			c.abort(status)
			return
		}
	}
}

// finishRequest dispatches the completed request and resets the
// per-request state. A handler that asked for Connection: close gets
// the connection torn down once the response has drained.
func (c *conn) finishRequest(req *http1.Request) {
	c.requestActive = false
	c.disarmRequestTimer()
	c.broker.req = req
	handler := c.w.routes.match(req.Method(), string(req.Path()))
	if handler == nil {
		c.broker.WriteStatusResponse(404, nil)
	} else {
		c.dispatch(handler, req)
	}
	closeAfter := c.broker.closeAfter
	c.flushTransport()
	c.broker.reset(nil)
	if closeAfter {
		c.closeWhenDrained()
	}
}

// dispatch guards the handler: a panic becomes a 500 and closes the
// connection. A chunked stream the handler left open is terminated.
func (c *conn) dispatch(handler Handler, req *http1.Request) {
	defer func() {
		if r := recover(); r != nil {
			c.w.log.Errorw("handler panicked", zap.Any("panic", r))
			c.abort(500)
		}
	}()
	handler(req, c.broker)
	if c.broker.chunking {
		c.broker.EndChunkedResponse()
	}
	if !c.broker.wroteStatus {
		c.broker.WriteStatusResponse(204, nil)
	}
}

// flushTransport moves pending output towards the socket. For TLS
// connections plaintext is first encrypted into the staging buffer,
// which is then drained.
func (c *conn) flushTransport() {
	if c.closed {
		return
	}
	c.ch.WriteToChannel()
	if c.tlsConn != nil && !c.encOut.IsEmpty() {
		c.encOut.ReadTo(c.sock)
	}
	c.updateInterest()
}

// checkTransport closes the connection on socket or TLS failure and
// on clean EOF once nothing is left to write.
func (c *conn) checkTransport() {
	if c.closed {
		return
	}
	if c.sock.Err() != nil {
		c.close()
		return
	}
	if c.tlsSource != nil && c.tlsSource.Err() != nil {
		c.close()
		return
	}
	if c.tlsSink != nil && c.tlsSink.Err() != nil {
		c.close()
		return
	}
	if c.sock.EOF() && c.outputDrained() {
		c.close()
		return
	}
	if c.draining && c.outputDrained() {
		c.close()
	}
}

func (c *conn) outputDrained() bool {
	return c.ch.DataToWrite() == 0 && (c.encOut == nil || c.encOut.IsEmpty())
}

// closeWhenDrained closes immediately when no output is pending,
// otherwise lets the write path finish first.
func (c *conn) closeWhenDrained() {
	if c.outputDrained() {
		c.close()
		return
	}
	c.draining = true
}

// updateInterest rearms the epoll mask from the channel notification
// flags and the ciphertext backlog.
func (c *conn) updateInterest() {
	if c.closed {
		return
	}
	readable := c.ch.IsReadNotificationEnabled()
	writable := c.ch.IsWriteNotificationEnabled()
	if c.encOut != nil && !c.encOut.IsEmpty() {
		writable = true
	}
	c.w.reactor.Modify(c.fd, readable, writable)
}

// abort responds with an error status through the broker and closes
// the connection.
func (c *conn) abort(status int) {
	if c.closed {
		return
	}
	c.broker.CloseAfterResponse()
	c.broker.WriteStatusResponse(status, nil)
	c.flushTransport()
	c.close()
}

func (c *conn) armIdleTimer() {
	if c.w.idleTimeout <= 0 {
		return
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = c.w.reactor.AddTimer(c.w.idleTimeout, func() { c.onTimeout() })
}

func (c *conn) armRequestTimer() {
	if c.w.requestTimeout <= 0 {
		return
	}
	if c.requestTimer != nil {
		c.requestTimer.Stop()
	}
	c.requestTimer = c.w.reactor.AddTimer(c.w.requestTimeout, func() { c.onTimeout() })
}

func (c *conn) disarmRequestTimer() {
	if c.requestTimer != nil {
		c.requestTimer.Stop()
		c.requestTimer = nil
	}
}

func (c *conn) onTimeout() {
	if c.closed {
		return
	}
	c.abort(408)
}

// close releases the connection's resources and cancels its pending
// host lookups.
func (c *conn) close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.disarmRequestTimer()
	c.broker.cancelLookups()
	c.w.reactor.Unregister(c.fd)
	c.sock.Close()
	c.w.removeConn(c)
}

var _ reactor.Handler = (*conn)(nil)
