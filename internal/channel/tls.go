package channel

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	"github.com/brisk-server/brisk/internal/ring"
)

// ErrWantRead signals that the record layer needs more ciphertext
// before it can make progress. It is a retry indication, never a
// failure: an empty ciphertext buffer must not look like EOF or a
// short-read error to the TLS library.
var ErrWantRead = errors.New("channel: want read")

// RecordConn is the transport the TLS library runs on. Inbound
// ciphertext is staged in the encrypted-in ring buffer by the reactor;
// outbound records are appended to the encrypted-out ring buffer and
// drained to the socket on write readiness. Both buffers are owned by
// the same worker as the channel, so no locking is involved.
type RecordConn struct {
	encIn  *ring.Buffer
	encOut *ring.Buffer
}

// NewRecordConn builds the record transport over the two ciphertext
// staging buffers.
func NewRecordConn(encIn, encOut *ring.Buffer) *RecordConn {
	return &RecordConn{encIn: encIn, encOut: encOut}
}

// Read hands buffered ciphertext to the TLS library. An empty buffer
// yields ErrWantRead; EOF is never synthesized here.
func (c *RecordConn) Read(p []byte) (int, error) {
	if c.encIn.IsEmpty() {
		return 0, ErrWantRead
	}
	return c.encIn.Read(p), nil
}

// Write stages an outbound record. The encrypted-out buffer is
// unbounded, so records are always accepted whole.
func (c *RecordConn) Write(p []byte) (int, error) {
	return c.encOut.Write(p), nil
}

// Pending returns the ciphertext bytes waiting to be consumed.
func (c *RecordConn) Pending() int { return c.encIn.Size() }

func (c *RecordConn) Close() error                     { return nil }
func (c *RecordConn) LocalAddr() net.Addr              { return recordAddr{} }
func (c *RecordConn) RemoteAddr() net.Addr             { return recordAddr{} }
func (c *RecordConn) SetDeadline(time.Time) error      { return nil }
func (c *RecordConn) SetReadDeadline(time.Time) error  { return nil }
func (c *RecordConn) SetWriteDeadline(time.Time) error { return nil }

type recordAddr struct{}

func (recordAddr) Network() string { return "ring" }
func (recordAddr) String() string  { return "ring" }

// TLSSource decrypts staged ciphertext into the channel's plaintext
// read buffer. DataAvailable intentionally reports the ciphertext
// size: the amount of plaintext a record set decrypts to is unknown
// until the records are processed, and the read buffer grows on demand
// anyway.
type TLSSource struct {
	conn  *tls.Conn
	encIn *ring.Buffer
	err   error
	eof   bool
}

// NewTLSSource wraps the TLS session and its ciphertext inbox.
func NewTLSSource(conn *tls.Conn, encIn *ring.Buffer) *TLSSource {
	return &TLSSource{conn: conn, encIn: encIn}
}

// Err returns the first decryption failure observed, if any.
func (s *TLSSource) Err() error { return s.err }

// EOF reports whether the peer sent close_notify.
func (s *TLSSource) EOF() bool { return s.eof }

// DataAvailable returns the staged ciphertext size.
func (s *TLSSource) DataAvailable() int { return s.encIn.Size() }

// Read decrypts as much plaintext as the staged records yield, up to
// len(p). Running out of ciphertext mid-record is a retry, not an
// error.
func (s *TLSSource) Read(p []byte) int {
	if len(p) == 0 || s.err != nil || s.eof {
		return 0
	}
	total := 0
	for total < len(p) {
		n, err := s.conn.Read(p[total:])
		total += n
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, ErrWantRead):
		case errors.Is(err, io.EOF):
			s.eof = true
		default:
			s.err = err
		}
		return total
	}
	return total
}

// TLSSink encrypts plaintext into the encrypted-out staging buffer.
type TLSSink struct {
	conn *tls.Conn
	err  error
}

// NewTLSSink wraps the TLS session for the write path.
func NewTLSSink(conn *tls.Conn) *TLSSink {
	return &TLSSink{conn: conn}
}

// Err returns the first encryption failure observed, if any.
func (s *TLSSink) Err() error { return s.err }

// Write encrypts p. The staging buffer is unbounded, so the record
// layer accepts everything unless the session itself failed.
func (s *TLSSink) Write(p []byte) int {
	if len(p) == 0 || s.err != nil {
		return 0
	}
	n, err := s.conn.Write(p)
	if err != nil && !errors.Is(err, ErrWantRead) {
		s.err = err
	}
	return n
}
