package channel

import (
	"golang.org/x/sys/unix"
)

// Socket adapts a non-blocking connected socket to the DataSource and
// DataSink capabilities. Reads and writes never block: EAGAIN maps to
// zero bytes moved, any other failure latches into Err and also maps
// to zero so the owner can tear the connection down.
type Socket struct {
	fd  int
	err error
	eof bool
}

// NewSocket wraps an already non-blocking socket file descriptor.
func NewSocket(fd int) *Socket { return &Socket{fd: fd} }

// FD returns the underlying descriptor.
func (s *Socket) FD() int { return s.fd }

// Err returns the first transport failure observed, if any.
func (s *Socket) Err() error { return s.err }

// EOF reports whether the peer closed its write side.
func (s *Socket) EOF() bool { return s.eof }

// DataAvailable returns the bytes queued in the kernel receive buffer.
func (s *Socket) DataAvailable() int {
	n, err := unix.IoctlGetInt(s.fd, unix.TIOCINQ)
	if err != nil {
		return 0
	}
	return n
}

// Read drains up to len(p) bytes from the socket.
func (s *Socket) Read(p []byte) int {
	if len(p) == 0 || s.err != nil || s.eof {
		return 0
	}
	n, err := unix.Read(s.fd, p)
	switch {
	case n > 0:
		return n
	case n == 0 && err == nil:
		s.eof = true
		return 0
	case err == unix.EAGAIN || err == unix.EINTR:
		return 0
	default:
		s.err = err
		return 0
	}
}

// Write pushes up to len(p) bytes into the socket.
func (s *Socket) Write(p []byte) int {
	if len(p) == 0 || s.err != nil {
		return 0
	}
	total := 0
	for total < len(p) {
		n, err := unix.Write(s.fd, p[total:])
		if n > 0 {
			total += n
			continue
		}
		if err == unix.EAGAIN || err == unix.EINTR {
			break
		}
		if err != nil {
			s.err = err
		}
		break
	}
	return total
}

// Close releases the descriptor.
func (s *Socket) Close() error { return unix.Close(s.fd) }
