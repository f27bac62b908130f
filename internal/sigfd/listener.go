// Package sigfd funnels process signals into a file descriptor so the
// reactor can treat signal delivery like any other readiness event.
// Signals are blocked on every worker thread; only the signalfd sees
// them.
package sigfd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// siginfoSize is the fixed size of one signalfd_siginfo record.
const siginfoSize = 128

// ErrAlreadyCreated is returned when a second Listener is constructed
// in the same process.
var ErrAlreadyCreated = errors.New("sigfd: listener already created in this process")

var created atomic.Bool

// Listener owns the process signalfd. Exactly one instance may exist
// per process; construction of a second one fails.
type Listener struct {
	fd int

	// OnSignal is invoked once per drained signal record.
	OnSignal func(signo int)
}

// NewListener blocks all signals on the calling thread and opens a
// non-blocking signalfd for the listed signals. Unlisted signals stay
// blocked and are never delivered anywhere.
func NewListener(signals ...unix.Signal) (*Listener, error) {
	if !created.CompareAndSwap(false, true) {
		return nil, ErrAlreadyCreated
	}
	if err := BlockSignalsOnCurrentThread(); err != nil {
		return nil, err
	}
	var mask unix.Sigset_t
	for _, signo := range signals {
		sigaddset(&mask, signo)
	}
	fd, err := unix.Signalfd(-1, &mask, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create signal file descriptor: %w", err)
	}
	return &Listener{fd: fd}, nil
}

// FD returns the descriptor to register with the reactor for
// readability.
func (l *Listener) FD() int { return l.fd }

// Drain reads every pending signal record and emits OnSignal for each.
func (l *Listener) Drain() {
	var buf [siginfoSize]byte
	for {
		n, err := unix.Read(l.fd, buf[:])
		if n != siginfoSize || err != nil {
			return
		}
		if l.OnSignal != nil {
			signo := int(binary.LittleEndian.Uint32(buf[0:4]))
			l.OnSignal(signo)
		}
	}
}

// Close releases the signalfd.
func (l *Listener) Close() error { return unix.Close(l.fd) }

// BlockSignalsOnCurrentThread masks every signal for the calling
// thread. Worker threads call this right after locking themselves to
// an OS thread so that only the signalfd observes deliveries.
func BlockSignalsOnCurrentThread() error {
	var all unix.Sigset_t
	for i := range all.Val {
		all.Val[i] = ^uint64(0)
	}
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &all, nil); err != nil {
		return fmt.Errorf("failed to change signal mask for thread: %w", err)
	}
	return nil
}

func sigaddset(mask *unix.Sigset_t, signo unix.Signal) {
	bit := uint(signo) - 1
	mask.Val[bit/64] |= 1 << (bit % 64)
}
