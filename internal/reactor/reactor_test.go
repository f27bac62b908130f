package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type pipeHandler struct {
	fd       int
	readable chan struct{}
	hangup   chan struct{}
}

func (h *pipeHandler) OnReadable() {
	var buf [64]byte
	for {
		n, err := unix.Read(h.fd, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	select {
	case h.readable <- struct{}{}:
	default:
	}
}

func (h *pipeHandler) OnWritable() {}

func (h *pipeHandler) OnHangup() {
	select {
	case h.hangup <- struct{}{}:
	default:
	}
}

func startReactor(t *testing.T) (*Reactor, context.CancelFunc, chan error) {
	t.Helper()
	r, err := New(nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
		r.Close()
	})
	return r, cancel, done
}

func Test_ReactorDispatchesReadability(t *testing.T) {
	r, _, _ := startReactor(t)

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	h := &pipeHandler{fd: fds[0], readable: make(chan struct{}, 1), hangup: make(chan struct{}, 1)}
	r.Post(func() {
		if err := r.Register(fds[0], h, true, false); err != nil {
			t.Error(err)
		}
	})

	time.Sleep(50 * time.Millisecond)
	unix.Write(fds[1], []byte("ping"))

	select {
	case <-h.readable:
	case <-time.After(2 * time.Second):
		t.Fatal("readability was not dispatched")
	}
}

func Test_ReactorRunsPostedFunctions(t *testing.T) {
	r, _, _ := startReactor(t)

	ran := make(chan struct{})
	r.Post(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("posted function did not run")
	}
}

func Test_ReactorTimerFires(t *testing.T) {
	r, _, _ := startReactor(t)

	fired := make(chan time.Time, 1)
	start := time.Now()
	r.Post(func() {
		r.AddTimer(50*time.Millisecond, func() { fired <- time.Now() })
	})

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 50*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func Test_ReactorStoppedTimerDoesNotFire(t *testing.T) {
	r, _, _ := startReactor(t)

	fired := make(chan struct{}, 1)
	r.Post(func() {
		timer := r.AddTimer(50*time.Millisecond, func() { fired <- struct{}{} })
		timer.Stop()
	})

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(300 * time.Millisecond):
	}
}

func Test_ReactorStopsOnCancel(t *testing.T) {
	_, cancel, done := startReactor(t)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not stop")
	}
}
