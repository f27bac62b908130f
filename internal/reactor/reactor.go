// Package reactor drives one worker's event loop. Each worker owns
// exactly one Reactor; every channel, timer and posted completion it
// manages is touched only from that worker's thread. The loop is
// epoll-based with edge-triggered readiness, so consumers must drain
// their descriptors until the transport reports "would block".
package reactor

import (
	"container/heap"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Handler reacts to readiness transitions of one registered
// descriptor.
type Handler interface {
	OnReadable()
	OnWritable()
	OnHangup()
}

// Reactor multiplexes readiness, timers and cross-thread completions
// for one worker.
type Reactor struct {
	epfd   int
	wakeFD int
	log    *zap.SugaredLogger

	handlers map[int]Handler

	mu     sync.Mutex
	posted []func()

	timers   timerHeap
	timerSeq uint64
}

// New creates a reactor with its epoll instance and wake descriptor.
func New(log *zap.SugaredLogger) (*Reactor, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoll instance: %w", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("failed to create wake descriptor: %w", err)
	}
	r := &Reactor{
		epfd:     epfd,
		wakeFD:   wakeFD,
		log:      log,
		handlers: make(map[int]Handler),
	}
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &event); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to register wake descriptor: %w", err)
	}
	return r, nil
}

func eventMask(readable, writable bool) uint32 {
	events := uint32(unix.EPOLLET | unix.EPOLLRDHUP)
	if readable {
		events |= unix.EPOLLIN
	}
	if writable {
		events |= unix.EPOLLOUT
	}
	return events
}

// Register adds fd with the given initial interest.
func (r *Reactor) Register(fd int, h Handler, readable, writable bool) error {
	event := unix.EpollEvent{Events: eventMask(readable, writable), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("failed to register descriptor %d: %w", fd, err)
	}
	r.handlers[fd] = h
	return nil
}

// Modify rearms fd's interest. Called from the channel notification
// callbacks when read or write interest toggles.
func (r *Reactor) Modify(fd int, readable, writable bool) error {
	event := unix.EpollEvent{Events: eventMask(readable, writable), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &event); err != nil {
		return fmt.Errorf("failed to modify descriptor %d: %w", fd, err)
	}
	return nil
}

// Unregister removes fd from the loop.
func (r *Reactor) Unregister(fd int) {
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(r.handlers, fd)
}

// Post schedules fn to run on the reactor thread and wakes the loop.
// It is the only reactor entry point that may be called from other
// goroutines.
func (r *Reactor) Post(fn func()) {
	r.mu.Lock()
	r.posted = append(r.posted, fn)
	r.mu.Unlock()
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	unix.Write(r.wakeFD, one[:])
}

// Run processes readiness events, timers and posted completions until
// ctx is canceled.
func (r *Reactor) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.Post(func() {}) })
	defer stop()

	events := make([]unix.EpollEvent, 128)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.EpollWait(r.epfd, events, r.nextTimeoutMillis())
		if err != nil && err != unix.EINTR {
			return fmt.Errorf("epoll wait failed: %w", err)
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)
			if fd == r.wakeFD {
				var buf [8]byte
				unix.Read(r.wakeFD, buf[:])
				continue
			}
			h, ok := r.handlers[fd]
			if !ok {
				continue
			}
			if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
				h.OnHangup()
				// The handler may have unregistered itself.
				if _, still := r.handlers[fd]; !still {
					continue
				}
			}
			if ev.Events&unix.EPOLLIN != 0 {
				h.OnReadable()
			}
			if _, still := r.handlers[fd]; still && ev.Events&unix.EPOLLOUT != 0 {
				h.OnWritable()
			}
		}
		r.fireDueTimers()
		r.runPosted()
	}
}

// Close releases the loop's descriptors.
func (r *Reactor) Close() {
	unix.Close(r.wakeFD)
	unix.Close(r.epfd)
}

func (r *Reactor) runPosted() {
	r.mu.Lock()
	pending := r.posted
	r.posted = nil
	r.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// Timer is a cancelable deadline registered with the reactor.
type Timer struct {
	deadline time.Time
	seq      uint64
	fn       func()
	stopped  bool
}

// Stop cancels the timer if it has not fired yet.
func (t *Timer) Stop() { t.stopped = true }

// AddTimer schedules fn to run on the reactor thread after d.
func (r *Reactor) AddTimer(d time.Duration, fn func()) *Timer {
	r.timerSeq++
	t := &Timer{deadline: time.Now().Add(d), seq: r.timerSeq, fn: fn}
	heap.Push(&r.timers, t)
	return t
}

func (r *Reactor) nextTimeoutMillis() int {
	for r.timers.Len() > 0 && r.timers[0].stopped {
		heap.Pop(&r.timers)
	}
	if r.timers.Len() == 0 {
		return 1000
	}
	d := time.Until(r.timers[0].deadline)
	if d <= 0 {
		return 0
	}
	ms := int(d / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	return ms
}

func (r *Reactor) fireDueTimers() {
	now := time.Now()
	for r.timers.Len() > 0 {
		next := r.timers[0]
		if next.stopped {
			heap.Pop(&r.timers)
			continue
		}
		if next.deadline.After(now) {
			return
		}
		heap.Pop(&r.timers)
		next.fn()
	}
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*Timer)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
