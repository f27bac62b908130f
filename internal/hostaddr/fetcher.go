// Package hostaddr resolves host names for the worker that owns the
// fetcher. Concurrent lookups for the same host are coalesced into a
// single resolution whose result fans out to every registered
// receiver. All bookkeeping is single-threaded: only the resolution
// itself runs on a helper goroutine, and its result is posted back to
// the owning worker.
package hostaddr

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Callback receives the resolved addresses for a lookup. The address
// list is empty when resolution failed.
type Callback func(addresses []string, token any)

// Receiver identifies one registration so it can be removed even from
// within a sibling receiver's callback.
type Receiver uint64

// lookupAttempts bounds how many attempts, the first one included, a
// transiently failing resolution gets before the (empty) result is
// delivered.
const lookupAttempts = 3

type registration struct {
	id    Receiver
	cb    Callback
	token any
}

type lookup struct {
	receivers []registration
}

// Fetcher coalesces host lookups for one worker. A nil *Fetcher is
// valid: callbacks are then invoked synchronously with an empty
// address list.
type Fetcher struct {
	post   func(fn func())
	lookup func(ctx context.Context, host string) ([]string, error)
	log    *zap.SugaredLogger

	nextReceiver      Receiver
	lookups           map[string]*lookup
	informing         bool
	hostBeingInformed string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLookupFunc replaces the resolver backend.
func WithLookupFunc(fn func(ctx context.Context, host string) ([]string, error)) Option {
	return func(f *Fetcher) { f.lookup = fn }
}

// New creates a fetcher whose completions are delivered through post,
// which must schedule the function onto the owning worker.
func New(post func(fn func()), log *zap.SugaredLogger, opts ...Option) *Fetcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	f := &Fetcher{
		post:    post,
		lookup:  net.DefaultResolver.LookupHost,
		log:     log,
		lookups: make(map[string]*lookup),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// AddHostLookup registers a receiver for the resolution of host. If a
// lookup for host is already outstanding the receiver joins it;
// otherwise a new resolution starts. Every registration is called
// back exactly once.
func (f *Fetcher) AddHostLookup(host string, cb Callback, token any) Receiver {
	if f == nil {
		cb(nil, token)
		return 0
	}
	if host == "" || cb == nil {
		return 0
	}
	f.nextReceiver++
	reg := registration{id: f.nextReceiver, cb: cb, token: token}
	if lk, ok := f.lookups[host]; ok {
		lk.receivers = append(lk.receivers, reg)
		return reg.id
	}
	f.lookups[host] = &lookup{receivers: []registration{reg}}
	go f.resolve(host)
	return reg.id
}

// RemoveHostLookup drops a pending receiver. It is safe to call from
// within a callback for a sibling receiver of the same host: the
// in-flight delivery keeps the host entry alive until the drain
// finishes even if every receiver is removed.
func (f *Fetcher) RemoveHostLookup(host string, r Receiver) {
	if f == nil {
		return
	}
	lk, ok := f.lookups[host]
	if !ok {
		return
	}
	for i := range lk.receivers {
		if lk.receivers[i].id == r {
			lk.receivers = append(lk.receivers[:i], lk.receivers[i+1:]...)
			break
		}
	}
	if len(lk.receivers) == 0 && !(f.informing && f.hostBeingInformed == host) {
		delete(f.lookups, host)
	}
}

// ReceiverCount returns the pending receivers for host.
func (f *Fetcher) ReceiverCount(host string) int {
	if f == nil {
		return 0
	}
	if lk, ok := f.lookups[host]; ok {
		return len(lk.receivers)
	}
	return 0
}

// resolve runs on a helper goroutine and retries transient failures
// under exponential backoff before posting the result back to the
// owning worker.
func (f *Fetcher) resolve(host string) {
	bo := backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         time.Second,
	}
	bo.Reset()
	var addresses []string
	for attempt := 0; attempt < lookupAttempts; attempt++ {
		resolved, err := f.lookup(context.Background(), host)
		if err == nil {
			addresses = resolved
			break
		}
		var dnsErr *net.DNSError
		retryable := errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout)
		if !retryable || attempt == lookupAttempts-1 {
			f.log.Debugw("host lookup failed", zap.String("host", host), zap.Error(err))
			break
		}
		time.Sleep(bo.NextBackOff())
	}
	f.post(func() { f.deliver(host, addresses) })
}

// deliver drains the receiver list one by one on the owning worker.
// The informing latch keeps the entry alive while callbacks run so
// removals from inside a callback cannot destroy it mid-drain.
func (f *Fetcher) deliver(host string, addresses []string) {
	lk, ok := f.lookups[host]
	if !ok {
		return
	}
	f.informing = true
	f.hostBeingInformed = host
	for len(lk.receivers) > 0 {
		reg := lk.receivers[0]
		lk.receivers = lk.receivers[1:]
		reg.cb(addresses, reg.token)
	}
	delete(f.lookups, host)
	f.hostBeingInformed = ""
	f.informing = false
}
