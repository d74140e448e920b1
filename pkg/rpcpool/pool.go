package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Errors
var ErrNoEndpoints = errors.New("rpcpool: no endpoints configured")

// Health of a single endpoint. An endpoint degrades after one failure and
// recovers on its next success; the pool never blacklists within a session,
// since node outages are usually transient.
type Health int

const (
	Healthy Health = iota
	Degraded
)

// Endpoint is one configured node URL with its failure bookkeeping.
type Endpoint struct {
	URL                 string
	consecutiveFailures int
}

// Health reports the endpoint's current state.
func (e *Endpoint) Health() Health {
	if e.consecutiveFailures > 0 {
		return Degraded
	}
	return Healthy
}

// AllEndpointsFailedError reports that one logical call failed on every
// configured endpoint. Fatal for that call only; the pool stays usable.
type AllEndpointsFailedError struct {
	Errs []error // per-endpoint errors, in try order
}

func (e *AllEndpointsFailedError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("all %d endpoints failed: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *AllEndpointsFailedError) Unwrap() []error {
	return e.Errs
}

// Pool is an ordered set of node URLs with round-robin selection and
// health-gated fail-over. Safe for concurrent use.
type Pool struct {
	mu          sync.Mutex
	endpoints   []*Endpoint
	next        int // index the next logical call starts from
	exhaustions int // consecutive full-pool failures, drives backoff

	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// New builds a pool from node URLs, tried in the given order on the first
// call.
func New(urls []string) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}
	eps := make([]*Endpoint, len(urls))
	for i, u := range urls {
		eps[i] = &Endpoint{URL: u}
	}
	return &Pool{
		endpoints:   eps,
		baseBackoff: 500 * time.Millisecond,
		maxBackoff:  30 * time.Second,
	}, nil
}

// Endpoints returns a snapshot of the configured endpoints.
func (p *Pool) Endpoints() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Endpoint, len(p.endpoints))
	for i, e := range p.endpoints {
		out[i] = *e
	}
	return out
}

// Do runs one logical operation with fail-over: endpoints are tried in
// round-robin order starting after the last successful one, each at most once
// per call. On total exhaustion it returns *AllEndpointsFailedError, and the
// next call waits a jittered backoff first so dead infrastructure is not
// hammered.
func Do[T any](ctx context.Context, p *Pool, op func(ctx context.Context, url string) (T, error)) (T, error) {
	var zero T
	if err := p.waitBackoff(ctx); err != nil {
		return zero, err
	}
	start, n := p.snapshot()
	var errs []error
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		url := p.urlAt(idx)
		v, err := op(ctx, url)
		if err == nil {
			p.markSuccess(idx)
			return v, nil
		}
		p.markFailure(idx)
		errs = append(errs, fmt.Errorf("%s: %w", url, err))
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	p.markExhausted()
	return zero, &AllEndpointsFailedError{Errs: errs}
}

func (p *Pool) snapshot() (start, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next, len(p.endpoints)
}

func (p *Pool) urlAt(i int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[i].URL
}

func (p *Pool) markSuccess(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints[i].consecutiveFailures = 0
	p.next = (i + 1) % len(p.endpoints)
	p.exhaustions = 0
}

func (p *Pool) markFailure(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints[i].consecutiveFailures++
}

func (p *Pool) markExhausted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exhaustions++
}

// waitBackoff sleeps only when the previous logical call exhausted the whole
// pool: capped exponential delay with +-50% jitter.
func (p *Pool) waitBackoff(ctx context.Context) error {
	p.mu.Lock()
	exh := p.exhaustions
	base, limit := p.baseBackoff, p.maxBackoff
	p.mu.Unlock()
	if exh == 0 || base <= 0 {
		return nil
	}
	d := base << (exh - 1)
	if d > limit || d <= 0 {
		d = limit
	}
	jittered := d/2 + time.Duration(rand.Int63n(int64(d)))
	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
