package loader

import (
	"context"
	"sync"
	"time"

	"github.com/MeKo-Tech/countrymap/internal/overlay"
)

// State is the lifecycle of a single overlay load.
type State int

const (
	Idle State = iota
	Requested
	CompletedSuccess
	CompletedFailure
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requested:
		return "requested"
	case CompletedSuccess:
		return "completed_success"
	case CompletedFailure:
		return "completed_failure"
	default:
		return "unknown"
	}
}

// Terminal reports whether the request has completed.
func (s State) Terminal() bool {
	return s == CompletedSuccess || s == CompletedFailure
}

// Request tracks one asynchronous overlay load. It reaches a terminal state
// exactly once, after which Done is closed.
type Request struct {
	ID  string
	URL string

	mu       sync.Mutex
	state    State
	err      error
	stats    overlay.MergeStats
	attempts int
	started  time.Time
	finished time.Time
	done     chan struct{}
}

func newRequest(id, url string) *Request {
	return &Request{ID: id, URL: url, done: make(chan struct{})}
}

// Done is closed when the request completes.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request completes and returns its error, or returns the
// context error if ctx ends first.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the failure, or nil while pending and after success.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stats returns what the merge did. It is zero unless the request succeeded.
func (r *Request) Stats() overlay.MergeStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Attempts returns the number of HTTP attempts made so far.
func (r *Request) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Duration returns how long the request took, or has taken so far.
func (r *Request) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started.IsZero() {
		return 0
	}
	if r.finished.IsZero() {
		return time.Since(r.started)
	}
	return r.finished.Sub(r.started)
}

func (r *Request) start() {
	r.mu.Lock()
	r.state = Requested
	r.started = time.Now()
	r.mu.Unlock()
}

func (r *Request) setAttempts(n int) {
	r.mu.Lock()
	r.attempts = n
	r.mu.Unlock()
}

// complete moves the request to its terminal state. Only the first call counts.
func (r *Request) complete(stats overlay.MergeStats, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return false
	}
	if err != nil {
		r.state = CompletedFailure
		r.err = err
	} else {
		r.state = CompletedSuccess
		r.stats = stats
	}
	r.finished = time.Now()
	close(r.done)
	return true
}
