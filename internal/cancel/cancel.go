// Package cancel provides the cooperative-cancellation primitive shared
// between the relay client, network manager, and lifecycle orchestrator.
//
// Go already has context.Context for tree-shaped cancellation, but several
// places in this runtime need the inverse relationship: a *consumer* of a
// result wants to tell the *producer* "give up, I'm no longer listening"
// without the producer having handed out a context up front (e.g. a relay
// join that was submitted through a request queue). CancelToken/Canceler
// model that edge directly.
package cancel

import (
	"context"
	"errors"
	"sync"
)

// ErrCanceled is returned by Bind when the associated Canceler was invoked
// before the bound work finished.
var ErrCanceled = errors.New("cancel: canceled")

// CancelToken resolves (via Done) when its paired Canceler is invoked. A
// Canceler that is discarded without being invoked never resolves it:
// Cancel() is the only path that closes it, so callers must always eventually call Cancel
// (typically via defer) to release resources even in the non-cancellation
// case.
type CancelToken struct {
	done chan struct{}
}

// Canceler is the write side of a CancelToken. Calling Cancel is idempotent.
type Canceler struct {
	once sync.Once
	done chan struct{}
}

// New creates a bound CancelToken/Canceler pair.
func New() (*CancelToken, *Canceler) {
	done := make(chan struct{})
	return &CancelToken{done: done}, &Canceler{done: done}
}

// Done returns a channel closed when the token is canceled.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Canceled reports whether the token has already been canceled.
func (t *CancelToken) Canceled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Bind races the token against fn, returning fn's result if fn finishes
// first, or ErrCanceled if the token fires first.
func Bind[T any](ctx context.Context, t *CancelToken, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		val, err := fn(ctx)
		resultCh <- result{val, err}
	}()

	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-t.Done():
		var zero T
		return zero, ErrCanceled
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel fires the token. Safe to call more than once or concurrently.
func (c *Canceler) Cancel() {
	c.once.Do(func() { close(c.done) })
}

// HasEnded reports whether Cancel has already been called.
func (c *Canceler) HasEnded() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// SharedCanceler lets multiple owners hold a handle to the same underlying
// Canceler and have any one of them cancel it.
type SharedCanceler struct {
	mu       sync.Mutex
	canceler *Canceler
}

// NewSharedCanceler wraps an existing Canceler for shared cancellation.
func NewSharedCanceler(c *Canceler) *SharedCanceler {
	return &SharedCanceler{canceler: c}
}

// Cancel invokes the wrapped Canceler, if one is still installed, and clears
// it so a later Cancel call is a no-op.
func (s *SharedCanceler) Cancel() {
	s.mu.Lock()
	c := s.canceler
	s.canceler = nil
	s.mu.Unlock()
	if c != nil {
		c.Cancel()
	}
}

// CancelableSender is the send side of a channel whose receiver abandoning
// it (calling CancelableReceiver.Abandon) cancels the sender's in-flight work.
type CancelableSender[T any] struct {
	ch    chan T
	token *CancelToken
}

// CancelableReceiver is the receive side; Wait blocks for either a value or
// its ctx being done, and never returns ErrCanceled.
type CancelableReceiver[T any] struct {
	ch       chan T
	canceler *Canceler
}

// Channel creates a paired CancelableSender/CancelableReceiver. Discarding
// the receiver has no automatic effect; callers that want "abandon means
// cancel" semantics must call CancelableReceiver.Abandon explicitly instead
// of just dropping it.
func Channel[T any]() (*CancelableSender[T], *CancelableReceiver[T]) {
	token, canceler := New()
	ch := make(chan T, 1)
	return &CancelableSender[T]{ch: ch, token: token},
		&CancelableReceiver[T]{ch: ch, canceler: canceler}
}

// Send delivers a value to the receiver, unless the receiver has already
// been abandoned, in which case the value is dropped silently.
func (s *CancelableSender[T]) Send(v T) {
	select {
	case <-s.token.Done():
	case s.ch <- v:
	}
}

// Token exposes the cancellation token bound to this sender, so a resend
// loop or similar background task can select on it alongside its own work.
func (s *CancelableSender[T]) Token() *CancelToken {
	return s.token
}

// Wait blocks for a value from the sender, or until ctx is done.
func (r *CancelableReceiver[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-r.ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Abandon cancels the sender's token, signaling that no one is waiting on
// this receiver any longer.
func (r *CancelableReceiver[T]) Abandon() {
	r.canceler.Cancel()
}
