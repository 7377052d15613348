package client

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInFlight is returned when a mutation is started while another one on
// the same Optimistic value has not resolved. Nothing is sent in that case.
var ErrInFlight = errors.New("mutation already in flight")

// Optimistic holds a locally displayed value that is changed before the
// server confirms it. At most one mutation runs at a time; a failed mutation
// restores the exact value captured before it started.
type Optimistic[S any] struct {
	mu       sync.Mutex
	state    S
	inFlight bool
	timeout  time.Duration
	onChange func(S)
}

func NewOptimistic[S any](initial S, timeout time.Duration) *Optimistic[S] {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Optimistic[S]{state: initial, timeout: timeout}
}

// OnChange registers fn to be called with every new state. fn runs outside
// the lock and must not block.
func (o *Optimistic[S]) OnChange(fn func(S)) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
}

func (o *Optimistic[S]) Get() S {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Pending reports whether a mutation is in flight.
func (o *Optimistic[S]) Pending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// Update applies a change that did not come from a local mutation, such as
// a live snapshot from the server.
func (o *Optimistic[S]) Update(fn func(S) S) {
	o.mu.Lock()
	o.state = fn(o.state)
	state, notify := o.state, o.onChange
	o.mu.Unlock()
	if notify != nil {
		notify(state)
	}
}

// Mutate applies optimistic immediately, then runs commit. On success the
// settle func returned by commit is applied to the current state. On failure
// the pre-mutation state is restored and the error returned.
//
// commit runs on a context detached from ctx's cancellation and bounded by
// the request timeout: once a write has been sent, the caller giving up does
// not stop local state from settling on the real outcome.
func (o *Optimistic[S]) Mutate(ctx context.Context, optimistic func(S) S, commit func(context.Context, S) (func(S) S, error)) error {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return ErrInFlight
	}
	before := o.state
	o.state = optimistic(before)
	o.inFlight = true
	state, notify := o.state, o.onChange
	o.mu.Unlock()
	if notify != nil {
		notify(state)
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	settle, err := commit(commitCtx, before)
	cancel()

	o.mu.Lock()
	if err != nil {
		o.state = before
	} else if settle != nil {
		o.state = settle(o.state)
	}
	o.inFlight = false
	state, notify = o.state, o.onChange
	o.mu.Unlock()
	if notify != nil {
		notify(state)
	}
	return err
}
