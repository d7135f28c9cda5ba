// Package cancel provides the cancellation token shared between the
// component that starts a run and the engine executing it.
package cancel

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the token's position in NotRequested -> Requested -> Acknowledged
type State int32

const (
	NotRequested State = iota
	Requested
	Acknowledged
)

func (s State) String() string {
	switch s {
	case NotRequested:
		return "not_requested"
	case Requested:
		return "requested"
	case Acknowledged:
		return "acknowledged"
	default:
		return "unknown"
	}
}

// Token is a tri-state flag safe for concurrent use. The zero value is not
// usable; create tokens with NewToken, one per run.
type Token struct {
	state atomic.Int32
	once  sync.Once
	done  chan struct{}
}

// NewToken returns a token in the NotRequested state
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Request asks the holder of the token to stop. It reports whether this call
// moved the token out of NotRequested; repeated calls are no-ops.
func (t *Token) Request() bool {
	if !t.state.CompareAndSwap(int32(NotRequested), int32(Requested)) {
		return false
	}
	t.once.Do(func() { close(t.done) })
	return true
}

// Acknowledge records that no new work will start and in-flight work has
// been terminated. It only has an effect after Request.
func (t *Token) Acknowledge() bool {
	return t.state.CompareAndSwap(int32(Requested), int32(Acknowledged))
}

// State returns the current state
func (t *Token) State() State {
	return State(t.state.Load())
}

// Requested reports whether cancellation was asked for, acknowledged or not
func (t *Token) Requested() bool {
	return t.State() != NotRequested
}

// Done is closed when cancellation is requested
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Context derives a context from parent that is cancelled when the token is
// requested. Callers must call the returned CancelFunc.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
