// Package gate provides the two one-shot signals the lock scenarios use to
// force an interleaving between actors: a StartGate a producer opens once it
// reaches a state, and a ShutdownLatch that releases a holder.
//
// Both are backed by a channel that is closed exactly once. The closed channel
// is the predicate itself, so a waiter can never observe a wakeup without the
// condition being true. The zero value of either type is ready to use.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInterrupted is returned when a wait ends because its context did.
var ErrInterrupted = errors.New("wait interrupted")

type signal struct {
	mu   sync.Mutex
	ch   chan struct{}
	once sync.Once
}

func (s *signal) done() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

func (s *signal) fire() {
	s.once.Do(func() { close(s.done()) })
}

func (s *signal) fired() bool {
	select {
	case <-s.done():
		return true
	default:
		return false
	}
}

func (s *signal) wait(ctx context.Context) error {
	select {
	case <-s.done():
		return nil
	case <-ctx.Done():
		// a signal that raced the cancellation still counts
		if s.fired() {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
}

// StartGate lets any number of waiters block until Signal is called. Once
// signaled it stays signaled.
type StartGate struct {
	s signal
}

// Signal opens the gate. Calling it again is a no-op.
func (g *StartGate) Signal() { g.s.fire() }

// Wait blocks until the gate is open or ctx is done.
func (g *StartGate) Wait(ctx context.Context) error { return g.s.wait(ctx) }

func (g *StartGate) Signaled() bool { return g.s.fired() }

// Done is closed when the gate opens.
func (g *StartGate) Done() <-chan struct{} { return g.s.done() }

// ShutdownLatch holds a holder in Wait until someone calls Release.
type ShutdownLatch struct {
	s signal
}

// Release lets the holder go. Calling it again is a no-op.
func (l *ShutdownLatch) Release() { l.s.fire() }

// Wait blocks until Release is called or ctx is done.
func (l *ShutdownLatch) Wait(ctx context.Context) error { return l.s.wait(ctx) }

func (l *ShutdownLatch) Released() bool { return l.s.fired() }

// Done is closed on release.
func (l *ShutdownLatch) Done() <-chan struct{} { return l.s.done() }
