// Package actor provides a minimal typed-channel worker: the concrete
// realization this module uses in place of the teacher's actor-library
// inheritance hierarchy (see Design Notes §9, "Actor model → typed-channel
// workers"). A Worker owns a mailbox and a single goroutine; every message
// is handled to completion before the next is read, so the entity's state is
// never touched by more than one goroutine at a time.
package actor

import (
	"context"
	"fmt"
)

// Handler processes one message against the worker's mutable state. It
// returns nothing; domain failures are reported by sending a message to
// another worker.
type Handler[M any] func(ctx context.Context, msg M)

// Worker is a single-goroutine, single-mailbox actor.
type Worker[M any] struct {
	mailbox chan M
	done    chan struct{}
}

// NewWorker starts a worker with the given mailbox capacity and handler. The
// handler runs on the worker's own goroutine for the lifetime of the worker;
// call Stop to drain and terminate it.
func NewWorker[M any](ctx context.Context, capacity int, handle Handler[M]) *Worker[M] {
	w := &Worker[M]{
		mailbox: make(chan M, capacity),
		done:    make(chan struct{}),
	}
	go w.loop(ctx, handle)
	return w
}

func (w *Worker[M]) loop(ctx context.Context, handle Handler[M]) {
	defer close(w.done)
	for {
		select {
		case msg, ok := <-w.mailbox:
			if !ok {
				return
			}
			handle(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// Send delivers msg to the worker's mailbox, blocking until accepted, the
// context is canceled, or the worker has stopped.
func (w *Worker[M]) Send(ctx context.Context, msg M) (err error) {
	// After Stop the mailbox is closed and the send below panics.
	defer func() {
		if recover() != nil {
			err = fmt.Errorf("worker stopped")
		}
	}()
	select {
	case w.mailbox <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send canceled: %w", ctx.Err())
	case <-w.done:
		return fmt.Errorf("worker stopped")
	}
}

// Stop closes the mailbox; the worker goroutine drains any buffered
// messages, then exits. Stop does not block until drained — callers that
// need synchronous shutdown should wait on Done.
func (w *Worker[M]) Stop() {
	close(w.mailbox)
}

// Done returns a channel closed once the worker's goroutine has exited.
func (w *Worker[M]) Done() <-chan struct{} {
	return w.done
}
