// Package queue implements MessageQueue (spec §4.1): the single-session
// input buffer feeding a model client. It follows Design Notes §9's mapping
// of the source's async-generator/waiter-list pattern onto an unbounded
// FIFO guarded by a mutex, with a hand-off fast path so a waiting consumer
// never has to round-trip through the buffer.
package queue

import (
	"context"
	"sync"

	"goa.design/agentcore/internal/coreerr"
)

type (
	// Ack is the one-shot completion handle a producer awaits after
	// enqueue. It resolves once the item has been yielded to the
	// consumer (success) or the queue is aborted while the item was
	// still buffered (Aborted error) or flushed by Clear (success,
	// without ever being yielded).
	Ack struct {
		once sync.Once
		err  error
		done chan struct{}
	}

	item struct {
		payload string
		ack     *Ack
	}

	// Queue is a FIFO input buffer for one AgentSession. It is safe to
	// call Enqueue from any goroutine; Next (the stream consumer) must be
	// called from a single goroutine at a time — calling it concurrently
	// is undefined, matching the single-consumer contract in spec §4.1.
	Queue struct {
		sessionID string

		mu      sync.Mutex
		buffer  []item
		waiters []chan *item
		aborted bool
	}
)

func newAck() *Ack { return &Ack{done: make(chan struct{})} }

func (a *Ack) resolve(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// Wait blocks until the ack resolves or ctx is canceled.
func (a *Ack) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New constructs an empty Queue for the given session id.
func New(sessionID string) *Queue {
	return &Queue{sessionID: sessionID}
}

// SessionID returns the id this queue was created with.
func (q *Queue) SessionID() string { return q.sessionID }

// Enqueue appends payload to the queue, or hands it directly to a consumer
// already suspended in Next. It fails with coreerr.Aborted if Abort was
// already called.
func (q *Queue) Enqueue(payload string) (*Ack, error) {
	q.mu.Lock()
	if q.aborted {
		q.mu.Unlock()
		return nil, coreerr.New(coreerr.Aborted, "message queue aborted")
	}
	it := &item{payload: payload, ack: newAck()}
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		q.mu.Unlock()
		w <- it
		return it.ack, nil
	}
	q.buffer = append(q.buffer, *it)
	q.mu.Unlock()
	return it.ack, nil
}

// Next yields the next item in FIFO order, suspending if the buffer is
// empty. It returns ok=false once Abort has drained the queue and no more
// items will ever arrive (end-of-stream), or if ctx is canceled first.
func (q *Queue) Next(ctx context.Context) (payload string, ok bool, err error) {
	q.mu.Lock()
	if len(q.buffer) > 0 {
		it := q.buffer[0]
		q.buffer = q.buffer[1:]
		q.mu.Unlock()
		it.ack.resolve(nil)
		return it.payload, true, nil
	}
	if q.aborted {
		q.mu.Unlock()
		return "", false, nil
	}
	w := make(chan *item, 1)
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case it := <-w:
		if it == nil {
			return "", false, nil
		}
		it.ack.resolve(nil)
		return it.payload, true, nil
	case <-ctx.Done():
		q.cancelWaiter(w)
		return "", false, ctx.Err()
	}
}

// cancelWaiter removes w from the waiter list if nothing was handed to it
// yet. If an item was already handed over concurrently with the ctx
// cancellation, it is pushed back onto the head of the buffer so no enqueue
// is lost and the not-yet-yielded invariant holds.
func (q *Queue) cancelWaiter(w chan *item) {
	q.mu.Lock()
	for i, cand := range q.waiters {
		if cand == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			q.mu.Unlock()
			return
		}
	}
	q.mu.Unlock()

	select {
	case it := <-w:
		if it != nil {
			q.mu.Lock()
			q.buffer = append([]item{*it}, q.buffer...)
			q.mu.Unlock()
		}
	default:
	}
}

// TryNext is the non-blocking variant of Next: it returns ok=false
// immediately if the buffer is empty instead of suspending. It never
// registers a waiter, so it is safe to call from a selection loop that polls
// several queues (see the smartqueue package).
func (q *Queue) TryNext() (payload string, ok bool) {
	q.mu.Lock()
	if len(q.buffer) == 0 {
		q.mu.Unlock()
		return "", false
	}
	it := q.buffer[0]
	q.buffer = q.buffer[1:]
	q.mu.Unlock()
	it.ack.resolve(nil)
	return it.payload, true
}

// Peek returns the head item's payload without removing it.
func (q *Queue) Peek() (payload string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buffer) == 0 {
		return "", false
	}
	return q.buffer[0].payload, true
}

// PushFront inserts payload at the head of the buffer, ahead of anything
// already queued. Used to implement SmartMessageQueue's force-inject.
func (q *Queue) PushFront(payload string) (*Ack, error) {
	q.mu.Lock()
	if q.aborted {
		q.mu.Unlock()
		return nil, coreerr.New(coreerr.Aborted, "message queue aborted")
	}
	it := item{payload: payload, ack: newAck()}
	q.buffer = append([]item{it}, q.buffer...)
	q.mu.Unlock()
	return it.ack, nil
}

// IsAborted reports whether Abort has been called.
func (q *Queue) IsAborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

// Len reports the number of buffered, not-yet-yielded items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}

// Clear drops every buffered item, resolving their acks successfully
// without yielding them to the consumer.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := q.buffer
	q.buffer = nil
	q.mu.Unlock()
	for _, it := range dropped {
		it.ack.resolve(nil)
	}
}

// Abort terminates the queue: buffered acks reject with coreerr.Aborted,
// any suspended Next call returns end-of-stream, and subsequent Enqueue
// calls fail immediately. Abort is idempotent.
func (q *Queue) Abort() {
	q.mu.Lock()
	if q.aborted {
		q.mu.Unlock()
		return
	}
	q.aborted = true
	dropped := q.buffer
	q.buffer = nil
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	abortErr := coreerr.New(coreerr.Aborted, "message queue aborted")
	for _, it := range dropped {
		it.ack.resolve(abortErr)
	}
	for _, w := range waiters {
		w <- nil
	}
}
