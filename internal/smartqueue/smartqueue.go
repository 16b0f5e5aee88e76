// Package smartqueue implements SmartMessageQueue (spec §4.2): a priority +
// auto-injection wrapper around three band queue.Queue instances. Ordering
// within a band is FIFO by construction (each band is its own queue.Queue);
// ordering across bands is enforced by the selection rule in Next.
package smartqueue

import (
	"context"
	"sync"

	"goa.design/agentcore/internal/queue"
)

// Priority is one of the three input bands.
type Priority int

const (
	Urgent Priority = iota
	Normal
	Todo
)

// InjectionRule synthesizes a prompt ahead of the NORMAL band head when
// Trigger matches it. The rule set is fixed at construction (spec §4.2).
type InjectionRule struct {
	Trigger func(nextPayload string) bool
	Payload string
}

// Queue is the priority + auto-inject MessageQueue wrapper.
type Queue struct {
	urgent *queue.Queue
	normal *queue.Queue
	todo   *queue.Queue
	rules  []InjectionRule

	mu              sync.Mutex
	injectedForHead bool
	notify          chan struct{}
}

// New constructs a SmartMessageQueue for sessionID with the given fixed set
// of injection rules.
func New(sessionID string, rules []InjectionRule) *Queue {
	return &Queue{
		urgent: queue.New(sessionID + "#urgent"),
		normal: queue.New(sessionID + "#normal"),
		todo:   queue.New(sessionID + "#todo"),
		rules:  rules,
		notify: make(chan struct{}),
	}
}

// Enqueue appends payload to the given priority band.
func (q *Queue) Enqueue(p Priority, payload string) (*queue.Ack, error) {
	var ack *queue.Ack
	var err error
	switch p {
	case Urgent:
		ack, err = q.urgent.Enqueue(payload)
	case Todo:
		ack, err = q.todo.Enqueue(payload)
	default:
		ack, err = q.normal.Enqueue(payload)
	}
	if err == nil {
		q.wake()
	}
	return ack, err
}

// ForceInject places payload at the head of URGENT regardless of any
// in-flight selection state.
func (q *Queue) ForceInject(payload string) (*queue.Ack, error) {
	ack, err := q.urgent.PushFront(payload)
	if err == nil {
		q.wake()
	}
	return ack, err
}

// Next applies the §4.2 selection rule: URGENT head, else a matching
// NORMAL-band injection, else the NORMAL head, else the TODO head, else
// suspend until something changes.
func (q *Queue) Next(ctx context.Context) (payload string, ok bool, err error) {
	for {
		if p, ok := q.urgent.TryNext(); ok {
			q.resetInjectionState()
			return p, true, nil
		}
		if head, ok := q.normal.Peek(); ok {
			if inject, found := q.matchInjection(head); found {
				return inject, true, nil
			}
			p, _ := q.normal.TryNext()
			q.resetInjectionState()
			return p, true, nil
		}
		if p, ok := q.todo.TryNext(); ok {
			q.resetInjectionState()
			return p, true, nil
		}
		if q.urgent.IsAborted() && q.normal.IsAborted() && q.todo.IsAborted() {
			return "", false, nil
		}

		ch := q.currentNotify()
		select {
		case <-ch:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// matchInjection returns the payload of the first unfired rule matching
// head, without consuming the NORMAL head.
func (q *Queue) matchInjection(head string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.injectedForHead {
		return "", false
	}
	for _, r := range q.rules {
		if r.Trigger(head) {
			q.injectedForHead = true
			return r.Payload, true
		}
	}
	return "", false
}

func (q *Queue) resetInjectionState() {
	q.mu.Lock()
	q.injectedForHead = false
	q.mu.Unlock()
}

func (q *Queue) currentNotify() chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.notify
}

func (q *Queue) wake() {
	q.mu.Lock()
	old := q.notify
	q.notify = make(chan struct{})
	q.mu.Unlock()
	close(old)
}

// Clear drops every buffered item across all three bands.
func (q *Queue) Clear() {
	q.urgent.Clear()
	q.normal.Clear()
	q.todo.Clear()
	q.wake()
}

// Abort terminates all three bands; see queue.Queue.Abort.
func (q *Queue) Abort() {
	q.urgent.Abort()
	q.normal.Abort()
	q.todo.Abort()
	q.wake()
}

// IsAborted reports whether every band has been aborted.
func (q *Queue) IsAborted() bool {
	return q.urgent.IsAborted() && q.normal.IsAborted() && q.todo.IsAborted()
}

// Depth reports the combined number of buffered, not-yet-yielded items
// across all three bands.
func (q *Queue) Depth() int {
	return q.urgent.Len() + q.normal.Len() + q.todo.Len()
}

// NormalInput adapts a SmartMessageQueue to the narrow Enqueue/Next/Abort
// surface AgentSession depends on (session.InputSource), defaulting
// Session.Send's plain enqueue to the NORMAL band. Pool code that needs
// URGENT or TODO placement, or ForceInject, keeps the concrete *Queue.
type NormalInput struct {
	Q *Queue
}

func (n NormalInput) Enqueue(payload string) (*queue.Ack, error) {
	return n.Q.Enqueue(Normal, payload)
}

func (n NormalInput) Next(ctx context.Context) (string, bool, error) {
	return n.Q.Next(ctx)
}

func (n NormalInput) Abort() {
	n.Q.Abort()
}
