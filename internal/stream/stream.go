// Package stream implements EventCoordinator (spec §4.5): the fan-in
// publisher that turns per-agent AgentSession callbacks into a single
// ordered SessionEvent stream, available to consumers either as a push
// subscription or a pull-based iterator.
package stream

import (
	"context"
	"encoding/json"
	"sync"

	"goa.design/agentcore/internal/coreerr"
	"goa.design/agentcore/internal/model"
)

// Kind discriminates the SessionEvent tagged union (spec §3).
type Kind string

const (
	Started       Kind = "STARTED"
	TextDelta     Kind = "TEXT_DELTA"
	ThinkingDelta Kind = "THINKING_DELTA"
	ToolStart     Kind = "TOOL_START"
	ToolResult    Kind = "TOOL_RESULT"
	Progress      Kind = "PROGRESS"
	Completed     Kind = "COMPLETED"
	Failed        Kind = "FAILED"
	Stopped       Kind = "STOPPED"
)

// SessionEvent is the aggregator's uniform, sequence-numbered record. Which
// fields are meaningful is determined by Kind, mirroring the tagged-struct
// idiom used for model.Event.
type SessionEvent struct {
	Seq       int64
	Kind      Kind
	AgentID   string
	TaskID    string
	Tier      model.Tier
	Chunk     string
	BlockIndex int
	ToolUseID string
	ToolName  string
	Input     json.RawMessage
	Content   string
	IsError   bool
	Percent   int
	Message   string
	Result    string
	ErrorKind coreerr.Kind
	ErrorMsg  string
}

// Coordinator is the process-wide single logical publisher. The zero value
// is not usable; construct with New.
type Coordinator struct {
	mu     sync.Mutex
	seq    int64
	ring   ring
	nextID int
	listeners map[int]func(SessionEvent)

	toolNames       map[string]string
	terminalEmitted map[string]bool
}

// New constructs a Coordinator whose replay ring holds the last bufferSize
// events (spec default 1000).
func New(bufferSize int) *Coordinator {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Coordinator{
		ring:            ring{n: bufferSize},
		listeners:       make(map[int]func(SessionEvent)),
		toolNames:       make(map[string]string),
		terminalEmitted: make(map[string]bool),
	}
}

// OnEvent registers a push listener, invoked synchronously in registration
// order for every published event. The returned func detaches it.
func (c *Coordinator) OnEvent(fn func(SessionEvent)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Aggregate returns a pull-based subscriber pre-seeded with the ring's
// current backlog, then fed live as further events publish. Callers must
// Close it on every exit path.
func (c *Coordinator) Aggregate() *Subscriber {
	sub := &Subscriber{}
	c.mu.Lock()
	sub.buf = append(sub.buf, c.ring.snapshot()...)
	c.mu.Unlock()
	sub.unsubscribe = c.OnEvent(sub.deliver)
	return sub
}

// Buffered reports the current occupancy of the replay ring, exposed for
// the operational surface's status() call (spec §6).
func (c *Coordinator) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ring.buf)
}

// Started publishes STARTED for a newly spawned agent/task pair. Unlike the
// terminal kinds, STARTED is not deduplicated — callers (the pool) are
// responsible for calling it exactly once per task.
func (c *Coordinator) Started(agentID, taskID string, tier model.Tier) {
	c.publish(SessionEvent{Kind: Started, AgentID: agentID, TaskID: taskID, Tier: tier})
}

// ProgressUpdate publishes a PROGRESS event; synthesized by the pool or
// orchestrator, not by AgentSession itself.
func (c *Coordinator) ProgressUpdate(agentID, taskID string, percent int, message string) {
	c.publish(SessionEvent{Kind: Progress, AgentID: agentID, TaskID: taskID, Percent: percent, Message: message})
}

// Completed, Failed and Stopped publish a terminal event, applying the
// per-(agentId,taskId) coalescing invariant (spec §3 invariant 3, §4.5
// "Terminal coalescing"): any event after the first for the same pair is
// dropped silently.
func (c *Coordinator) Completed(agentID, taskID, result string) {
	c.terminal(Completed, agentID, taskID, result, "", "")
}

func (c *Coordinator) Failed(agentID, taskID string, kind coreerr.Kind, message string) {
	c.terminal(Failed, agentID, taskID, "", kind, message)
}

func (c *Coordinator) Stopped(agentID, taskID string) {
	c.terminal(Stopped, agentID, taskID, "", "", "")
}

// Forget releases the terminal-coalescing bookkeeping kept for one task,
// once its caller has no further use for it (e.g. the pool on terminate).
// Tool-name entries are keyed by toolUseId, not by task, and are kept. It is
// optional: omitting it only costs memory, not correctness.
func (c *Coordinator) Forget(agentID, taskID string) {
	c.mu.Lock()
	delete(c.terminalEmitted, agentID+"\x00"+taskID)
	c.mu.Unlock()
}

func (c *Coordinator) terminal(kind Kind, agentID, taskID, result string, errKind coreerr.Kind, errMsg string) {
	key := agentID + "\x00" + taskID
	c.mu.Lock()
	if c.terminalEmitted[key] {
		c.mu.Unlock()
		return
	}
	c.terminalEmitted[key] = true
	c.mu.Unlock()
	c.publish(SessionEvent{Kind: kind, AgentID: agentID, TaskID: taskID, Result: result, ErrorKind: errKind, ErrorMsg: errMsg})
}

// Bind returns a model.Events record that translates one AgentSession's
// callbacks into SessionEvents for agentID/taskID. The pool passes this as
// session.Options.Events when constructing a Session.
func (c *Coordinator) Bind(agentID, taskID string) model.Events {
	return model.Events{
		OnTextChunk: func(text string) {
			c.publish(SessionEvent{Kind: TextDelta, AgentID: agentID, TaskID: taskID, Chunk: text})
		},
		OnThinkingChunk: func(index int, delta string) {
			c.publish(SessionEvent{Kind: ThinkingDelta, AgentID: agentID, TaskID: taskID, BlockIndex: index, Chunk: delta})
		},
		OnToolUseStart: func(id, name string, input json.RawMessage, _ int) {
			c.recordToolName(id, name)
			c.publish(SessionEvent{Kind: ToolStart, AgentID: agentID, TaskID: taskID, ToolUseID: id, ToolName: name, Input: input})
		},
		OnToolResultComplete: func(toolUseID, content string, isError bool) {
			c.publish(SessionEvent{
				Kind: ToolResult, AgentID: agentID, TaskID: taskID,
				ToolUseID: toolUseID, ToolName: c.resolveToolName(toolUseID),
				Content: content, IsError: isError,
			})
		},
		OnMessageComplete: func() { c.Completed(agentID, taskID, "") },
		OnMessageStopped:  func() { c.Stopped(agentID, taskID) },
		OnError: func(message string) {
			c.Failed(agentID, taskID, coreerr.ModelTransport, message)
		},
	}
}

func (c *Coordinator) recordToolName(id, name string) {
	c.mu.Lock()
	c.toolNames[id] = name
	c.mu.Unlock()
}

// resolveToolName implements spec §3 invariant 5: an unseen toolUseId
// resolves to itself.
func (c *Coordinator) resolveToolName(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.toolNames[id]; ok {
		return name
	}
	return id
}

func (c *Coordinator) publish(e SessionEvent) {
	c.mu.Lock()
	c.seq++
	e.Seq = c.seq
	c.ring.append(e)
	listeners := make([]func(SessionEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(e)
	}
}

// ring is the bounded replay buffer (spec §4.5 "Buffer"): when appending
// would push its length past n, the oldest half is dropped first.
type ring struct {
	n   int
	buf []SessionEvent
}

func (r *ring) append(e SessionEvent) {
	if len(r.buf) >= r.n {
		keep := len(r.buf) / 2
		trimmed := make([]SessionEvent, keep)
		copy(trimmed, r.buf[len(r.buf)-keep:])
		r.buf = trimmed
	}
	r.buf = append(r.buf, e)
}

func (r *ring) snapshot() []SessionEvent {
	out := make([]SessionEvent, len(r.buf))
	copy(out, r.buf)
	return out
}

// Subscriber is a pull-based async-iterator-style consumer of the
// aggregator stream: a local FIFO fed by a single pending resolver when the
// consumer is ahead of the publisher.
type Subscriber struct {
	mu          sync.Mutex
	buf         []SessionEvent
	waiter      chan SessionEvent
	closed      bool
	unsubscribe func()
}

func (s *Subscriber) deliver(e SessionEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.waiter != nil {
		w := s.waiter
		s.waiter = nil
		s.mu.Unlock()
		w <- e
		return
	}
	s.buf = append(s.buf, e)
	s.mu.Unlock()
}

// Next blocks until an event is available, ctx is canceled, or Close was
// called, matching the "infinite sequence" contract in spec §4.5.
func (s *Subscriber) Next(ctx context.Context) (SessionEvent, bool) {
	s.mu.Lock()
	if len(s.buf) > 0 {
		e := s.buf[0]
		s.buf = s.buf[1:]
		s.mu.Unlock()
		return e, true
	}
	if s.closed {
		s.mu.Unlock()
		return SessionEvent{}, false
	}
	w := make(chan SessionEvent, 1)
	s.waiter = w
	s.mu.Unlock()

	select {
	case e, ok := <-w:
		return e, ok
	case <-ctx.Done():
		s.mu.Lock()
		if s.waiter == w {
			s.waiter = nil
		}
		s.mu.Unlock()
		return SessionEvent{}, false
	}
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsubscribe
	w := s.waiter
	s.waiter = nil
	s.mu.Unlock()
	if w != nil {
		close(w)
	}
	if unsub != nil {
		unsub()
	}
}
