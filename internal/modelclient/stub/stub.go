// Package stub provides a scriptable model.Client for code outside the
// session/pool/orchestrator packages: internal/gateway's tests and
// cmd/agentcored's offline stub provider. It has the same shape as the
// scriptedClient stubs in internal/session's and internal/pool's test files,
// which keep their own copies.
package stub

import (
	"context"
	"sync"
	"sync/atomic"

	"goa.design/agentcore/internal/model"
)

// Client is a scriptable model.Client: it replays a fixed event script
// (optionally gated behind a block channel, to simulate a slow-to-respond
// model) and records every input it received along with the options it was
// started with.
type Client struct {
	// Script is the fixed event sequence replayed on every Run call.
	Script []model.Event
	// Block, if non-nil, delays replay until it's closed or ctx is
	// canceled, simulating a slow or interruptible model turn.
	Block <-chan struct{}
	// RunErr, if non-nil, makes Run fail immediately instead of replaying
	// Script, simulating a ModelTransport-layer failure.
	RunErr error

	mu          sync.Mutex
	received    []string
	runOptions  []model.RunOptions
	interrupted atomic.Bool
}

// Run implements model.Client.
func (c *Client) Run(ctx context.Context, opts model.RunOptions, inputs <-chan model.Input) (<-chan model.Event, error) {
	c.mu.Lock()
	c.runOptions = append(c.runOptions, opts)
	c.mu.Unlock()

	if c.RunErr != nil {
		go func() {
			for range inputs {
			}
		}()
		return nil, c.RunErr
	}

	out := make(chan model.Event)
	go func() {
		defer close(out)
		go func() {
			for in := range inputs {
				c.mu.Lock()
				c.received = append(c.received, in.Payload)
				c.mu.Unlock()
			}
		}()
		if c.Block != nil {
			select {
			case <-c.Block:
			case <-ctx.Done():
				return
			}
		}
		for _, ev := range c.Script {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Interrupt implements model.Interruptible.
func (c *Client) Interrupt(context.Context) error {
	c.interrupted.Store(true)
	return nil
}

// Interrupted reports whether Interrupt has been called.
func (c *Client) Interrupted() bool { return c.interrupted.Load() }

// Received returns every input payload accepted across all Run calls.
func (c *Client) Received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.received))
	copy(out, c.received)
	return out
}

// RunOptionsHistory returns the RunOptions passed to every Run call, in
// order.
func (c *Client) RunOptionsHistory() []model.RunOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.RunOptions, len(c.runOptions))
	copy(out, c.runOptions)
	return out
}

// TextDelta is a convenience constructor for a plain content_block_delta
// text event.
func TextDelta(text string) model.Event {
	return model.Event{
		Type:   model.EventStream,
		Stream: &model.StreamEvent{Type: model.BlockDelta, Delta: &model.Delta{Type: "text_delta", Text: text}},
	}
}

// Result is a convenience constructor for the terminal "result" event.
func Result() model.Event {
	return model.Event{Type: model.EventResult}
}

// Init is a convenience constructor for a system "init" event.
func Init(sessionID string) model.Event {
	return model.Event{Type: model.EventSystem, System: &model.SystemEvent{Subtype: "init", SessionID: sessionID}}
}
