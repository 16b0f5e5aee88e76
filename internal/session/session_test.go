package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/internal/model"
	"goa.design/agentcore/internal/queue"
)

// scriptedClient is a stub model.Client that replays a fixed event script on
// Run, ignoring inputs except to record them. It implements Interruptible so
// interrupt() tests exercise the real code path.
type scriptedClient struct {
	mu           sync.Mutex
	script       []model.Event
	received     []string
	interrupted  bool
	interruptErr error
}

func (c *scriptedClient) Run(ctx context.Context, opts model.RunOptions, inputs <-chan model.Input) (<-chan model.Event, error) {
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
		for _, ev := range c.script {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *scriptedClient) Interrupt(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupted = true
	return c.interruptErr
}

func newQueueInput(sessionID string) InputSource {
	return queue.New(sessionID)
}

func TestSessionSimpleTurn(t *testing.T) {
	var texts []string
	var completed bool
	var init model.SessionInit

	client := &scriptedClient{script: []model.Event{
		{Type: model.EventSystem, System: &model.SystemEvent{Subtype: "init", SessionID: "remote-1", Model: "claude-haiku"}},
		{Type: model.EventStream, Stream: &model.StreamEvent{Type: model.BlockDelta, Index: 0, Delta: &model.Delta{Type: "text_delta", Text: "hi"}}},
		{Type: model.EventResult},
	}}

	s := New(Options{
		Tier:   model.FAST,
		Client: client,
		Input:  newQueueInput("s1"),
		Events: model.Events{
			OnTextChunk:       func(text string) { texts = append(texts, text) },
			OnMessageComplete: func() { completed = true },
			OnSessionInit:     func(i model.SessionInit) { init = i },
		},
	})

	require.NoError(t, s.Start())
	require.NoError(t, s.Send("hello"))

	require.Eventually(t, func() bool { return s.Status() == StatusDone }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"hi"}, texts)
	assert.True(t, completed)
	assert.Equal(t, "remote-1", init.SessionID)
	assert.Equal(t, "remote-1", s.SessionID())
	assert.False(t, init.Resumed)
}

func TestSessionToolCall(t *testing.T) {
	var toolStarted, toolCompleted bool
	var toolName string

	client := &scriptedClient{script: []model.Event{
		{Type: model.EventStream, Stream: &model.StreamEvent{
			Type: model.BlockStart, Index: 0,
			ContentBlock: &model.ContentBlock{Type: "tool_use", ID: "tu-1", Name: "search", Input: json.RawMessage(`{}`)},
		}},
		{Type: model.EventStream, Stream: &model.StreamEvent{
			Type: model.BlockDelta, Index: 0,
			Delta: &model.Delta{Type: "input_json_delta", PartialJSON: `{"q":"go"}`},
		}},
		{Type: model.EventStream, Stream: &model.StreamEvent{Type: model.BlockStop, Index: 0}},
		{Type: model.EventAssistant, Assistant: &model.AssistantMessage{Content: []model.ContentItem{
			{Type: "tool_result", ToolResult: &model.ToolResultItem{ToolUseID: "tu-1", Content: "3 results", IsError: false}},
		}}},
		{Type: model.EventResult},
	}}

	var stoppedIndex int
	var stoppedToolID string

	s := New(Options{
		Tier:   model.SmartMid,
		Client: client,
		Input:  newQueueInput("s2"),
		Events: model.Events{
			OnToolUseStart: func(id, name string, input json.RawMessage, idx int) {
				toolStarted = true
				toolName = name
			},
			OnContentBlockStop: func(index int, toolID string) {
				stoppedIndex = index
				stoppedToolID = toolID
			},
			OnToolResultComplete: func(toolUseID, content string, isError bool) {
				toolCompleted = content == "3 results" && toolUseID == "tu-1" && !isError
			},
		},
	})

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Status() == StatusDone }, time.Second, time.Millisecond)

	assert.True(t, toolStarted)
	assert.Equal(t, "search", toolName)
	assert.Equal(t, 0, stoppedIndex)
	assert.Equal(t, "tu-1", stoppedToolID)
	assert.True(t, toolCompleted)
}

func TestSessionInterruptSignalsClient(t *testing.T) {
	block := make(chan struct{})
	client := &blockingClient{unblock: block}
	var stopped, completed bool

	s := New(Options{
		Tier:   model.FAST,
		Client: client,
		Input:  newQueueInput("s3"),
		Events: model.Events{
			OnMessageStopped:  func() { stopped = true },
			OnMessageComplete: func() { completed = true },
		},
	})

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Status() == StatusRunning }, time.Second, time.Millisecond)

	ok := s.Interrupt()
	assert.True(t, ok)
	assert.True(t, client.wasInterrupted())

	close(block)
	s.Stop()
	assert.Equal(t, StatusDone, s.Status())

	// The client's event stream closed without ever delivering a result
	// event, so runLoop must report the alternate "stopped" terminal
	// callback rather than silently leaving no terminal event at all.
	assert.True(t, stopped)
	assert.False(t, completed)
}

func TestSessionStartTwiceFails(t *testing.T) {
	client := &scriptedClient{script: []model.Event{{Type: model.EventResult}}}
	s := New(Options{Client: client, Input: newQueueInput("s4")})
	require.NoError(t, s.Start())
	err := s.Start()
	require.Error(t, err)
}

func TestSessionStartRequiresCredentials(t *testing.T) {
	client := &scriptedClient{script: []model.Event{{Type: model.EventResult}}}
	s := New(Options{
		Client:         client,
		Input:          newQueueInput("s5"),
		HasCredentials: func() bool { return false },
	})
	err := s.Start()
	require.Error(t, err)
	assert.Equal(t, StatusIdle, s.Status())
}

func TestSessionSendBeforeStartFails(t *testing.T) {
	s := New(Options{Client: &scriptedClient{}, Input: newQueueInput("s6")})
	err := s.Send("too early")
	require.Error(t, err)
}

// blockingClient never produces an event until unblock is closed; used to
// exercise interrupt() while a run is genuinely in progress.
type blockingClient struct {
	unblock chan struct{}
	mu      sync.Mutex
	intr    bool
}

func (c *blockingClient) Run(ctx context.Context, opts model.RunOptions, inputs <-chan model.Input) (<-chan model.Event, error) {
	out := make(chan model.Event)
	go func() {
		defer close(out)
		select {
		case <-c.unblock:
		case <-ctx.Done():
			return
		}
	}()
	return out, nil
}

func (c *blockingClient) Interrupt(ctx context.Context) error {
	c.mu.Lock()
	c.intr = true
	c.mu.Unlock()
	return nil
}

func (c *blockingClient) wasInterrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intr
}
