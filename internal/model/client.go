package model

import (
	"context"
	"encoding/json"
)

type (
	// RunOptions configures a single ModelClient.Run invocation (spec §6).
	RunOptions struct {
		Model                  Tier
		MaxThinkingTokens      int
		PermissionMode         PermissionMode
		AllowedTools           []string
		WorkingDirectory       string
		Env                    map[string]string
		SystemPrompt           string
		Resume                 string
		IncludePartialMessages bool
	}

	// Input is one user-message value pulled off a MessageQueue and handed
	// to the live model connection.
	Input struct {
		Payload string
	}

	// Client is the opaque remote-model transport the core consumes. The
	// transport owns reconnection and auth; the core never re-invokes a
	// Client after a ModelTransport error (spec §7 propagation policy).
	Client interface {
		// Run starts (or resumes, when opts.Resume is set) a streaming
		// conversation. inputs is read until it is closed or ctx is
		// canceled; the returned channel is closed when the stream ends,
		// after which Run must not be called again for the same logical
		// conversation.
		Run(ctx context.Context, opts RunOptions, inputs <-chan Input) (<-chan Event, error)
	}

	// Interruptible is an optional capability a Client may implement to
	// support soft cancellation of the current response (spec §4.3
	// interrupt()). Clients that don't implement it receive no signal;
	// interrupt() on a RUNNING session still reports true.
	Interruptible interface {
		Interrupt(ctx context.Context) error
	}

	// ModelSwitcher is an optional capability a Client may implement to
	// change the model on a live connection (spec §4.3 setModel()).
	ModelSwitcher interface {
		SwitchModel(ctx context.Context, tier Tier) error
	}
)

// EventType discriminates the four ModelClient event families (spec §6).
type EventType string

const (
	EventStream    EventType = "stream_event"
	EventAssistant EventType = "assistant"
	EventResult    EventType = "result"
	EventSystem    EventType = "system"
)

// StreamBlockType discriminates stream_event sub-kinds.
type StreamBlockType string

const (
	BlockDelta StreamBlockType = "content_block_delta"
	BlockStart StreamBlockType = "content_block_start"
	BlockStop  StreamBlockType = "content_block_stop"
)

type (
	// Event is a single tagged event yielded by a Client's event stream.
	// At most one of Stream, Assistant, or System is populated, selected by
	// Type; a result event populates none of them.
	Event struct {
		Type      EventType
		Stream    *StreamEvent
		Assistant *AssistantMessage
		System    *SystemEvent
	}

	// StreamEvent carries an incremental content-block delta or boundary.
	StreamEvent struct {
		Type         StreamBlockType
		Index        int
		Delta        *Delta
		ContentBlock *ContentBlock
	}

	// Delta is the incremental payload of a content_block_delta event.
	Delta struct {
		Type        string
		Text        string
		Thinking    string
		PartialJSON string
	}

	// ContentBlock describes the block a content_block_start announces.
	ContentBlock struct {
		Type      string
		ID        string
		Name      string
		Input     json.RawMessage
		ToolUseID string
		Content   any
		IsError   bool
	}

	// AssistantMessage carries a complete assistant turn, potentially
	// including tool_result content items produced by a prior tool call.
	AssistantMessage struct {
		Content []ContentItem
	}

	// ContentItem is one item of an AssistantMessage.Content array.
	ContentItem struct {
		Type       string
		Text       string
		ToolUse    *ToolUseItem
		ToolResult *ToolResultItem
	}

	// ToolUseItem is a tool_use content item.
	ToolUseItem struct {
		ID    string
		Name  string
		Input json.RawMessage
	}

	// ToolResultItem is a tool_result content item. Content may be a string,
	// an object, or an array of strings/objects (spec §4.3 translation
	// rules: array contents concatenated with "\n", object items
	// stringified).
	ToolResultItem struct {
		ToolUseID string
		Content   any
		IsError   bool
	}

	// SystemEvent carries out-of-band system notifications, notably the
	// "init" subtype that reports the remote-assigned session id.
	SystemEvent struct {
		Subtype   string
		SessionID string
		Model     string
	}
)
