// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API, grounded on the teacher's own
// features/model/anthropic adapter. Unlike that adapter's Complete/Stream
// pair (which return goa-ai's own model.Response/model.Streamer shapes),
// this Client's Run method must yield the §6 tagged-event stream
// (stream_event/assistant/result/system) that internal/session.Session
// translates directly, so the SSE-to-event mapping is rebuilt here rather
// than reused verbatim.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/google/uuid"

	"goa.design/agentcore/internal/model"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, so tests can substitute a fake in place of *sdk.MessageService.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the tier-to-model mapping and generation defaults.
type Options struct {
	// FastModel, MidModel, HighModel are the concrete Claude model
	// identifiers backing model.FAST, model.SmartMid, model.SmartHigh.
	FastModel string
	MidModel  string
	HighModel string

	// MaxTokens is the completion cap applied to every turn.
	MaxTokens int
	// Temperature is applied when non-zero.
	Temperature float64
	// ThinkingBudget is the default extended-thinking token budget used
	// when opts.MaxThinkingTokens is unset on a given Run call.
	ThinkingBudget int64
}

// Client implements model.Client (and model.Interruptible) over the
// Anthropic Messages streaming API.
type Client struct {
	msg   MessagesClient
	tiers map[model.Tier]string
	opts  Options

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds an Anthropic-backed Client. At least one of FastModel,
// MidModel, HighModel must be set.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	tiers := map[model.Tier]string{
		model.FAST:      opts.FastModel,
		model.SmartMid:  opts.MidModel,
		model.SmartHigh: opts.HighModel,
	}
	if tiers[model.FAST] == "" && tiers[model.SmartMid] == "" && tiers[model.SmartHigh] == "" {
		return nil, errors.New("anthropic: at least one tier model id is required")
	}
	return &Client{msg: msg, tiers: tiers, opts: opts, cancels: make(map[string]context.CancelFunc)}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP
// client, authenticated with apiKey. An empty apiKey is rejected.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Run implements model.Client. It maintains one growing conversation across
// every Input received, issuing one Anthropic streaming request per turn.
func (c *Client) Run(ctx context.Context, opts model.RunOptions, inputs <-chan model.Input) (<-chan model.Event, error) {
	modelID := c.tiers[opts.Model]
	if modelID == "" {
		modelID = c.tiers[model.FAST]
	}
	if modelID == "" {
		return nil, fmt.Errorf("anthropic: no model configured for tier %q", opts.Model)
	}

	sessionID := opts.Resume
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	out := make(chan model.Event)
	go c.drive(ctx, modelID, sessionID, opts, inputs, out)
	return out, nil
}

// Interrupt implements model.Interruptible by canceling every in-flight
// turn of this Client. A canceled turn ends its Run: the event stream is
// closed without a result event.
func (c *Client) Interrupt(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.cancels {
		cancel()
	}
	return nil
}

func (c *Client) drive(ctx context.Context, modelID, sessionID string, opts model.RunOptions, inputs <-chan model.Input, out chan<- model.Event) {
	defer close(out)

	if !emit(ctx, out, model.Event{
		Type:   model.EventSystem,
		System: &model.SystemEvent{Subtype: "init", SessionID: sessionID, Model: modelID},
	}) {
		return
	}

	var conversation []sdk.MessageParam
	for {
		select {
		case in, ok := <-inputs:
			if !ok {
				return
			}
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(in.Payload)))
			reply, ok := c.runTurn(ctx, modelID, opts, conversation, out)
			if !ok {
				return
			}
			conversation = append(conversation, reply)
			if !emit(ctx, out, model.Event{Type: model.EventResult}) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// runTurn issues one streaming request and translates its events onto out,
// returning the assembled assistant message so it can be appended to the
// running conversation. ok is false when the turn could not be completed
// (transport error or cancellation), in which case the caller should stop.
func (c *Client) runTurn(ctx context.Context, modelID string, opts model.RunOptions, conversation []sdk.MessageParam, out chan<- model.Event) (sdk.MessageParam, bool) {
	turnCtx, cancel := context.WithCancel(ctx)
	turnID := uuid.NewString()
	c.mu.Lock()
	c.cancels[turnID] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.cancels, turnID)
		c.mu.Unlock()
		cancel()
	}()

	params := c.prepareParams(modelID, opts, conversation)
	stream := c.msg.NewStreaming(turnCtx, params)
	if err := stream.Err(); err != nil {
		return sdk.MessageParam{}, false
	}
	defer func() { _ = stream.Close() }()

	assembler := newTurnAssembler(out)
	for stream.Next() {
		if err := assembler.handle(turnCtx, stream.Current()); err != nil {
			return sdk.MessageParam{}, false
		}
	}
	if err := stream.Err(); err != nil {
		return sdk.MessageParam{}, false
	}
	return sdk.NewAssistantMessage(assembler.blocks...), true
}

func (c *Client) prepareParams(modelID string, opts model.RunOptions, conversation []sdk.MessageParam) sdk.MessageNewParams {
	maxTokens := c.opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if opts.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: opts.SystemPrompt}}
	}
	if c.opts.Temperature > 0 {
		params.Temperature = sdk.Float(c.opts.Temperature)
	}
	budget := int64(opts.MaxThinkingTokens)
	if budget <= 0 {
		budget = c.opts.ThinkingBudget
	}
	if budget >= 1024 && budget < int64(maxTokens) {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(budget)
	}
	return params
}

func emit(ctx context.Context, out chan<- model.Event, ev model.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
