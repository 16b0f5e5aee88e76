// Package openai provides a model.Client implementation backed by the
// OpenAI Chat Completions API, for deployments whose defaultTier routes to
// a non-Claude deployment (SPEC_FULL.md §11). The pack carries no reference
// implementation for openai-go (unlike anthropic-sdk-go and
// aws-sdk-go-v2/bedrockruntime, both exercised by the teacher's own
// features/model/* packages), so this adapter mirrors the shape
// adapters/anthropic and adapters/bedrock already establish rather than a
// pack example.
package openai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"goa.design/agentcore/internal/model"
)

// CompletionsClient captures the subset of the OpenAI SDK used by the
// adapter, matching openai.Client.Chat.Completions.
type CompletionsClient interface {
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Options configures the tier-to-model mapping and generation defaults.
type Options struct {
	FastModel string
	MidModel  string
	HighModel string

	MaxTokens   int
	Temperature float64
}

// Client implements model.Client over the OpenAI Chat Completions
// streaming API.
type Client struct {
	chat  CompletionsClient
	tiers map[model.Tier]string
	opts  Options

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds an OpenAI-backed Client.
func New(chat CompletionsClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: completions client is required")
	}
	tiers := map[model.Tier]string{
		model.FAST:      opts.FastModel,
		model.SmartMid:  opts.MidModel,
		model.SmartHigh: opts.HighModel,
	}
	if tiers[model.FAST] == "" && tiers[model.SmartMid] == "" && tiers[model.SmartHigh] == "" {
		return nil, errors.New("openai: at least one tier model id is required")
	}
	return &Client{chat: chat, tiers: tiers, opts: opts, cancels: make(map[string]context.CancelFunc)}, nil
}

// NewFromAPIKey constructs a Client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, opts)
}

// Run implements model.Client, driving one growing chat completion
// conversation across every Input received.
func (c *Client) Run(ctx context.Context, opts model.RunOptions, inputs <-chan model.Input) (<-chan model.Event, error) {
	modelID := c.tiers[opts.Model]
	if modelID == "" {
		modelID = c.tiers[model.FAST]
	}
	if modelID == "" {
		return nil, fmt.Errorf("openai: no model configured for tier %q", opts.Model)
	}

	sessionID := opts.Resume
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	out := make(chan model.Event)
	go c.drive(ctx, modelID, sessionID, opts, inputs, out)
	return out, nil
}

// Interrupt implements model.Interruptible.
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

	var conversation []openai.ChatCompletionMessageParamUnion
	if opts.SystemPrompt != "" {
		conversation = append(conversation, openai.SystemMessage(opts.SystemPrompt))
	}
	for {
		select {
		case in, ok := <-inputs:
			if !ok {
				return
			}
			conversation = append(conversation, openai.UserMessage(in.Payload))
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

func (c *Client) runTurn(ctx context.Context, modelID string, opts model.RunOptions, conversation []openai.ChatCompletionMessageParamUnion, out chan<- model.Event) (openai.ChatCompletionMessageParamUnion, bool) {
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
	stream := c.chat.NewStreaming(turnCtx, params)
	if err := stream.Err(); err != nil {
		return openai.ChatCompletionMessageParamUnion{}, false
	}
	defer func() { _ = stream.Close() }()

	assembler := newTurnAssembler(out)
	for stream.Next() {
		if err := assembler.handle(turnCtx, stream.Current()); err != nil {
			return openai.ChatCompletionMessageParamUnion{}, false
		}
	}
	if err := stream.Err(); err != nil {
		return openai.ChatCompletionMessageParamUnion{}, false
	}
	if err := assembler.finish(turnCtx); err != nil {
		return openai.ChatCompletionMessageParamUnion{}, false
	}
	return openai.AssistantMessage(assembler.text.String()), true
}

func (c *Client) prepareParams(modelID string, opts model.RunOptions, conversation []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelID),
		Messages: conversation,
	}
	maxTokens := c.opts.MaxTokens
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	if c.opts.Temperature > 0 {
		params.Temperature = openai.Float(c.opts.Temperature)
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
