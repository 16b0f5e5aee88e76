// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API, grounded on the teacher's features/model/bedrock
// adapter. It shares the tier-to-model-id and turn-driving shape of
// adapters/anthropic but speaks Bedrock's Converse/ConverseStream wire
// format instead of the native Anthropic Messages API, for deployments that
// route Claude traffic through Bedrock.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/uuid"

	"goa.design/agentcore/internal/model"
)

// StreamOutput is the subset of the AWS ConverseStream output type the
// adapter needs. It is satisfied by *bedrockruntime.ConverseStreamOutput
// and lets tests substitute a fake event stream.
type StreamOutput interface {
	GetStream() *bedrockruntime.ConverseStreamEventStream
}

// RuntimeClient mirrors the subset of the Bedrock runtime client the
// adapter needs. ConverseStream returns the narrow StreamOutput interface
// rather than the concrete SDK type so tests can substitute a fake stream;
// realRuntime below adapts *bedrockruntime.Client to this shape.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error)
}

// realRuntime adapts *bedrockruntime.Client to RuntimeClient: the SDK
// method returns the concrete *ConverseStreamOutput, which satisfies
// StreamOutput structurally but not by declared return type, so Go's
// interface assignability rules require this thin wrapper.
type realRuntime struct {
	client *bedrockruntime.Client
}

func (r *realRuntime) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error) {
	return r.client.ConverseStream(ctx, params, optFns...)
}

// Options configures the tier-to-model mapping and generation defaults.
type Options struct {
	FastModel string
	MidModel  string
	HighModel string

	MaxTokens   int
	Temperature float32
}

// Client implements model.Client over AWS Bedrock Converse streaming.
type Client struct {
	runtime RuntimeClient
	tiers   map[model.Tier]string
	opts    Options

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds a Bedrock-backed Client from an AWS SDK runtime client and
// tier configuration.
func New(runtime *bedrockruntime.Client, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	return newWithRuntime(&realRuntime{client: runtime}, opts)
}

func newWithRuntime(runtime RuntimeClient, opts Options) (*Client, error) {
	tiers := map[model.Tier]string{
		model.FAST:      opts.FastModel,
		model.SmartMid:  opts.MidModel,
		model.SmartHigh: opts.HighModel,
	}
	if tiers[model.FAST] == "" && tiers[model.SmartMid] == "" && tiers[model.SmartHigh] == "" {
		return nil, errors.New("bedrock: at least one tier model id is required")
	}
	return &Client{runtime: runtime, tiers: tiers, opts: opts, cancels: make(map[string]context.CancelFunc)}, nil
}

// Run implements model.Client, driving one growing Converse conversation
// across every Input received.
func (c *Client) Run(ctx context.Context, opts model.RunOptions, inputs <-chan model.Input) (<-chan model.Event, error) {
	modelID := c.tiers[opts.Model]
	if modelID == "" {
		modelID = c.tiers[model.FAST]
	}
	if modelID == "" {
		return nil, fmt.Errorf("bedrock: no model configured for tier %q", opts.Model)
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

	var conversation []brtypes.Message
	for {
		select {
		case in, ok := <-inputs:
			if !ok {
				return
			}
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: in.Payload}},
			})
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

func (c *Client) runTurn(ctx context.Context, modelID string, opts model.RunOptions, conversation []brtypes.Message, out chan<- model.Event) (brtypes.Message, bool) {
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

	input := c.buildInput(modelID, opts, conversation)
	resp, err := c.runtime.ConverseStream(turnCtx, input)
	if err != nil {
		return brtypes.Message{}, false
	}
	stream := resp.GetStream()
	if stream == nil {
		return brtypes.Message{}, false
	}
	defer func() { _ = stream.Close() }()

	assembler := newTurnAssembler(out)
	events := stream.Events()
loop:
	for {
		select {
		case <-turnCtx.Done():
			return brtypes.Message{}, false
		case event, ok := <-events:
			if !ok {
				break loop
			}
			if err := assembler.handle(turnCtx, event); err != nil {
				return brtypes.Message{}, false
			}
		}
	}
	if err := stream.Err(); err != nil {
		return brtypes.Message{}, false
	}
	return brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: assembler.blocks}, true
}

func (c *Client) buildInput(modelID string, opts model.RunOptions, conversation []brtypes.Message) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(modelID),
		Messages: conversation,
	}
	if opts.SystemPrompt != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: opts.SystemPrompt}}
	}
	cfg := &brtypes.InferenceConfiguration{}
	hasCfg := false
	maxTokens := c.opts.MaxTokens
	if maxTokens > 0 {
		mt := int32(maxTokens)
		cfg.MaxTokens = &mt
		hasCfg = true
	}
	if c.opts.Temperature > 0 {
		t := c.opts.Temperature
		cfg.Temperature = &t
		hasCfg = true
	}
	if hasCfg {
		input.InferenceConfig = cfg
	}
	return input
}

func emit(ctx context.Context, out chan<- model.Event, ev model.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
