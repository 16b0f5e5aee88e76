package anthropic

import (
	"context"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/internal/model"
)

// noopDecoder yields no SSE events, matching the teacher's own
// features/model/anthropic test fixture for exercising the streaming path
// without a live connection.
type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	return ssestream.NewStream[sdk.MessageStreamEventUnion](&noopDecoder{}, nil)
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(&stubMessagesClient{}, Options{})
	assert.Error(t, err)
}

func TestNewRequiresMessagesClient(t *testing.T) {
	_, err := New(nil, Options{FastModel: "claude-haiku-4"})
	assert.Error(t, err)
}

func TestRunEmitsInitThenClosesOnEmptyInputs(t *testing.T) {
	stub := &stubMessagesClient{}
	c, err := New(stub, Options{FastModel: "claude-haiku-4", MaxTokens: 512})
	require.NoError(t, err)

	inputs := make(chan model.Input)
	close(inputs)

	events, err := c.Run(context.Background(), model.RunOptions{Model: model.FAST}, inputs)
	require.NoError(t, err)

	select {
	case ev, ok := <-events:
		require.True(t, ok)
		require.Equal(t, model.EventSystem, ev.Type)
		assert.Equal(t, "init", ev.System.Subtype)
		assert.Equal(t, "claude-haiku-4", ev.System.Model)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for init event")
	}

	select {
	case _, ok := <-events:
		assert.False(t, ok, "stream should close once inputs is drained")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream close")
	}
}

func TestRunFallsBackToFastModelWhenTierUnconfigured(t *testing.T) {
	c, err := New(&stubMessagesClient{}, Options{FastModel: "claude-haiku-4"})
	require.NoError(t, err)

	inputs := make(chan model.Input)
	defer close(inputs)
	events, err := c.Run(context.Background(), model.RunOptions{Model: model.SmartMid}, inputs)
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, "claude-haiku-4", ev.System.Model)
}

func TestRunErrorsWhenNoTierConfigured(t *testing.T) {
	c := &Client{msg: &stubMessagesClient{}, tiers: map[model.Tier]string{}}
	inputs := make(chan model.Input)
	defer close(inputs)
	_, err := c.Run(context.Background(), model.RunOptions{Model: model.SmartMid}, inputs)
	assert.Error(t, err)
}
