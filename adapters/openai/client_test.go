package openai

import (
	"context"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/internal/model"
)

// noopDecoder yields no SSE events, the same empty-stream fixture shape
// used by the sibling anthropic adapter's tests.
type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

type stubCompletionsClient struct {
	lastParams openai.ChatCompletionNewParams
}

func (s *stubCompletionsClient) NewStreaming(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk] {
	s.lastParams = body
	return ssestream.NewStream[openai.ChatCompletionChunk](&noopDecoder{}, nil)
}

func TestNewRequiresTierModel(t *testing.T) {
	_, err := New(&stubCompletionsClient{}, Options{})
	assert.Error(t, err)
}

func TestNewRequiresCompletionsClient(t *testing.T) {
	_, err := New(nil, Options{FastModel: "gpt-4o-mini"})
	assert.Error(t, err)
}

func TestRunEmitsInitThenClosesOnEmptyInputs(t *testing.T) {
	stub := &stubCompletionsClient{}
	c, err := New(stub, Options{FastModel: "gpt-4o-mini", MaxTokens: 256})
	require.NoError(t, err)

	inputs := make(chan model.Input)
	close(inputs)

	events, err := c.Run(context.Background(), model.RunOptions{Model: model.FAST}, inputs)
	require.NoError(t, err)

	select {
	case ev, ok := <-events:
		require.True(t, ok)
		assert.Equal(t, model.EventSystem, ev.Type)
		assert.Equal(t, "gpt-4o-mini", ev.System.Model)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for init event")
	}

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream close")
	}
}
