package bedrock

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/internal/model"
)

// fakeStreamReader and newFakeStreamOutput mirror the teacher's own
// features/model/bedrock test fixture for constructing a
// *bedrockruntime.ConverseStreamEventStream backed by an in-memory event
// channel instead of a live HTTP connection.
type fakeStreamReader struct {
	events chan brtypes.ConverseStreamOutput
}

func (r *fakeStreamReader) Events() <-chan brtypes.ConverseStreamOutput { return r.events }
func (r *fakeStreamReader) Close() error                                { return nil }
func (r *fakeStreamReader) Err() error                                  { return nil }

func newFakeStreamOutput(events ...brtypes.ConverseStreamOutput) StreamOutput {
	ch := make(chan brtypes.ConverseStreamOutput, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	stream := bedrockruntime.NewConverseStreamEventStream(func(es *bedrockruntime.ConverseStreamEventStream) {
		es.Reader = &fakeStreamReader{events: ch}
	})
	return fakeStreamOutputWrapper{stream: stream}
}

type fakeStreamOutputWrapper struct {
	stream *bedrockruntime.ConverseStreamEventStream
}

func (f fakeStreamOutputWrapper) GetStream() *bedrockruntime.ConverseStreamEventStream { return f.stream }

type stubRuntime struct {
	out StreamOutput
}

func (s *stubRuntime) ConverseStream(_ context.Context, _ *bedrockruntime.ConverseStreamInput, _ ...func(*bedrockruntime.Options)) (StreamOutput, error) {
	return s.out, nil
}

func TestNewRequiresTierModel(t *testing.T) {
	_, err := newWithRuntime(&stubRuntime{}, Options{})
	assert.Error(t, err)
}

func TestRunStreamsTextAndClosesOnEmptyInputs(t *testing.T) {
	stub := &stubRuntime{out: newFakeStreamOutput(
		&brtypes.ConverseStreamOutputMemberContentBlockStart{Value: brtypes.ContentBlockStartEvent{
			ContentBlockIndex: aws.Int32(0),
		}},
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{Value: brtypes.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(0),
			Delta:             &brtypes.ContentBlockDeltaMemberText{Value: "hi"},
		}},
		&brtypes.ConverseStreamOutputMemberContentBlockStop{Value: brtypes.ContentBlockStopEvent{
			ContentBlockIndex: aws.Int32(0),
		}},
	)}
	c, err := newWithRuntime(stub, Options{FastModel: "anthropic.claude-3-haiku"})
	require.NoError(t, err)

	inputs := make(chan model.Input, 1)
	inputs <- model.Input{Payload: "hello"}
	close(inputs)

	events, err := c.Run(context.Background(), model.RunOptions{Model: model.FAST}, inputs)
	require.NoError(t, err)

	var got []model.Event
	for ev := range events {
		got = append(got, ev)
	}
	require.NotEmpty(t, got)
	assert.Equal(t, model.EventSystem, got[0].Type)

	var sawTextDelta, sawResult bool
	for _, ev := range got {
		if ev.Type == model.EventStream && ev.Stream.Type == model.BlockDelta && ev.Stream.Delta.Text == "hi" {
			sawTextDelta = true
		}
		if ev.Type == model.EventResult {
			sawResult = true
		}
	}
	assert.True(t, sawTextDelta)
	assert.True(t, sawResult)
}

func TestInterruptCancelsInFlightTurn(t *testing.T) {
	block := make(chan brtypes.ConverseStreamOutput)
	stream := bedrockruntime.NewConverseStreamEventStream(func(es *bedrockruntime.ConverseStreamEventStream) {
		es.Reader = &fakeStreamReader{events: block}
	})
	stub := &stubRuntime{out: fakeStreamOutputWrapper{stream: stream}}
	c, err := newWithRuntime(stub, Options{FastModel: "anthropic.claude-3-haiku"})
	require.NoError(t, err)

	inputs := make(chan model.Input, 1)
	inputs <- model.Input{Payload: "hello"}

	events, err := c.Run(context.Background(), model.RunOptions{Model: model.FAST}, inputs)
	require.NoError(t, err)
	<-events // init

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Interrupt(context.Background()))
	close(inputs)

	for range events {
	}
}
