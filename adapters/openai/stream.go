package openai

import (
	"context"
	"strings"

	"github.com/openai/openai-go"

	"goa.design/agentcore/internal/model"
)

// turnAssembler translates one OpenAI chat-completion streaming turn into
// the §6 stream_event sequence, buffering the full assistant text so it can
// be appended to the running conversation afterward.
type turnAssembler struct {
	out  chan<- model.Event
	text strings.Builder

	started bool
}

func newTurnAssembler(out chan<- model.Event) *turnAssembler {
	return &turnAssembler{out: out}
}

func (a *turnAssembler) handle(ctx context.Context, chunk openai.ChatCompletionChunk) error {
	for _, choice := range chunk.Choices {
		if choice.Delta.Content == "" {
			continue
		}
		if !a.started {
			a.started = true
			if err := a.emit(ctx, model.BlockStart, 0, nil, &model.ContentBlock{Type: "text"}); err != nil {
				return err
			}
		}
		a.text.WriteString(choice.Delta.Content)
		if err := a.emit(ctx, model.BlockDelta, 0, &model.Delta{Type: "text_delta", Text: choice.Delta.Content}, nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *turnAssembler) finish(ctx context.Context) error {
	if !a.started {
		return nil
	}
	return a.emit(ctx, model.BlockStop, 0, nil, nil)
}

func (a *turnAssembler) emit(ctx context.Context, kind model.StreamBlockType, idx int, delta *model.Delta, cb *model.ContentBlock) error {
	ev := model.Event{
		Type: model.EventStream,
		Stream: &model.StreamEvent{
			Type:         kind,
			Index:        idx,
			Delta:        delta,
			ContentBlock: cb,
		},
	}
	if !emit(ctx, a.out, ev) {
		return ctx.Err()
	}
	return nil
}
