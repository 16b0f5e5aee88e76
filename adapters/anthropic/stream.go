package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"goa.design/agentcore/internal/model"
)

// turnAssembler translates one Anthropic streaming turn into the §6
// stream_event sequence while buffering enough state to reconstruct the
// assistant message appended to the running conversation afterward.
type turnAssembler struct {
	out chan<- model.Event

	textBlocks map[int]*strings.Builder
	toolBlocks map[int]*toolBuffer

	blocks []sdk.ContentBlockParamUnion
}

type toolBuffer struct {
	id        string
	name      string
	fragments strings.Builder
}

func newTurnAssembler(out chan<- model.Event) *turnAssembler {
	return &turnAssembler{
		out:        out,
		textBlocks: make(map[int]*strings.Builder),
		toolBlocks: make(map[int]*toolBuffer),
	}
}

func (a *turnAssembler) handle(ctx context.Context, event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		switch start := ev.ContentBlock.AsAny().(type) {
		case sdk.TextBlock:
			a.textBlocks[idx] = &strings.Builder{}
			return a.emit(ctx, model.BlockStart, idx, nil, &model.ContentBlock{Type: "text"})
		case sdk.ThinkingBlock:
			return a.emit(ctx, model.BlockStart, idx, nil, &model.ContentBlock{Type: "thinking"})
		case sdk.ToolUseBlock:
			a.toolBlocks[idx] = &toolBuffer{id: start.ID, name: start.Name}
			return a.emit(ctx, model.BlockStart, idx, nil, &model.ContentBlock{Type: "tool_use", ID: start.ID, Name: start.Name})
		}
		return nil

	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if b := a.textBlocks[idx]; b != nil {
				b.WriteString(delta.Text)
			}
			return a.emit(ctx, model.BlockDelta, idx, &model.Delta{Type: "text_delta", Text: delta.Text}, nil)
		case sdk.ThinkingDelta:
			return a.emit(ctx, model.BlockDelta, idx, &model.Delta{Type: "thinking_delta", Thinking: delta.Thinking}, nil)
		case sdk.InputJSONDelta:
			if tb := a.toolBlocks[idx]; tb != nil {
				tb.fragments.WriteString(delta.PartialJSON)
			}
			return a.emit(ctx, model.BlockDelta, idx, &model.Delta{Type: "input_json_delta", PartialJSON: delta.PartialJSON}, nil)
		}
		return nil

	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		if b, ok := a.textBlocks[idx]; ok {
			a.blocks = append(a.blocks, sdk.NewTextBlock(b.String()))
			delete(a.textBlocks, idx)
		}
		if tb, ok := a.toolBlocks[idx]; ok {
			payload := decodeToolInput(tb.fragments.String())
			a.blocks = append(a.blocks, sdk.NewToolUseBlock(tb.id, payload, tb.name))
			delete(a.toolBlocks, idx)
		}
		return a.emit(ctx, model.BlockStop, idx, nil, nil)
	}
	return nil
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

func decodeToolInput(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = "{}"
	}
	return json.RawMessage(trimmed)
}
