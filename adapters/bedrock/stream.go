package bedrock

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/agentcore/internal/model"
)

// turnAssembler translates one Bedrock ConverseStream turn into the §6
// stream_event sequence, buffering enough state to reconstruct the
// assistant message appended to the running conversation afterward.
type turnAssembler struct {
	out chan<- model.Event

	textBlocks map[int]*strings.Builder
	toolBlocks map[int]*toolBuffer

	blocks []brtypes.ContentBlock
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

func (a *turnAssembler) handle(ctx context.Context, event brtypes.ConverseStreamOutput) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		if start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			tb := &toolBuffer{}
			if start.Value.ToolUseId != nil {
				tb.id = *start.Value.ToolUseId
			}
			if start.Value.Name != nil {
				tb.name = *start.Value.Name
			}
			a.toolBlocks[idx] = tb
			return a.emit(ctx, model.BlockStart, idx, nil, &model.ContentBlock{Type: "tool_use", ID: tb.id, Name: tb.name})
		}
		a.textBlocks[idx] = &strings.Builder{}
		return a.emit(ctx, model.BlockStart, idx, nil, &model.ContentBlock{Type: "text"})

	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if b := a.textBlocks[idx]; b != nil {
				b.WriteString(delta.Value)
			}
			return a.emit(ctx, model.BlockDelta, idx, &model.Delta{Type: "text_delta", Text: delta.Value}, nil)
		case *brtypes.ContentBlockDeltaMemberReasoningContent:
			if v, ok := delta.Value.(*brtypes.ReasoningContentBlockDeltaMemberText); ok {
				return a.emit(ctx, model.BlockDelta, idx, &model.Delta{Type: "thinking_delta", Thinking: v.Value}, nil)
			}
			return nil
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if tb := a.toolBlocks[idx]; tb != nil && delta.Value.Input != nil {
				tb.fragments.WriteString(*delta.Value.Input)
				return a.emit(ctx, model.BlockDelta, idx, &model.Delta{Type: "input_json_delta", PartialJSON: *delta.Value.Input}, nil)
			}
			return nil
		}
		return nil

	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		if b, ok := a.textBlocks[idx]; ok {
			a.blocks = append(a.blocks, &brtypes.ContentBlockMemberText{Value: b.String()})
			delete(a.textBlocks, idx)
		}
		if tb, ok := a.toolBlocks[idx]; ok {
			a.blocks = append(a.blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
				ToolUseId: &tb.id,
				Name:      &tb.name,
				Input:     decodeToolInput(tb.fragments.String()),
			}})
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

func contentIndex(v *int32) (int, error) {
	if v == nil {
		return 0, nil
	}
	return int(*v), nil
}

func decodeToolInput(raw string) document.Interface {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		v = map[string]any{}
	}
	return document.NewLazyDocument(&v)
}
