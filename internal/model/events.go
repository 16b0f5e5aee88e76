package model

import "encoding/json"

// SessionInit reports the remote-assigned (or echoed resumed) session id
// along with the model that produced it.
type SessionInit struct {
	SessionID    string
	Resumed      bool
	Model        string
	ModelDisplay string
}

// Events is the callback record an AgentSession is constructed with (spec
// §6 "Callback interface emitted by AgentSession"). Each field is optional;
// a nil callback is simply not invoked. This struct-of-funcs shape is the
// Go-idiomatic translation of the source's per-emitter callback zoo (Design
// Notes §9).
type Events struct {
	OnTextChunk          func(text string)
	OnThinkingStart      func(index int)
	OnThinkingChunk      func(index int, delta string)
	OnToolUseStart       func(id, name string, input json.RawMessage, streamIndex int)
	OnToolInputDelta     func(toolUseID string, index int, delta string)
	OnToolResultStart    func(toolUseID string, content string, isError bool)
	OnToolResultComplete func(toolUseID string, content string, isError bool)
	OnContentBlockStop   func(index int, toolID string)
	OnMessageComplete    func()
	OnMessageStopped     func()
	OnError              func(message string)
	OnSessionInit        func(init SessionInit)
	OnDebug              func(message string)
}

func (e Events) textChunk(text string) {
	if e.OnTextChunk != nil {
		e.OnTextChunk(text)
	}
}

func (e Events) thinkingStart(index int) {
	if e.OnThinkingStart != nil {
		e.OnThinkingStart(index)
	}
}

func (e Events) thinkingChunk(index int, delta string) {
	if e.OnThinkingChunk != nil {
		e.OnThinkingChunk(index, delta)
	}
}

func (e Events) toolUseStart(id, name string, input json.RawMessage, streamIndex int) {
	if e.OnToolUseStart != nil {
		e.OnToolUseStart(id, name, input, streamIndex)
	}
}

func (e Events) toolInputDelta(toolUseID string, index int, delta string) {
	if e.OnToolInputDelta != nil {
		e.OnToolInputDelta(toolUseID, index, delta)
	}
}

func (e Events) toolResultStart(toolUseID, content string, isError bool) {
	if e.OnToolResultStart != nil {
		e.OnToolResultStart(toolUseID, content, isError)
	}
}

func (e Events) toolResultComplete(toolUseID, content string, isError bool) {
	if e.OnToolResultComplete != nil {
		e.OnToolResultComplete(toolUseID, content, isError)
	}
}

func (e Events) contentBlockStop(index int, toolID string) {
	if e.OnContentBlockStop != nil {
		e.OnContentBlockStop(index, toolID)
	}
}

func (e Events) messageComplete() {
	if e.OnMessageComplete != nil {
		e.OnMessageComplete()
	}
}

func (e Events) messageStopped() {
	if e.OnMessageStopped != nil {
		e.OnMessageStopped()
	}
}

func (e Events) errorf(message string) {
	if e.OnError != nil {
		e.OnError(message)
	}
}

func (e Events) sessionInit(init SessionInit) {
	if e.OnSessionInit != nil {
		e.OnSessionInit(init)
	}
}

func (e Events) debug(message string) {
	if e.OnDebug != nil {
		e.OnDebug(message)
	}
}
