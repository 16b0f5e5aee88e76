// Package session implements AgentSession (spec §4.3): a per-session state
// machine that drives one streaming conversation with an opaque
// model.Client, translating its tagged event stream into the typed
// model.Events callback record.
package session

import (
	"context"
	"sync"
	"sync/atomic"

	"goa.design/agentcore/internal/coreerr"
	"goa.design/agentcore/internal/model"
	"goa.design/agentcore/internal/queue"
	"goa.design/agentcore/internal/telemetry"
)

// Status is AgentSession's own lifecycle state, distinct from the
// task-scoped AgentState.Status the pool package tracks per pool entry.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusError   Status = "ERROR"
)

// InputSource is the narrow surface Session needs from a message queue:
// queue.Queue satisfies it directly; smartqueue.Queue satisfies it through
// the NormalInput adapter (priority defaults to NORMAL for session.Send).
type InputSource interface {
	Enqueue(payload string) (*queue.Ack, error)
	Next(ctx context.Context) (payload string, ok bool, err error)
	Abort()
}

// Options configures a new Session.
type Options struct {
	// ResumeSessionID, if set, is echoed back verbatim as the session id and
	// passed to the client as RunOptions.Resume.
	ResumeSessionID string
	Tier            model.Tier
	RunOptions      model.RunOptions
	Client          model.Client
	Input           InputSource
	Events          model.Events
	// HasCredentials reports whether credentials are available; nil means
	// always true. Checked once by Start.
	HasCredentials func() bool
	// IDGen generates a session id when ResumeSessionID is empty.
	IDGen func() string
	Logger telemetry.Logger
}

// Session drives one streaming conversation. The zero value is not usable;
// construct with New.
type Session struct {
	mu        sync.Mutex
	status    Status
	sessionID string
	resumed   bool
	tier      model.Tier
	baseOpts  model.RunOptions
	client    model.Client
	input     InputSource
	events    model.Events
	hasCreds  func() bool
	log       telemetry.Logger

	cancel context.CancelFunc
	doneCh chan struct{}

	isInterrupting atomic.Bool

	idxMu            sync.Mutex
	indexToToolUseID map[int]string
}

// New constructs an IDLE Session.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	sessionID := opts.ResumeSessionID
	resumed := sessionID != ""
	if sessionID == "" && opts.IDGen != nil {
		sessionID = opts.IDGen()
	}
	return &Session{
		status:    StatusIdle,
		sessionID: sessionID,
		resumed:   resumed,
		tier:      opts.Tier,
		baseOpts:  opts.RunOptions,
		client:    opts.Client,
		input:     opts.Input,
		events:    opts.Events,
		hasCreds:  opts.HasCredentials,
		log:       logger,
	}
}

// SessionID returns the current session id. It may be rewritten exactly
// once by an "init" system event reporting the remote-assigned id.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start begins the stream loop asynchronously. It fails with coreerr.Busy if
// the session is already active, or coreerr.Auth if HasCredentials reports
// false. IDLE is the only state Start succeeds from.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.status != StatusIdle {
		s.mu.Unlock()
		return coreerr.New(coreerr.Busy, "session already active")
	}
	if s.hasCreds != nil && !s.hasCreds() {
		s.mu.Unlock()
		return coreerr.New(coreerr.Auth, "credentials not available")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.status = StatusRunning
	s.doneCh = make(chan struct{})
	s.indexToToolUseID = make(map[int]string)
	s.mu.Unlock()

	go s.runLoop(ctx)
	return nil
}

// Send enqueues a user message on the session's input queue. It fails with
// coreerr.NotActive if the session is not RUNNING.
func (s *Session) Send(payload string) error {
	if s.Status() != StatusRunning {
		return coreerr.New(coreerr.NotActive, "session is not running")
	}
	_, err := s.input.Enqueue(payload)
	return err
}

// Interrupt requests the model stop generating the current response. It
// returns true if a stop was signalled, false if the session isn't RUNNING.
// Concurrent calls are coalesced via isInterrupting: only the first actually
// signals the client.
func (s *Session) Interrupt() bool {
	if s.Status() != StatusRunning {
		return false
	}
	if !s.isInterrupting.CompareAndSwap(false, true) {
		return true
	}
	if ic, ok := s.client.(model.Interruptible); ok {
		if err := ic.Interrupt(context.Background()); err != nil {
			s.events.debug("interrupt: " + err.Error())
		}
	}
	return true
}

// SetModel atomically changes the session's model tier. It is a no-op if
// tier already equals the current tier. If the stream is active, it asks the
// client to switch model on the live connection.
func (s *Session) SetModel(tier model.Tier) error {
	s.mu.Lock()
	if s.tier == tier {
		s.mu.Unlock()
		return nil
	}
	s.tier = tier
	active := s.status == StatusRunning
	client := s.client
	s.mu.Unlock()

	if !active {
		return nil
	}
	if ms, ok := client.(model.ModelSwitcher); ok {
		return ms.SwitchModel(context.Background(), tier)
	}
	return nil
}

// Stop terminates the session: the input queue is aborted, the stream loop
// is canceled, and Stop blocks until it has exited. Stop is always
// successful once it returns and is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.status == StatusIdle {
		s.status = StatusDone
		s.mu.Unlock()
		return
	}
	if s.status == StatusDone || s.status == StatusError {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.doneCh
	s.mu.Unlock()

	s.input.Abort()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	// runLoop owns the status transition and the terminal callback on exit;
	// Stop only needs to wait for it (above) to be idempotent.
}

func (s *Session) runOptions() model.RunOptions {
	s.mu.Lock()
	opts := s.baseOpts
	opts.Model = s.tier
	resumeID := ""
	if s.resumed {
		resumeID = s.sessionID
	}
	s.mu.Unlock()
	opts.Resume = resumeID
	return opts
}

func (s *Session) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	inputs := make(chan model.Input)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		defer close(inputs)
		for {
			payload, ok, err := s.input.Next(ctx)
			if err != nil || !ok {
				return
			}
			select {
			case inputs <- model.Input{Payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}()

	events, err := s.client.Run(ctx, s.runOptions(), inputs)
	if err != nil {
		s.fail(coreerr.Wrap(coreerr.ModelTransport, "", err).Error())
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		<-pumpDone
		return
	}

	completed := false
	for ev := range events {
		if s.handleEvent(ev) {
			completed = true
			break
		}
	}
	// The stream ended (closed or terminal); stop pumping input regardless of
	// how it ended, so the input-pump goroutine doesn't block forever on a
	// Next(ctx) that will never be satisfied.
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-pumpDone

	s.mu.Lock()
	wasRunning := s.status == StatusRunning
	if wasRunning {
		s.status = StatusDone
	}
	s.isInterrupting.Store(false)
	s.mu.Unlock()

	// The events channel closed without ever delivering a terminal "result"
	// event — the model.Client was stopped out from under the stream (Stop(),
	// pool.Terminate()'s cancel, or the client simply closing early) rather
	// than completing. messageComplete was never emitted, so emit the
	// alternate terminal callback instead (spec state diagram: stop() is a
	// named path to DONE distinct from a terminal model event).
	if wasRunning && !completed {
		s.events.messageStopped()
	}
}

func (s *Session) fail(message string) {
	s.mu.Lock()
	s.status = StatusError
	s.mu.Unlock()
	s.events.errorf(message)
}

// handleEvent translates one model.Event into the Events callback record
// (spec §4.3 "Stream-event translation"). It returns true when the event is
// the terminal "result" event.
func (s *Session) handleEvent(ev model.Event) (terminal bool) {
	switch ev.Type {
	case model.EventSystem:
		s.handleSystem(ev.System)
	case model.EventStream:
		s.handleStream(ev.Stream)
	case model.EventAssistant:
		s.handleAssistant(ev.Assistant)
	case model.EventResult:
		s.events.messageComplete()
		s.clearToolIndex()
		return true
	}
	return false
}

func (s *Session) handleSystem(sys *model.SystemEvent) {
	if sys == nil || sys.Subtype != "init" {
		return
	}
	s.mu.Lock()
	resumed := s.resumed
	if !resumed {
		s.sessionID = sys.SessionID
	}
	id := s.sessionID
	tier := s.tier
	s.mu.Unlock()
	s.events.sessionInit(model.SessionInit{
		SessionID:    id,
		Resumed:      resumed,
		Model:        sys.Model,
		ModelDisplay: displayName(tier, sys.Model),
	})
}

func (s *Session) handleStream(se *model.StreamEvent) {
	if se == nil {
		return
	}
	switch se.Type {
	case model.BlockDelta:
		s.handleDelta(se.Index, se.Delta)
	case model.BlockStart:
		s.handleBlockStart(se.Index, se.ContentBlock)
	case model.BlockStop:
		toolID := s.lookupToolUseID(se.Index)
		s.events.contentBlockStop(se.Index, toolID)
	}
}

func (s *Session) handleDelta(index int, delta *model.Delta) {
	if delta == nil {
		return
	}
	switch delta.Type {
	case "thinking_delta":
		s.events.thinkingChunk(index, delta.Thinking)
	case "input_json_delta":
		toolUseID := s.lookupToolUseID(index)
		s.events.toolInputDelta(toolUseID, index, delta.PartialJSON)
	default:
		if delta.Text != "" {
			s.events.textChunk(delta.Text)
		}
	}
}

func (s *Session) handleBlockStart(index int, cb *model.ContentBlock) {
	if cb == nil {
		return
	}
	switch cb.Type {
	case "tool_use":
		s.recordToolUseID(index, cb.ID)
		s.events.toolUseStart(cb.ID, cb.Name, cb.Input, index)
	case "tool_result":
		s.events.toolResultStart(cb.ToolUseID, stringifyContent(cb.Content), cb.IsError)
	case "thinking":
		s.events.thinkingStart(index)
	}
}

func (s *Session) handleAssistant(msg *model.AssistantMessage) {
	if msg == nil {
		return
	}
	for _, item := range msg.Content {
		if item.Type != "tool_result" || item.ToolResult == nil {
			continue
		}
		tr := item.ToolResult
		s.events.toolResultComplete(tr.ToolUseID, stringifyContent(tr.Content), tr.IsError)
	}
}

// lookupToolUseID returns the toolUseId recorded for index, or "" if
// nothing was ever announced for it (best-effort mapping).
func (s *Session) lookupToolUseID(index int) string {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	if s.indexToToolUseID == nil {
		return ""
	}
	if id, ok := s.indexToToolUseID[index]; ok {
		return id
	}
	return ""
}

func (s *Session) recordToolUseID(index int, id string) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	if s.indexToToolUseID == nil {
		s.indexToToolUseID = make(map[int]string)
	}
	s.indexToToolUseID[index] = id
}

func (s *Session) clearToolIndex() {
	s.idxMu.Lock()
	s.indexToToolUseID = make(map[int]string)
	s.idxMu.Unlock()
}

func displayName(tier model.Tier, reportedModel string) string {
	if reportedModel != "" {
		return reportedModel
	}
	return string(tier)
}
