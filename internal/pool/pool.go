// Package pool implements SubAgentPool (spec §4.4): the owner of the
// agentId → AgentState map, responsible for spawning AgentSessions,
// executing tasks on them, and enforcing the liveOutput cap and the
// maxConcurrentAgents admission limit.
package pool

import (
	"context"
	"sync"
	"time"

	"goa.design/agentcore/internal/config"
	"goa.design/agentcore/internal/coreerr"
	"goa.design/agentcore/internal/ids"
	"goa.design/agentcore/internal/model"
	"goa.design/agentcore/internal/session"
	"goa.design/agentcore/internal/smartqueue"
	"goa.design/agentcore/internal/stream"
	"goa.design/agentcore/internal/telemetry"
)

// Status is the task-scoped status the pool tracks per entry — distinct
// from session.Status, which tracks the underlying connection's own
// one-shot lifecycle (spec §3 AgentState.status).
type Status string

const (
	Idle    Status = "IDLE"
	Running Status = "RUNNING"
	Waiting Status = "WAITING"
	Done    Status = "DONE"
	Error   Status = "ERROR"
)

// Progress is the optional {percent, message} pair an agent may report.
type Progress struct {
	Percent int
	Message string
}

// AgentState is the read-only view external callers receive; only
// pool-internal code mutates the backing entry (spec §5 shared-resource
// policy).
type AgentState struct {
	ID            string
	Tier          model.Tier
	Status        Status
	CurrentTaskID string
	LiveOutput    string
	Progress      *Progress
	SpawnedAt     time.Time
	CompletedAt   *time.Time
	Err           error
}

// Task is one unit of work handed to execute.
type Task struct {
	ID      string
	Content string
}

// Future resolves once the task it was returned for reaches a terminal
// event, matching the "execute awaiting a terminal event" suspension point
// (spec §5).
type Future struct {
	done   chan struct{}
	once   sync.Once
	result string
	err    error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) resolve(result string, err error) {
	f.once.Do(func() {
		f.result, f.err = result, err
		close(f.done)
	})
}

// Wait blocks until the task completes, fails, or ctx is canceled.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type entry struct {
	mu      sync.Mutex
	state   AgentState
	sess    *session.Session
	queue   *smartqueue.Queue
	future  *Future
	waiting *time.Timer
}

// Options configures a Pool.
type Options struct {
	Config  config.Options
	Client  model.Client
	Coord   *stream.Coordinator
	IDs     *ids.Generator
	Metrics telemetry.Metrics
	// HasCredentials gates every session.Start; nil means always true.
	HasCredentials func() bool
}

// Pool owns the agentId → AgentState map and the AgentSessions behind it.
type Pool struct {
	mu      sync.Mutex
	agents  map[string]*entry
	cfg     config.Options
	client  model.Client
	coord   *stream.Coordinator
	idGen   *ids.Generator
	metrics telemetry.Metrics
	hasCred func() bool
	sem     chan struct{}
}

// New constructs an empty Pool.
func New(opts Options) *Pool {
	cfg := opts.Config.WithDefaults()
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	p := &Pool{
		agents:  make(map[string]*entry),
		cfg:     cfg,
		client:  opts.Client,
		coord:   opts.Coord,
		idGen:   opts.IDs,
		metrics: metrics,
		hasCred: opts.HasCredentials,
	}
	if cfg.MaxConcurrentAgents > 0 {
		p.sem = make(chan struct{}, cfg.MaxConcurrentAgents)
	}
	return p
}

// reportPoolSize records the current agent count as a gauge. Callers must
// not hold p.mu.
func (p *Pool) reportPoolSize() {
	p.mu.Lock()
	n := len(p.agents)
	p.mu.Unlock()
	p.metrics.RecordGauge("pool.agents.size", float64(n))
}

// Spawn reserves a concurrency slot (blocking if the pool is at
// maxConcurrentAgents — "excess queues", spec §6) and creates a new IDLE
// pool entry for tier. It returns the freshly allocated agentId.
func (p *Pool) Spawn(ctx context.Context, tier model.Tier) (string, error) {
	if p.sem != nil {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	prefix := p.cfg.AgentNamePrefixes[string(tier)]
	if prefix == "" {
		prefix = "agent"
	}
	id := p.idGen.AgentID(prefix)

	e := &entry{state: AgentState{
		ID:        id,
		Tier:      tier,
		Status:    Idle,
		SpawnedAt: time.Now(),
	}}
	p.mu.Lock()
	p.agents[id] = e
	p.mu.Unlock()
	p.metrics.IncCounter("pool.agent.spawned", 1, "tier", string(tier))
	p.reportPoolSize()
	return id, nil
}

// Execute runs task on agentId, valid only when the agent is IDLE or DONE
// (re-use allowed, spec §4.7 step 4). Each call builds a fresh AgentSession
// against a fresh SmartMessageQueue — the agentId and its AgentState entry
// persist across calls, but the underlying one-shot connection does not, in
// keeping with AgentSession's own no-resurrection FSM (spec §3 lifecycles).
func (p *Pool) Execute(task Task, tier model.Tier, agentID string) (*Future, error) {
	p.mu.Lock()
	e, ok := p.agents[agentID]
	p.mu.Unlock()
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "unknown agent id "+agentID)
	}

	e.mu.Lock()
	if e.state.Status != Idle && e.state.Status != Done {
		status := e.state.Status
		e.mu.Unlock()
		if status == Running || status == Waiting {
			return nil, coreerr.New(coreerr.Busy, "agent already executing a task")
		}
		return nil, coreerr.New(coreerr.Busy, "agent not available for a new task")
	}

	q := smartqueue.New(agentID, nil)
	future := newFuture()
	baseEvents := p.coord.Bind(agentID, task.ID)
	events := p.wrapEvents(e, future, baseEvents)

	sess := session.New(session.Options{
		Tier:           tier,
		Client:         p.client,
		Input:          smartqueue.NormalInput{Q: q},
		Events:         events,
		HasCredentials: p.hasCred,
		IDGen:          p.idGen.SessionID,
	})

	e.sess = sess
	e.queue = q
	e.future = future
	e.state.Status = Running
	e.state.Tier = tier
	e.state.CurrentTaskID = task.ID
	e.state.LiveOutput = ""
	e.state.Progress = nil
	e.state.CompletedAt = nil
	e.state.Err = nil
	e.mu.Unlock()

	if err := sess.Start(); err != nil {
		e.mu.Lock()
		e.state.Status = Error
		e.state.Err = err
		e.mu.Unlock()
		future.resolve("", err)
		return future, err
	}
	if err := sess.Send(task.Content); err != nil {
		e.mu.Lock()
		e.state.Status = Error
		e.state.Err = err
		e.mu.Unlock()
		future.resolve("", err)
		return future, err
	}

	p.coord.Started(agentID, task.ID, tier)
	return future, nil
}

// wrapEvents intercepts the coordinator-bound Events to maintain
// AgentState.LiveOutput and Status, then forwards to base so the
// aggregator still receives every translated event.
func (p *Pool) wrapEvents(e *entry, future *Future, base model.Events) model.Events {
	capBytes := p.cfg.MaxLiveOutputBytes
	wrapped := base
	wrapped.OnTextChunk = func(text string) {
		e.mu.Lock()
		e.state.LiveOutput = appendLiveOutput(e.state.LiveOutput, text, capBytes)
		e.mu.Unlock()
		if base.OnTextChunk != nil {
			base.OnTextChunk(text)
		}
	}
	wrapped.OnMessageComplete = func() {
		e.mu.Lock()
		result := e.state.LiveOutput
		e.mu.Unlock()
		p.finish(e, future, Done, result, nil)
		if base.OnMessageComplete != nil {
			base.OnMessageComplete()
		}
	}
	wrapped.OnMessageStopped = func() {
		e.mu.Lock()
		result := e.state.LiveOutput
		e.mu.Unlock()
		p.finish(e, future, Done, result, nil)
		if base.OnMessageStopped != nil {
			base.OnMessageStopped()
		}
	}
	wrapped.OnError = func(message string) {
		err := coreerr.New(coreerr.ModelTransport, message)
		p.finish(e, future, Error, "", err)
		if base.OnError != nil {
			base.OnError(message)
		}
	}
	return wrapped
}

func (p *Pool) finish(e *entry, future *Future, status Status, result string, err error) {
	e.mu.Lock()
	select {
	case <-future.done:
		// The task already reached its terminal state; later callbacks
		// (e.g. OnMessageStopped during a hard stop) change nothing.
		e.mu.Unlock()
		return
	default:
	}
	if e.waiting != nil {
		e.waiting.Stop()
		e.waiting = nil
	}
	e.state.Status = status
	now := time.Now()
	e.state.CompletedAt = &now
	e.state.Err = err
	future.resolve(result, err)
	e.mu.Unlock()
	p.metrics.IncCounter("pool.task.finished", 1, "status", string(status))
}

// appendLiveOutput enforces spec §3 invariant 4: once the combined buffer
// would exceed capBytes, drop the oldest bytes so the newest 80% remains.
func appendLiveOutput(cur, chunk string, capBytes int) string {
	combined := cur + chunk
	if capBytes <= 0 || len(combined) <= capBytes {
		return combined
	}
	keep := capBytes * 8 / 10
	if keep > len(combined) {
		keep = len(combined)
	}
	return combined[len(combined)-keep:]
}

// Interrupt soft-cancels the running task on agentId. It returns false if
// the agent isn't RUNNING. On success the entry moves to WAITING and a
// grace timer (cfg.InterruptGrace) hard-stops the session if no terminal
// event arrives first.
func (p *Pool) Interrupt(agentID string) (bool, error) {
	p.mu.Lock()
	e, ok := p.agents[agentID]
	p.mu.Unlock()
	if !ok {
		return false, coreerr.New(coreerr.NotFound, "unknown agent id "+agentID)
	}

	e.mu.Lock()
	if e.state.Status != Running {
		e.mu.Unlock()
		return false, nil
	}
	sess := e.sess
	e.state.Status = Waiting
	e.waiting = time.AfterFunc(p.cfg.InterruptGrace(), func() { p.hardStop(agentID) })
	e.mu.Unlock()

	ok = sess.Interrupt()
	return ok, nil
}

func (p *Pool) hardStop(agentID string) {
	p.mu.Lock()
	e, ok := p.agents[agentID]
	p.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	if e.state.Status != Waiting {
		e.mu.Unlock()
		return
	}
	sess := e.sess
	future := e.future
	e.mu.Unlock()
	err := coreerr.New(coreerr.Timeout, "interrupt grace window elapsed")
	p.finish(e, future, Error, "", err)
	if sess != nil {
		sess.Stop()
	}
}

// Terminate hard-stops and removes agentId. A missing id is a no-op
// (idempotent, spec §8).
func (p *Pool) Terminate(agentID string) {
	p.mu.Lock()
	e, ok := p.agents[agentID]
	if ok {
		delete(p.agents, agentID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	sess := e.sess
	taskID := e.state.CurrentTaskID
	tier := e.state.Tier
	if e.waiting != nil {
		e.waiting.Stop()
	}
	e.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
	if taskID != "" {
		p.coord.Forget(agentID, taskID)
	}
	if p.sem != nil {
		<-p.sem
	}
	p.metrics.IncCounter("pool.agent.terminated", 1, "tier", string(tier))
	p.reportPoolSize()
}

// TerminateAll hard-stops and removes every agent, used for process
// shutdown and orchestrator cancellation propagation.
func (p *Pool) TerminateAll() {
	p.mu.Lock()
	agentIDs := make([]string, 0, len(p.agents))
	for id := range p.agents {
		agentIDs = append(agentIDs, id)
	}
	p.mu.Unlock()
	for _, id := range agentIDs {
		p.Terminate(id)
	}
}

// Get returns a snapshot of one agent's state.
func (p *Pool) Get(agentID string) (AgentState, bool) {
	p.mu.Lock()
	e, ok := p.agents[agentID]
	p.mu.Unlock()
	if !ok {
		return AgentState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// All returns a snapshot of every agent's state.
func (p *Pool) All() []AgentState {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.agents))
	for _, e := range p.agents {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	out := make([]AgentState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.state)
		e.mu.Unlock()
	}
	return out
}

// ByStatus filters All by status.
func (p *Pool) ByStatus(status Status) []AgentState {
	var out []AgentState
	for _, s := range p.All() {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

// ByTier filters All by model tier.
func (p *Pool) ByTier(tier model.Tier) []AgentState {
	var out []AgentState
	for _, s := range p.All() {
		if s.Tier == tier {
			out = append(out, s)
		}
	}
	return out
}

// Stats summarizes the pool for the operational surface's status() call.
type Stats struct {
	Total   int
	ByState map[Status]int
}

// Stats aggregates current agent counts by status.
func (p *Pool) Stats() Stats {
	s := Stats{ByState: make(map[Status]int)}
	for _, a := range p.All() {
		s.Total++
		s.ByState[a.Status]++
	}
	return s
}
