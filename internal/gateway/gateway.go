// Package gateway implements the harness named in SPEC_FULL.md §12.3, which
// the cmd/agentcored binary serves to drive the core end-to-end, the way
// goa-ai ships cmd/demo. It exposes the operational surface (spec §6) — submit, events,
// interrupt, cancel, shutdown, status — over HTTP and WebSocket, grounded on
// dohr-michael-ozzie's internal/gateway package of the same shape.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/agentcore/internal/coreerr"
	"goa.design/agentcore/internal/ids"
	"goa.design/agentcore/internal/orchestrator"
	"goa.design/agentcore/internal/pool"
	"goa.design/agentcore/internal/stream"
	"goa.design/agentcore/internal/telemetry"
)

// TaskStatus is the lifecycle of one gateway-level submission, distinct
// from pool.Status (per-agent) and session.Status (per-connection): a
// submission may fan out across several agents via the orchestrator's plan.
type TaskStatus string

const (
	TaskRunning TaskStatus = "RUNNING"
	TaskDone    TaskStatus = "DONE"
	TaskFailed  TaskStatus = "FAILED"
	TaskAborted TaskStatus = "ABORTED"
)

// TaskRecord is the gateway's read-only view of one submitted task.
type TaskRecord struct {
	ID        string
	Status    TaskStatus
	Results   map[string]string
	Err       error
	StartedAt time.Time
}

type taskEntry struct {
	mu     sync.Mutex
	record TaskRecord
	cancel context.CancelFunc
}

// Status is the aggregate view returned by the status() operation.
type Status struct {
	Agents     []pool.AgentState
	PoolStats  pool.Stats
	QueueDepth int
	Buffered   int
}

// Gateway wires the orchestrator and pool to the operational surface.
// One Gateway serves one process-wide core instance; it holds no HTTP
// concerns of its own (see Server for that).
type Gateway struct {
	pool  *pool.Pool
	orch  *orchestrator.Orchestrator
	coord *stream.Coordinator
	ids   *ids.Generator
	log   telemetry.Logger

	limiter *rate.Limiter

	mu    sync.Mutex
	tasks map[string]*taskEntry
}

// Options configures a Gateway.
type Options struct {
	Pool          *pool.Pool
	Orchestrator  *orchestrator.Orchestrator
	Coordinator   *stream.Coordinator
	IDs           *ids.Generator
	Logger        telemetry.Logger
	// SubmitRateLimit caps accepted submit() calls per second; zero
	// disables limiting. SubmitBurst is the token bucket's burst size.
	SubmitRateLimit float64
	SubmitBurst     int
}

// New constructs a Gateway.
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	var limiter *rate.Limiter
	if opts.SubmitRateLimit > 0 {
		burst := opts.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.SubmitRateLimit), burst)
	}
	return &Gateway{
		pool:    opts.Pool,
		orch:    opts.Orchestrator,
		coord:   opts.Coordinator,
		ids:     opts.IDs,
		log:     logger,
		limiter: limiter,
		tasks:   make(map[string]*taskEntry),
	}
}

// Submit starts a new orchestration for text and returns its task id
// immediately; the orchestration runs to completion asynchronously and its
// outcome is observable via Task or the events() stream (spec §6 submit).
// It fails with coreerr.Busy if the configured submit rate is exceeded.
func (g *Gateway) Submit(ctx context.Context, text string, contextFiles int) (string, error) {
	if g.limiter != nil && !g.limiter.Allow() {
		return "", coreerr.New(coreerr.Busy, "submit rate limit exceeded")
	}

	id := g.ids.TaskID()
	taskCtx, cancel := context.WithCancel(context.Background())
	entry := &taskEntry{
		record: TaskRecord{ID: id, Status: TaskRunning, StartedAt: time.Now()},
		cancel: cancel,
	}

	g.mu.Lock()
	g.tasks[id] = entry
	g.mu.Unlock()

	go g.run(taskCtx, id, entry, text, contextFiles)
	return id, nil
}

func (g *Gateway) run(ctx context.Context, id string, entry *taskEntry, text string, contextFiles int) {
	results, err := g.orch.Run(ctx, orchestrator.UserTask{Text: text, ContextFiles: contextFiles})

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.record.Results = results
	entry.record.Err = err
	switch {
	case err == nil:
		entry.record.Status = TaskDone
	case errors.Is(err, context.Canceled), coreerr.Of(err, coreerr.Aborted):
		entry.record.Status = TaskAborted
	default:
		entry.record.Status = TaskFailed
	}
	g.log.Info(ctx, "gateway: task settled", "taskId", id, "status", string(entry.record.Status))
}

// Task returns a snapshot of one submitted task's outcome.
func (g *Gateway) Task(id string) (TaskRecord, bool) {
	g.mu.Lock()
	entry, ok := g.tasks[id]
	g.mu.Unlock()
	if !ok {
		return TaskRecord{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.record, true
}

// Cancel hard-aborts a running task: its context is canceled, which
// propagates to the orchestrator as hard termination of every agent it
// spawned (spec §5 cancellation semantics).
func (g *Gateway) Cancel(id string) error {
	g.mu.Lock()
	entry, ok := g.tasks[id]
	g.mu.Unlock()
	if !ok {
		return coreerr.New(coreerr.NotFound, "unknown task id "+id)
	}
	entry.mu.Lock()
	status := entry.record.Status
	entry.mu.Unlock()
	if status != TaskRunning {
		return coreerr.New(coreerr.NotActive, "task "+id+" is not running")
	}
	entry.cancel()
	return nil
}

// Interrupt soft-cancels the task running on agentID (spec §6 interrupt).
func (g *Gateway) Interrupt(agentID string) (bool, error) {
	return g.pool.Interrupt(agentID)
}

// Status reports the process-wide view (spec §6 status).
func (g *Gateway) Status() Status {
	return Status{
		Agents:     g.pool.All(),
		PoolStats:  g.pool.Stats(),
		QueueDepth: g.runningTaskCount(),
		Buffered:   g.coord.Buffered(),
	}
}

func (g *Gateway) runningTaskCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, e := range g.tasks {
		e.mu.Lock()
		if e.record.Status == TaskRunning {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// Shutdown hard-terminates every pool agent and cancels every running
// submission, for process shutdown (spec §6 shutdown).
func (g *Gateway) Shutdown(ctx context.Context) {
	g.mu.Lock()
	entries := make([]*taskEntry, 0, len(g.tasks))
	for _, e := range g.tasks {
		entries = append(entries, e)
	}
	g.mu.Unlock()
	for _, e := range entries {
		e.cancel()
	}
	g.pool.TerminateAll()
	g.log.Info(ctx, "gateway: shutdown complete")
}

// Events returns a pull-based subscription to the aggregate SessionEvent
// stream (spec §6 events()). Callers must Close it on every exit path.
func (g *Gateway) Events() *stream.Subscriber {
	return g.coord.Aggregate()
}
