// Package orchestrator implements FastModeOrchestrator (spec §4.7): given a
// UserTask, it classifies via the analyzer, produces an OrchestrationPlan
// (synthesizing a trivial one when no planning is required, or delegating to
// a transient high-tier agent when it is), then schedules the plan's
// dependency DAG across the pool, cancelling dependents when a step fails.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"goa.design/agentcore/internal/analyzer"
	"goa.design/agentcore/internal/config"
	"goa.design/agentcore/internal/coreerr"
	"goa.design/agentcore/internal/ids"
	"goa.design/agentcore/internal/model"
	"goa.design/agentcore/internal/orchestrator/planschema"
	"goa.design/agentcore/internal/pool"
	"goa.design/agentcore/internal/stream"
	"goa.design/agentcore/internal/telemetry"
)

// UserTask is the top-level unit of work a caller submits to the
// orchestrator (spec §3 UserTask, trimmed to what the orchestrator itself
// consumes — priority belongs to the queue the operational surface sits on
// top of, not to plan scheduling).
type UserTask struct {
	Text         string
	ContextFiles int
}

// Options configures an Orchestrator.
type Options struct {
	Pool   *pool.Pool
	Coord  *stream.Coordinator
	IDs    *ids.Generator
	Config config.Options
	Tracer telemetry.Tracer
}

// Orchestrator is FastModeOrchestrator: a stateless scheduler built on top
// of a shared Pool and Coordinator. Multiple Run calls may execute
// concurrently against the same Orchestrator.
type Orchestrator struct {
	pool   *pool.Pool
	coord  *stream.Coordinator
	idGen  *ids.Generator
	cfg    config.Options
	tracer telemetry.Tracer
}

// New constructs an Orchestrator.
func New(opts Options) *Orchestrator {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Orchestrator{
		pool:   opts.Pool,
		coord:  opts.Coord,
		idGen:  opts.IDs,
		cfg:    opts.Config.WithDefaults(),
		tracer: tracer,
	}
}

// Run classifies task, plans it, executes the plan's DAG to completion or
// first failure, and returns results keyed by taskId. Canceling ctx aborts
// the whole orchestration: pending steps never start, running agents
// receive interrupt() followed by terminate() (spec §4.7 "Cancellation").
func (o *Orchestrator) Run(ctx context.Context, task UserTask) (map[string]string, error) {
	analysis := analyzer.Analyze(task.Text, task.ContextFiles)

	var plan *planschema.Plan
	if analysis.NeedsPlanning {
		plan = o.requestPlan(ctx, task)
	} else {
		rootID := o.idGen.TaskID()
		tier := o.resolveTier(analysis.SuggestedTier)
		plan = planschema.SingleStep(rootID, task.Text, string(tier))
	}

	run := newRunState(o, plan, analysis.CanParallelize)
	return run.execute(ctx)
}

// requestPlan spawns a transient SMART_HIGH agent, asks it for an
// OrchestrationPlan, and falls back to a single-step plan wrapping the
// original task on any spawn, execution, or parse failure (spec §4.7 step
// 2).
func (o *Orchestrator) requestPlan(ctx context.Context, task UserTask) *planschema.Plan {
	rootID := o.idGen.TaskID()
	fallback := func() *planschema.Plan {
		return planschema.SingleStep(rootID, task.Text, string(model.SmartHigh))
	}

	agentID, err := o.pool.Spawn(ctx, model.SmartHigh)
	if err != nil {
		return fallback()
	}
	defer o.pool.Terminate(agentID)

	planTaskID := o.idGen.TaskID()
	future, err := o.pool.Execute(pool.Task{ID: planTaskID, Content: planningPrompt(rootID, task.Text)}, model.SmartHigh, agentID)
	if err != nil {
		return fallback()
	}
	raw, err := future.Wait(ctx)
	if err != nil {
		return fallback()
	}
	plan, err := planschema.Parse([]byte(raw))
	if err != nil {
		return fallback()
	}
	return plan
}

// planningPrompt builds the textual request for a structured-output
// OrchestrationPlan, embedding the grammar the response must satisfy so the
// planning agent returns directly-parseable JSON.
func planningPrompt(rootTaskID, original string) string {
	return fmt.Sprintf(`Decompose the following task into an OrchestrationPlan.

Task: %s

Respond with a single JSON object matching this shape, and nothing else:
{
  "rootTaskId": %q,
  "steps": [
    {"taskId": "...", "prompt": "...", "modelTier": "FAST|SMART_MID|SMART_HIGH|AUTO", "dependsOn": ["..."]}
  ]
}
Omit dependsOn for steps with no dependencies. Keep the DAG acyclic.`, original, rootTaskID)
}

func (o *Orchestrator) resolveTier(suggested model.Tier) model.Tier {
	if suggested == "" || suggested == model.Auto {
		return model.Tier(o.cfg.DefaultTier)
	}
	return suggested
}

// stepState is a plan step's scheduling status, local to one Run call.
type stepState string

const (
	statePending stepState = "pending"
	stateRunning stepState = "running"
	stateDone    stepState = "done"
	stateFailed  stepState = "failed"
	stateAborted stepState = "aborted"
)

type stepOutcome struct {
	taskID string
	result string
	err    error
}

// runState holds the mutable scheduling state for one Orchestrator.Run
// call's DAG execution (spec §4.7 step 4-5).
type runState struct {
	o              *Orchestrator
	order          []string
	steps          map[string]planschema.Step
	canParallelize bool

	mu       sync.Mutex
	status   map[string]stepState
	launched map[string]bool
	results  map[string]string
	agents   []string
}

func newRunState(o *Orchestrator, plan *planschema.Plan, canParallelize bool) *runState {
	rs := &runState{
		o:              o,
		order:          make([]string, 0, len(plan.Steps)),
		steps:          make(map[string]planschema.Step, len(plan.Steps)),
		canParallelize: canParallelize,
		status:         make(map[string]stepState, len(plan.Steps)),
		launched:       make(map[string]bool, len(plan.Steps)),
		results:        make(map[string]string),
	}
	for _, s := range plan.Steps {
		rs.order = append(rs.order, s.TaskID)
		rs.steps[s.TaskID] = s
		rs.status[s.TaskID] = statePending
	}
	return rs
}

// execute drives the DAG to completion. Independent ready steps launch
// concurrently unless canParallelize is false, in which case at most one
// step runs at a time regardless of what the DAG would otherwise allow.
func (rs *runState) execute(ctx context.Context) (map[string]string, error) {
	outcomes := make(chan stepOutcome, len(rs.order))
	var firstErr error

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go rs.watchCancellation(ctx, watchCtx)

	rs.mu.Lock()
	rs.launchReady(ctx, outcomes)
	rs.mu.Unlock()

	for {
		rs.mu.Lock()
		finished := rs.allSettled()
		rs.mu.Unlock()
		if finished {
			break
		}

		select {
		case <-ctx.Done():
			rs.mu.Lock()
			err := ctx.Err()
			rs.mu.Unlock()
			return rs.snapshotResults(), err
		case out := <-outcomes:
			rs.mu.Lock()
			if out.err != nil {
				rs.status[out.taskID] = stateFailed
				if firstErr == nil {
					firstErr = out.err
				}
				rs.cascadeAbort(out.taskID)
			} else {
				rs.status[out.taskID] = stateDone
				rs.results[out.taskID] = out.result
			}
			rs.launchReady(ctx, outcomes)
			rs.mu.Unlock()
		}
	}
	return rs.snapshotResults(), firstErr
}

func (rs *runState) snapshotResults() map[string]string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]string, len(rs.results))
	for k, v := range rs.results {
		out[k] = v
	}
	return out
}

// allSettled reports whether every step has reached a terminal state. Must
// be called with rs.mu held.
func (rs *runState) allSettled() bool {
	for _, id := range rs.order {
		switch rs.status[id] {
		case stateDone, stateFailed, stateAborted:
		default:
			return false
		}
	}
	return true
}

// readySteps returns pending, unlaunched steps whose dependencies are all
// done, in plan order. Must be called with rs.mu held.
func (rs *runState) readySteps() []string {
	var out []string
	for _, id := range rs.order {
		if rs.status[id] != statePending || rs.launched[id] {
			continue
		}
		ready := true
		for _, dep := range rs.steps[id].DependsOn {
			if rs.status[dep] != stateDone {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, id)
		}
	}
	return out
}

// launchReady starts every currently-ready step, or just the first when
// canParallelize is false. Must be called with rs.mu held.
func (rs *runState) launchReady(ctx context.Context, outcomes chan<- stepOutcome) {
	next := rs.readySteps()
	if !rs.canParallelize && len(next) > 1 {
		next = next[:1]
	}
	for _, id := range next {
		rs.launched[id] = true
		rs.status[id] = stateRunning
		step := rs.steps[id]
		go func() {
			result, agentID, err := rs.o.runStep(ctx, step)
			if agentID != "" {
				rs.mu.Lock()
				rs.agents = append(rs.agents, agentID)
				rs.mu.Unlock()
				if ctx.Err() != nil {
					// The step ended because the run was canceled while its
					// agent was still running: hard-stop that agent here.
					rs.o.pool.Interrupt(agentID)
					rs.o.pool.Terminate(agentID)
				}
			}
			outcomes <- stepOutcome{taskID: id, result: result, err: err}
		}()
	}
}

// cascadeAbort marks every transitive dependent of failedID as ABORTED and
// emits FAILED(errorKind=Aborted) for each without ever spawning them (spec
// §8 scenario 5, §7 "Orchestrator" propagation policy). Must be called with
// rs.mu held.
func (rs *runState) cascadeAbort(failedID string) {
	frontier := []string{failedID}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, id := range rs.order {
			if rs.status[id] != statePending && rs.status[id] != stateRunning {
				continue
			}
			for _, dep := range rs.steps[id].DependsOn {
				if dep != cur {
					continue
				}
				if rs.status[id] == statePending {
					rs.status[id] = stateAborted
					rs.launched[id] = true
					rs.o.coord.Failed("", id, coreerr.Aborted, fmt.Sprintf("dependency %q failed", cur))
					frontier = append(frontier, id)
				}
				break
			}
		}
	}
}

// runStep acquires an agent of the step's tier (reusing an idle one when
// available, spec §4.7 step 4 "spawn (or reuse idle)"), executes the step,
// and waits for its terminal result.
func (o *Orchestrator) runStep(ctx context.Context, step planschema.Step) (result, agentID string, err error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.step")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	tier := o.resolveTier(model.Tier(step.ModelTier))

	agentID, err = o.acquireAgent(ctx, tier)
	if err != nil {
		return "", "", err
	}
	span.AddEvent("agent.acquired", "agentId", agentID, "tier", string(tier))

	future, err := o.pool.Execute(pool.Task{ID: step.TaskID, Content: step.Prompt}, tier, agentID)
	if err != nil {
		return "", agentID, err
	}
	result, err = future.Wait(ctx)
	return result, agentID, err
}

// acquireAgent reuses an IDLE or DONE agent of tier if one exists — both are
// valid execute() targets (spec §4.7 step 4 "spawn (or reuse idle)"; pool.
// Execute itself allows IDLE or DONE, re-use allowed) — else spawns a fresh
// one.
func (o *Orchestrator) acquireAgent(ctx context.Context, tier model.Tier) (string, error) {
	for _, a := range o.pool.ByTier(tier) {
		if a.Status == pool.Idle || a.Status == pool.Done {
			return a.ID, nil
		}
	}
	return o.pool.Spawn(ctx, tier)
}

// watchCancellation propagates ctx cancellation as hard termination to
// every agent whose step has already returned (spec §4.7 "Cancellation"):
// interrupt() followed by terminate(). Agents whose step is still running
// are stopped the same way by their own step goroutine in launchReady, once
// the canceled ctx makes the step return. watchCtx lets execute stop this
// goroutine once the run has already finished on its own.
func (rs *runState) watchCancellation(ctx, watchCtx context.Context) {
	select {
	case <-ctx.Done():
	case <-watchCtx.Done():
		return
	}
	rs.mu.Lock()
	agents := append([]string(nil), rs.agents...)
	rs.mu.Unlock()
	for _, id := range agents {
		rs.o.pool.Interrupt(id)
		rs.o.pool.Terminate(id)
	}
}
