// Package reaper implements the optional idle-agent sweep named in
// SPEC_FULL.md §12.1: a background job that terminates pool entries sitting
// in DONE or ERROR for longer than a configured grace period, so a
// long-running process doesn't accumulate finished agents forever. It is
// off by default (config.Options.ReapIdleAfter == 0).
package reaper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"goa.design/agentcore/internal/pool"
	"goa.design/agentcore/internal/telemetry"
)

// Pool is the narrow surface Reaper needs from *pool.Pool.
type Pool interface {
	All() []pool.AgentState
	Terminate(agentID string)
}

// Options configures a Reaper.
type Options struct {
	Pool Pool
	// IdleAfter is the duration a DONE or ERROR agent may sit before being
	// terminated. Zero disables the reaper (Start becomes a no-op).
	IdleAfter time.Duration
	// Interval is how often the sweep runs. Default 30s.
	Interval time.Duration
	Logger   telemetry.Logger
}

// Reaper periodically terminates stale pool entries.
type Reaper struct {
	pool      Pool
	idleAfter time.Duration
	interval  time.Duration
	log       telemetry.Logger
	cron      *cron.Cron
}

// New constructs a Reaper. Call Start to begin sweeping.
func New(opts Options) *Reaper {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{
		pool:      opts.Pool,
		idleAfter: opts.IdleAfter,
		interval:  interval,
		log:       logger,
	}
}

// Start begins the periodic sweep. It is a no-op if idleAfter is zero
// (reaping disabled). Returns a stop function; calling it (or Stop) halts
// the scheduler. Safe to call Start at most once per Reaper.
func (r *Reaper) Start(ctx context.Context) (stop func()) {
	if r.idleAfter <= 0 {
		return func() {}
	}
	c := cron.New()
	spec := "@every " + r.interval.String()
	_, err := c.AddFunc(spec, func() { r.sweep(ctx) })
	if err != nil {
		r.log.Error(ctx, "reaper: invalid sweep interval", "interval", r.interval.String(), "error", err)
		return func() {}
	}
	r.cron = c
	c.Start()
	return func() { c.Stop() }
}

// Stop halts the scheduler if running. Idempotent.
func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// sweep terminates every DONE/ERROR agent whose CompletedAt is older than
// idleAfter.
func (r *Reaper) sweep(ctx context.Context) {
	now := time.Now()
	for _, a := range r.pool.All() {
		if a.Status != pool.Done && a.Status != pool.Error {
			continue
		}
		if a.CompletedAt == nil || now.Sub(*a.CompletedAt) < r.idleAfter {
			continue
		}
		r.log.Debug(ctx, "reaper: terminating idle agent", "agentId", a.ID, "status", string(a.Status))
		r.pool.Terminate(a.ID)
	}
}
