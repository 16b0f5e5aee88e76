package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/internal/pool"
)

type fakePool struct {
	agents     []pool.AgentState
	terminated []string
}

func (f *fakePool) All() []pool.AgentState { return f.agents }
func (f *fakePool) Terminate(agentID string) {
	f.terminated = append(f.terminated, agentID)
}

func TestSweepTerminatesStaleDoneAgents(t *testing.T) {
	stale := time.Now().Add(-time.Hour)
	fresh := time.Now()
	fp := &fakePool{agents: []pool.AgentState{
		{ID: "haiku-1", Status: pool.Done, CompletedAt: &stale},
		{ID: "haiku-2", Status: pool.Done, CompletedAt: &fresh},
		{ID: "haiku-3", Status: pool.Running},
		{ID: "haiku-4", Status: pool.Error, CompletedAt: &stale},
	}}
	r := New(Options{Pool: fp, IdleAfter: time.Minute})

	r.sweep(context.Background())

	assert.ElementsMatch(t, []string{"haiku-1", "haiku-4"}, fp.terminated)
}

func TestStartIsNoOpWhenIdleAfterZero(t *testing.T) {
	fp := &fakePool{}
	r := New(Options{Pool: fp})
	stop := r.Start(context.Background())
	require.NotNil(t, stop)
	stop()
	assert.Nil(t, r.cron)
}
