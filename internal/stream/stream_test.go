package stream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/internal/coreerr"
)

func TestStartedThenTextThenCompletedOrdering(t *testing.T) {
	c := New(1000)
	var got []SessionEvent
	c.OnEvent(func(e SessionEvent) { got = append(got, e) })

	c.Started("haiku-1", "t-1", "FAST")
	events := c.Bind("haiku-1", "t-1")
	events.OnTextChunk("a.txt\nb.txt")
	events.OnMessageComplete()

	require.Len(t, got, 3)
	assert.Equal(t, Started, got[0].Kind)
	assert.Equal(t, TextDelta, got[1].Kind)
	assert.Equal(t, "a.txt\nb.txt", got[1].Chunk)
	assert.Equal(t, Completed, got[2].Kind)

	assert.True(t, got[0].Seq < got[1].Seq)
	assert.True(t, got[1].Seq < got[2].Seq)
}

func TestToolCallResolvesName(t *testing.T) {
	c := New(1000)
	var got []SessionEvent
	c.OnEvent(func(e SessionEvent) { got = append(got, e) })

	events := c.Bind("haiku-1", "t-1")
	events.OnToolUseStart("u1", "Grep", nil, 0)
	events.OnToolResultComplete("u1", "match", false)
	events.OnMessageComplete()

	require.Len(t, got, 3)
	assert.Equal(t, ToolStart, got[0].Kind)
	assert.Equal(t, "Grep", got[0].ToolName)
	assert.Equal(t, ToolResult, got[1].Kind)
	assert.Equal(t, "Grep", got[1].ToolName)
	assert.Equal(t, "match", got[1].Content)
}

func TestToolResultUnseenIDFallsBackToID(t *testing.T) {
	c := New(1000)
	var got SessionEvent
	c.OnEvent(func(e SessionEvent) {
		if e.Kind == ToolResult {
			got = e
		}
	})
	events := c.Bind("haiku-1", "t-1")
	events.OnToolResultComplete("unseen-id", "x", false)
	assert.Equal(t, "unseen-id", got.ToolName)
}

func TestTerminalEventsCoalesce(t *testing.T) {
	c := New(1000)
	var terminals int
	c.OnEvent(func(e SessionEvent) {
		switch e.Kind {
		case Completed, Failed, Stopped:
			terminals++
		}
	})
	c.Completed("a1", "t-1", "ok")
	c.Completed("a1", "t-1", "ok-again")
	c.Failed("a1", "t-1", coreerr.Internal, "late failure")
	assert.Equal(t, 1, terminals)
}

func TestFailureCancelsDependentsCarriesAbortedKind(t *testing.T) {
	c := New(1000)
	var failures []SessionEvent
	c.OnEvent(func(e SessionEvent) {
		if e.Kind == Failed {
			failures = append(failures, e)
		}
	})

	c.Failed("a1", "s1", coreerr.Internal, "boom")
	c.Failed("a2", "s2", coreerr.Aborted, "s1 failed")
	c.Failed("a3", "s3", coreerr.Aborted, "s1 failed")

	require.Len(t, failures, 3)
	assert.Equal(t, coreerr.Internal, failures[0].ErrorKind)
	assert.Equal(t, coreerr.Aborted, failures[1].ErrorKind)
	assert.Equal(t, coreerr.Aborted, failures[2].ErrorKind)
}

func TestRingOverflowReplayKeepsNewestHalf(t *testing.T) {
	c := New(1000)
	for i := 0; i < 1500; i++ {
		c.Started(fmt.Sprintf("a%d", i), fmt.Sprintf("t%d", i), "FAST")
	}

	sub := c.Aggregate()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var replayed []SessionEvent
	for {
		e, ok := sub.Next(ctx)
		if !ok {
			break
		}
		replayed = append(replayed, e)
	}

	require.GreaterOrEqual(t, len(replayed), 500)
	for i := 1; i < len(replayed); i++ {
		assert.Less(t, replayed[i-1].Seq, replayed[i].Seq)
	}
	assert.Equal(t, int64(1500), replayed[len(replayed)-1].Seq)
}

func TestAggregateDeliversLiveEvents(t *testing.T) {
	c := New(1000)
	sub := c.Aggregate()
	defer sub.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Started("a1", "t1", "FAST")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, Started, e.Kind)
	assert.Equal(t, "a1", e.AgentID)
}

func TestSubscriberCloseDetachesListener(t *testing.T) {
	c := New(1000)
	sub := c.Aggregate()
	sub.Close()

	c.Started("a1", "t1", "FAST")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := sub.Next(ctx)
	assert.False(t, ok)
}
