package smartqueue

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityOrderingUrgentFirst(t *testing.T) {
	q := New("s1", nil)
	ctx := context.Background()

	_, err := q.Enqueue(Normal, "normal-1")
	require.NoError(t, err)
	_, err = q.Enqueue(Todo, "todo-1")
	require.NoError(t, err)
	_, err = q.Enqueue(Urgent, "urgent-1")
	require.NoError(t, err)

	p, ok, err := q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "urgent-1", p)

	p, ok, err = q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "normal-1", p)

	p, ok, err = q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "todo-1", p)
}

func TestFIFOWithinBand(t *testing.T) {
	q := New("s1", nil)
	ctx := context.Background()
	for _, p := range []string{"n1", "n2", "n3"} {
		_, err := q.Enqueue(Normal, p)
		require.NoError(t, err)
	}
	for _, want := range []string{"n1", "n2", "n3"} {
		got, ok, err := q.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestForceInjectJumpsQueue(t *testing.T) {
	q := New("s1", nil)
	ctx := context.Background()
	_, err := q.Enqueue(Todo, "todo-1")
	require.NoError(t, err)
	_, err = q.Enqueue(Normal, "normal-1")
	require.NoError(t, err)

	_, err = q.ForceInject("urgent-override")
	require.NoError(t, err)

	p, ok, err := q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "urgent-override", p)
}

func TestAutoInjectionBeforeNormalHead(t *testing.T) {
	rules := []InjectionRule{
		{
			Trigger: func(next string) bool { return strings.Contains(next, "respond") },
			Payload: "consider TODOs before responding",
		},
	}
	q := New("s1", rules)
	ctx := context.Background()

	_, err := q.Enqueue(Normal, "please respond now")
	require.NoError(t, err)

	p, ok, err := q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "consider TODOs before responding", p)

	// Second drain returns the real item; the rule does not re-fire.
	p, ok, err = q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "please respond now", p)
}

func TestNextSuspendsUntilEnqueue(t *testing.T) {
	q := New("s1", nil)
	done := make(chan string, 1)
	go func() {
		p, ok, _ := q.Next(context.Background())
		if ok {
			done <- p
		}
	}()
	time.Sleep(10 * time.Millisecond)
	_, err := q.Enqueue(Todo, "late")
	require.NoError(t, err)

	select {
	case p := <-done:
		assert.Equal(t, "late", p)
	case <-time.After(time.Second):
		t.Fatal("Next never woke up on enqueue")
	}
}

func TestAbortEndsStream(t *testing.T) {
	q := New("s1", nil)
	q.Abort()
	_, ok, err := q.Next(context.Background())
	assert.False(t, ok)
	assert.NoError(t, err)
}
