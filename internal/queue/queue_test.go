package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/internal/coreerr"
)

func TestEnqueueThenNextFIFO(t *testing.T) {
	q := New("s1")
	ctx := context.Background()

	ack1, err := q.Enqueue("a")
	require.NoError(t, err)
	ack2, err := q.Enqueue("b")
	require.NoError(t, err)

	payload, ok, err := q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", payload)
	require.NoError(t, ack1.Wait(ctx))

	payload, ok, err = q.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", payload)
	require.NoError(t, ack2.Wait(ctx))
}

func TestNextSuspendsThenBypassesBuffer(t *testing.T) {
	q := New("s1")
	ctx := context.Background()

	type result struct {
		payload string
		ok      bool
	}
	resultCh := make(chan result, 1)
	go func() {
		p, ok, _ := q.Next(ctx)
		resultCh <- result{p, ok}
	}()

	time.Sleep(10 * time.Millisecond) // let Next suspend on a waiter
	ack, err := q.Enqueue("hello")
	require.NoError(t, err)
	require.NoError(t, ack.Wait(ctx))

	select {
	case r := <-resultCh:
		assert.True(t, r.ok)
		assert.Equal(t, "hello", r.payload)
	case <-time.After(time.Second):
		t.Fatal("Next never received the hand-off item")
	}
}

func TestEnqueueAfterAbortFails(t *testing.T) {
	q := New("s1")
	q.Abort()
	_, err := q.Enqueue("x")
	require.Error(t, err)
	assert.True(t, coreerr.Of(err, coreerr.Aborted))
}

func TestAbortRejectsBufferedAcks(t *testing.T) {
	q := New("s1")
	ack, err := q.Enqueue("buffered")
	require.NoError(t, err)

	q.Abort()

	waitErr := ack.Wait(context.Background())
	require.Error(t, waitErr)
	assert.True(t, coreerr.Of(waitErr, coreerr.Aborted))
}

func TestAbortEndsSuspendedNext(t *testing.T) {
	q := New("s1")
	done := make(chan struct{})
	var ok bool
	go func() {
		_, ok, _ = q.Next(context.Background())
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Abort()
	select {
	case <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("abort never unblocked Next")
	}
}

func TestClearResolvesAcksWithoutYielding(t *testing.T) {
	q := New("s1")
	ack1, err := q.Enqueue("a")
	require.NoError(t, err)
	ack2, err := q.Enqueue("b")
	require.NoError(t, err)

	q.Clear()

	require.NoError(t, ack1.Wait(context.Background()))
	require.NoError(t, ack2.Wait(context.Background()))

	// Nothing left to yield.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok, err := q.Next(ctx)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestAbortIsIdempotent(t *testing.T) {
	q := New("s1")
	q.Abort()
	q.Abort()
	_, err := q.Enqueue("x")
	require.Error(t, err)
}

// TestFIFOProperty validates the property-based invariant from spec §8:
// for any sequence of enqueue/Next operations, yielded items are a
// permutation-free prefix of the enqueued items.
func TestFIFOProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("Next yields enqueued items strictly in FIFO order", prop.ForAll(
		func(payloads []string) bool {
			if len(payloads) == 0 {
				return true
			}
			q := New("prop")
			var wg sync.WaitGroup
			var mu sync.Mutex
			acks := make([]*Ack, 0, len(payloads))
			for _, p := range payloads {
				ack, err := q.Enqueue(p)
				if err != nil {
					return false
				}
				mu.Lock()
				acks = append(acks, ack)
				mu.Unlock()
			}
			wg.Wait()

			ctx := context.Background()
			for i, want := range payloads {
				got, ok, err := q.Next(ctx)
				if err != nil || !ok || got != want {
					return false
				}
				if err := acks[i].Wait(ctx); err != nil {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
