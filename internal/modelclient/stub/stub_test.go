package stub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/internal/model"
)

func TestClientReplaysScriptAndRecordsInputs(t *testing.T) {
	c := &Client{Script: []model.Event{TextDelta("hi"), Result()}}

	inputs := make(chan model.Input, 1)
	inputs <- model.Input{Payload: "hello"}
	close(inputs)

	events, err := c.Run(context.Background(), model.RunOptions{Model: model.FAST}, inputs)
	require.NoError(t, err)

	var got []model.Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, []string{"hello"}, c.Received())
	assert.Equal(t, model.FAST, c.RunOptionsHistory()[0].Model)
}

func TestClientRunErrFailsImmediately(t *testing.T) {
	c := &Client{RunErr: assert.AnError}
	inputs := make(chan model.Input)
	close(inputs)

	_, err := c.Run(context.Background(), model.RunOptions{}, inputs)
	assert.Equal(t, assert.AnError, err)
}

func TestClientInterrupt(t *testing.T) {
	c := &Client{}
	assert.False(t, c.Interrupted())
	require.NoError(t, c.Interrupt(context.Background()))
	assert.True(t, c.Interrupted())
}
