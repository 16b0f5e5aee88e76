package planschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentcore/internal/coreerr"
)

func TestParseValidPlan(t *testing.T) {
	raw := []byte(`{
		"rootTaskId": "root-1",
		"steps": [
			{"taskId": "s1", "prompt": "do the first thing", "modelTier": "FAST"},
			{"taskId": "s2", "prompt": "do the second thing", "modelTier": "SMART_MID", "dependsOn": ["s1"]}
		]
	}`)
	plan, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "root-1", plan.RootTaskID)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, []string{"s1"}, plan.Steps[1].DependsOn)
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	require.Error(t, err)
	assert.True(t, coreerr.Of(err, coreerr.Parse))
}

func TestParseRejectsSchemaViolation(t *testing.T) {
	raw := []byte(`{"rootTaskId": "root-1", "steps": []}`)
	_, err := Parse(raw)
	require.Error(t, err)
	assert.True(t, coreerr.Of(err, coreerr.Parse))
}

func TestParseRejectsUnknownDependency(t *testing.T) {
	raw := []byte(`{
		"rootTaskId": "root-1",
		"steps": [
			{"taskId": "s1", "prompt": "p", "modelTier": "FAST", "dependsOn": ["ghost"]}
		]
	}`)
	_, err := Parse(raw)
	require.Error(t, err)
	assert.True(t, coreerr.Of(err, coreerr.Parse))
}

func TestParseRejectsCycle(t *testing.T) {
	raw := []byte(`{
		"rootTaskId": "root-1",
		"steps": [
			{"taskId": "s1", "prompt": "p", "modelTier": "FAST", "dependsOn": ["s2"]},
			{"taskId": "s2", "prompt": "p", "modelTier": "FAST", "dependsOn": ["s1"]}
		]
	}`)
	_, err := Parse(raw)
	require.Error(t, err)
}

func TestParseRejectsDuplicateTaskID(t *testing.T) {
	raw := []byte(`{
		"rootTaskId": "root-1",
		"steps": [
			{"taskId": "s1", "prompt": "p", "modelTier": "FAST"},
			{"taskId": "s1", "prompt": "p2", "modelTier": "FAST"}
		]
	}`)
	_, err := Parse(raw)
	require.Error(t, err)
}

func TestSingleStepFallback(t *testing.T) {
	plan := SingleStep("root-1", "original prompt", "FAST")
	assert.Equal(t, "root-1", plan.RootTaskID)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "original prompt", plan.Steps[0].Prompt)
}
