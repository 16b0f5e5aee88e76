// Package planschema defines the OrchestrationPlan wire grammar (spec §9
// open question: "this spec treats plan parsing as opaque and defers the
// grammar to the deploying harness" — this module IS that harness's
// committed choice) and validates it with the same
// compile-a-JSON-schema-then-validate-a-decoded-document pattern goa-ai
// uses for tool payloads (registry/service.go).
package planschema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/agentcore/internal/coreerr"
)

// schemaJSON is the committed JSON Schema for an OrchestrationPlan document.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["rootTaskId", "steps"],
  "properties": {
    "rootTaskId": {"type": "string", "minLength": 1},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["taskId", "prompt", "modelTier"],
        "properties": {
          "taskId": {"type": "string", "minLength": 1},
          "prompt": {"type": "string", "minLength": 1},
          "modelTier": {"type": "string", "enum": ["FAST", "SMART_MID", "SMART_HIGH", "AUTO"]},
          "dependsOn": {
            "type": "array",
            "items": {"type": "string"}
          }
        }
      }
    }
  }
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
			compileErr = fmt.Errorf("unmarshal plan schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("plan.json", doc); err != nil {
			compileErr = fmt.Errorf("add plan schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("plan.json")
	})
	return compiled, compileErr
}

// Step is one node of a Plan's dependency DAG.
type Step struct {
	TaskID    string   `json:"taskId"`
	Prompt    string   `json:"prompt"`
	ModelTier string   `json:"modelTier"`
	DependsOn []string `json:"dependsOn,omitempty"`
}

// Plan is the parsed, schema-valid, dependency-valid OrchestrationPlan
// (spec §3). Once returned by Parse it is read-only.
type Plan struct {
	RootTaskID string `json:"rootTaskId"`
	Steps      []Step `json:"steps"`
}

// Parse validates raw against the committed schema, then checks referential
// integrity of dependsOn (every referenced taskId must exist among the
// plan's own steps) and acyclicity. A single-step fallback plan for
// origText is the caller's responsibility on error (spec §4.7 step 2).
func Parse(raw []byte) (*Plan, error) {
	s, err := schema()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, "plan schema unavailable", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, coreerr.Wrap(coreerr.Parse, "plan is not valid JSON", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, coreerr.Wrap(coreerr.Parse, "plan does not match schema", err)
	}

	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, coreerr.Wrap(coreerr.Parse, "plan decode failed", err)
	}
	if err := validateDAG(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func validateDAG(plan *Plan) error {
	known := make(map[string]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		if known[step.TaskID] {
			return coreerr.Newf(coreerr.Parse, "duplicate taskId %q in plan", step.TaskID)
		}
		known[step.TaskID] = true
	}
	for _, step := range plan.Steps {
		for _, dep := range step.DependsOn {
			if !known[dep] {
				return coreerr.Newf(coreerr.Parse, "step %q depends on unknown taskId %q", step.TaskID, dep)
			}
		}
	}

	state := make(map[string]int) // 0 unvisited, 1 visiting, 2 done
	deps := make(map[string][]string, len(plan.Steps))
	for _, step := range plan.Steps {
		deps[step.TaskID] = step.DependsOn
	}
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case 1:
			return coreerr.Newf(coreerr.Parse, "plan contains a dependency cycle at %q", id)
		case 2:
			return nil
		}
		state[id] = 1
		for _, dep := range deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = 2
		return nil
	}
	for _, step := range plan.Steps {
		if err := visit(step.TaskID); err != nil {
			return err
		}
	}
	return nil
}

// SingleStep builds a trivial one-step fallback plan wrapping the original
// task text, used when plan parsing fails (spec §4.7 step 2).
func SingleStep(rootTaskID, prompt, modelTier string) *Plan {
	return &Plan{
		RootTaskID: rootTaskID,
		Steps: []Step{
			{TaskID: rootTaskID, Prompt: prompt, ModelTier: modelTier},
		},
	}
}
