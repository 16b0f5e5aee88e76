// Package model defines the opaque ModelClient contract the core consumes
// (spec §6) along with the ModelTier enumeration and the typed per-session
// callback record AgentSession drives. The wire shape (stream_event /
// assistant / result / system) is represented as Go tagged structs rather
// than an interface hierarchy, matching goa-ai's model.Message/Part
// discriminated-union convention.
package model

// Tier is the abstract capability class of a model.
type Tier string

const (
	// FAST is the cheapest, lowest-latency tier.
	FAST Tier = "FAST"
	// SmartMid is a mid-capability tier.
	SmartMid Tier = "SMART_MID"
	// SmartHigh is the highest-capability tier.
	SmartHigh Tier = "SMART_HIGH"
	// Auto defers tier selection to the orchestrator.
	Auto Tier = "AUTO"
)

// Valid reports whether t is one of the four defined tiers.
func (t Tier) Valid() bool {
	switch t {
	case FAST, SmartMid, SmartHigh, Auto:
		return true
	}
	return false
}

// PermissionMode controls how a ModelClient is allowed to apply tool-driven
// edits.
type PermissionMode string

const (
	// PermissionAcceptEdits allows the client to apply edits without asking.
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	// PermissionAsk requires the client to ask before applying edits.
	PermissionAsk PermissionMode = "ask"
	// PermissionDeny forbids the client from applying edits.
	PermissionDeny PermissionMode = "deny"
)
