// Package config captures the recognized configuration options consumed by
// the core at construction (spec §6). It follows goa-ai's plain-struct
// convention rather than a DSL: this module is a library, not a generated
// Goa service, so there is no design package to derive config types from.
package config

import "time"

// Options is the configuration surface consumed by pool.New and
// orchestrator.New; EventBufferSize is passed to stream.New by the caller.
type Options struct {
	// MaxLiveOutputBytes caps the per-agent live-output buffer. Default 10000.
	MaxLiveOutputBytes int
	// EventBufferSize sets the EventCoordinator ring buffer capacity N.
	// Default 1000.
	EventBufferSize int
	// DefaultTier is used when the TaskAnalyzer returns AUTO. Default FAST.
	DefaultTier string
	// InterruptGraceMs is the soft-to-hard cancellation window. Default 5000.
	InterruptGraceMs int
	// MaxConcurrentAgents caps pool spawns; zero means unlimited.
	MaxConcurrentAgents int
	// AgentNamePrefixes maps a model tier to its id prefix.
	AgentNamePrefixes map[string]string
	// SessionIDSeed optionally seeds deterministic id generation for tests.
	SessionIDSeed string
	// ReapIdleAfter, if non-zero, is the idle duration after which a DONE or
	// ERROR agent is automatically terminated by the reaper (§12.1 of
	// SPEC_FULL.md). Zero disables automatic reaping.
	ReapIdleAfter time.Duration
}

// Default returns the spec's documented defaults.
func Default() Options {
	return Options{
		MaxLiveOutputBytes: 10_000,
		EventBufferSize:    1_000,
		DefaultTier:        "FAST",
		InterruptGraceMs:   5_000,
		AgentNamePrefixes: map[string]string{
			"FAST":       "haiku",
			"SMART_MID":  "sonnet",
			"SMART_HIGH": "opus",
			"AUTO":       "auto",
		},
	}
}

// WithDefaults returns a copy of o with every zero-valued field replaced by
// its documented default, matching the teacher's pattern of normalizing
// caller-supplied option structs once at construction time.
func (o Options) WithDefaults() Options {
	d := Default()
	if o.MaxLiveOutputBytes <= 0 {
		o.MaxLiveOutputBytes = d.MaxLiveOutputBytes
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	if o.DefaultTier == "" {
		o.DefaultTier = d.DefaultTier
	}
	if o.InterruptGraceMs <= 0 {
		o.InterruptGraceMs = d.InterruptGraceMs
	}
	if len(o.AgentNamePrefixes) == 0 {
		o.AgentNamePrefixes = d.AgentNamePrefixes
	}
	return o
}

// InterruptGrace returns InterruptGraceMs as a time.Duration.
func (o Options) InterruptGrace() time.Duration {
	return time.Duration(o.InterruptGraceMs) * time.Millisecond
}
