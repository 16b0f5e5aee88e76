// Package analyzer implements TaskAnalyzer / ModelRouter (spec §4.6): a
// pure function from input text (plus optional context) to a TaskAnalysis,
// used by the orchestrator to pick a model tier and decide whether planning
// is required before execution.
package analyzer

import (
	"regexp"

	"goa.design/agentcore/internal/model"
)

// Intent is one of the fixed task-intent categories this analyzer
// recognizes.
type Intent string

const (
	IntentQuestion    Intent = "question"
	IntentDebug       Intent = "debug"
	IntentRefactor    Intent = "refactor"
	IntentCreate      Intent = "create"
	IntentEdit        Intent = "edit"
	IntentOrchestrate Intent = "orchestrate"
	IntentResearch    Intent = "research"
	IntentChat        Intent = "chat"
)

// EstimatedTime buckets the expected wall-clock cost of a task.
type EstimatedTime string

const (
	Fast   EstimatedTime = "fast"
	Medium EstimatedTime = "medium"
	Slow   EstimatedTime = "slow"
)

// TaskAnalysis is the deterministic classification of one input.
type TaskAnalysis struct {
	Intent         Intent
	Complexity     int
	EstimatedTime  EstimatedTime
	RequiredTools  []string
	SuggestedTier  model.Tier
	CanParallelize bool
	NeedsPlanning  bool
	Confidence     float64
}

type weightedPattern struct {
	re     *regexp.Regexp
	weight int
}

// complexityPatterns is the fixed ordered list scored during complexity
// analysis (spec §4.6 "for each matching pattern in a fixed ordered list,
// add its weight").
var complexityPatterns = []weightedPattern{
	{regexp.MustCompile(`(?i)\barchitect(ure)?\b`), 3},
	{regexp.MustCompile(`(?i)\bmigrat(e|ion)\b`), 3},
	{regexp.MustCompile(`(?i)\brefactor\b`), 2},
	{regexp.MustCompile(`(?i)\bmulti[- ]?step\b`), 2},
	{regexp.MustCompile(`(?i)\bacross (the|multiple) (files|modules|packages)\b`), 2},
	{regexp.MustCompile(`(?i)\bdebug\b`), 1},
	{regexp.MustCompile(`(?i)\bimplement\b`), 1},
	{regexp.MustCompile(`(?i)\btest(s|ing)?\b`), 1},
}

var fastTaskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bfix (a )?typo\b`),
	regexp.MustCompile(`(?i)\brename\b`),
	regexp.MustCompile(`(?i)\bwhat (is|does)\b`),
	regexp.MustCompile(`(?i)\blist\b`),
	regexp.MustCompile(`(?i)\bshow (me )?\b`),
}

var planningRequiredPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmigrat(e|ion)\b`),
	regexp.MustCompile(`(?i)\barchitect(ure)?\b`),
	regexp.MustCompile(`(?i)\bacross (the|multiple) (files|modules|packages)\b`),
	regexp.MustCompile(`(?i)\boverhaul\b`),
}

var planningVerbs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bplan\b`),
	regexp.MustCompile(`(?i)\bdesign\b`),
	regexp.MustCompile(`(?i)\bdecompose\b`),
	regexp.MustCompile(`(?i)\bbreak down\b`),
}

var constraintPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmust\b`),
	regexp.MustCompile(`(?i)\bshould not\b`),
	regexp.MustCompile(`(?i)\bwithout\b`),
	regexp.MustCompile(`(?i)\bonly\b`),
}

var intentPatterns = []struct {
	intent Intent
	re     *regexp.Regexp
}{
	{IntentDebug, regexp.MustCompile(`(?i)\b(fix|debug|bug|crash|error|fail(ing|ure)?)\b`)},
	{IntentRefactor, regexp.MustCompile(`(?i)\brefactor\b`)},
	{IntentCreate, regexp.MustCompile(`(?i)\b(create|add|build|write|generate|implement)\b`)},
	{IntentEdit, regexp.MustCompile(`(?i)\b(edit|update|change|modify|rename)\b`)},
	{IntentOrchestrate, regexp.MustCompile(`(?i)\b(plan|orchestrate|decompose|coordinate)\b`)},
	{IntentResearch, regexp.MustCompile(`(?i)\b(research|investigate|explore|find out)\b`)},
	{IntentQuestion, regexp.MustCompile(`(?i)\b(what|why|how|when|where|explain)\b.*\?`)},
}

var toolPatterns = []struct {
	tool string
	re   *regexp.Regexp
}{
	{"file-read", regexp.MustCompile(`(?i)\b(read|open|show|list)\b`)},
	{"file-write", regexp.MustCompile(`(?i)\b(write|create|edit|update|modify)\b`)},
	{"search", regexp.MustCompile(`(?i)\b(find|search|grep|locate)\b`)},
	{"test-runner", regexp.MustCompile(`(?i)\btest(s|ing)?\b`)},
	{"shell", regexp.MustCompile(`(?i)\b(run|execute|install|build)\b`)},
}

// Analyze classifies text plus an optional count of files already in
// context (contextFiles), per the deterministic scoring rules in spec
// §4.6.
func Analyze(text string, contextFiles int) TaskAnalysis {
	complexity := scoreComplexity(text, contextFiles)
	isFast := matchesAny(text, fastTaskPatterns)
	isPlanning := matchesAny(text, planningRequiredPatterns)

	tier := tierFor(complexity, isFast)
	needsPlanning := complexity >= 8 || isPlanning || matchesAny(text, planningVerbs)

	return TaskAnalysis{
		Intent:         classifyIntent(text),
		Complexity:     complexity,
		EstimatedTime:  estimatedTimeFor(complexity),
		RequiredTools:  requiredTools(text),
		SuggestedTier:  tier,
		CanParallelize: !needsPlanning && complexity <= 5,
		NeedsPlanning:  needsPlanning,
		Confidence:     confidenceFor(text, isFast, isPlanning, complexity),
	}
}

func scoreComplexity(text string, contextFiles int) int {
	complexity := 1
	for _, p := range complexityPatterns {
		if p.re.MatchString(text) {
			complexity += p.weight
		}
	}
	extra := contextFiles - 3
	if extra < 0 {
		extra = 0
	}
	if extra > 3 {
		extra = 3
	}
	complexity += extra

	if matchesAny(text, constraintPatterns) {
		complexity++
	}
	if len(text) > 500 {
		complexity++
	}
	if len(text) > 1000 {
		complexity++
	}
	if complexity > 10 {
		complexity = 10
	}

	isFast := matchesAny(text, fastTaskPatterns)
	if isFast && complexity < 5 {
		complexity -= 2
		if complexity < 1 {
			complexity = 1
		}
	}
	if matchesAny(text, planningRequiredPatterns) {
		if complexity < 8 {
			complexity = 8
		}
	}
	return complexity
}

func tierFor(complexity int, isFast bool) model.Tier {
	switch {
	case complexity <= 2:
		return model.FAST
	case complexity <= 5:
		if isFast {
			return model.FAST
		}
		return model.SmartMid
	case complexity <= 7:
		return model.SmartMid
	default:
		return model.SmartHigh
	}
}

func estimatedTimeFor(complexity int) EstimatedTime {
	switch {
	case complexity <= 3:
		return Fast
	case complexity <= 7:
		return Medium
	default:
		return Slow
	}
}

func confidenceFor(text string, isFast, isPlanning bool, complexity int) float64 {
	confidence := 0.5
	if isFast {
		confidence += 0.2
	}
	if isPlanning {
		confidence += 0.2
	}
	if len(text) < 20 {
		confidence -= 0.2
	}
	if len(text) > 2000 {
		confidence -= 0.1
	}
	if complexity >= 4 && complexity <= 6 {
		confidence -= 0.1
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

func classifyIntent(text string) Intent {
	for _, p := range intentPatterns {
		if p.re.MatchString(text) {
			return p.intent
		}
	}
	return IntentChat
}

func requiredTools(text string) []string {
	var tools []string
	for _, p := range toolPatterns {
		if p.re.MatchString(text) {
			tools = append(tools, p.tool)
		}
	}
	return tools
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
