// Package model implements the Model Registry & Selector (spec §4.1), the
// collaborator client contracts (spec §6.1), and the Learning Feedback
// Channel's performance store (spec §2 item 9), grounded on the teacher's
// ai/registry.go provider registry, ai/provider.go functional-options
// configuration, and ai/chain_client.go failover pattern.
package model

import "time"

// Purpose is the semantic role a model plays in a pipeline phase.
type Purpose string

const (
	PurposeCodeGeneration Purpose = "CodeGeneration"
	PurposeThinking       Purpose = "Thinking"
	PurposeValidation     Purpose = "Validation"
	PurposeGeneral        Purpose = "General"
)

// Tier groups models by cost/capability class; Local < Cloud < Premium.
type Tier string

const (
	TierLocal   Tier = "Local"
	TierCloud   Tier = "Cloud"
	TierPremium Tier = "Premium"
)

// rank gives tiers a total order so the escalation policy can compare them.
var tierRank = map[Tier]int{TierLocal: 0, TierCloud: 1, TierPremium: 2}

// AtOrBelow reports whether t is reachable when tiers up to and including max
// are unlocked.
func (t Tier) AtOrBelow(max Tier) bool {
	return tierRank[t] <= tierRank[max]
}

// ModelDescriptor is the catalog entry for one model (spec §3).
type ModelDescriptor struct {
	ID                  string   `yaml:"id" json:"id"`
	Purpose             Purpose  `yaml:"purpose" json:"purpose"`
	Tier                Tier     `yaml:"tier" json:"tier"`
	ApproximateWeight   float64  `yaml:"approximate_weight" json:"approximateWeight"`
	Priority            int      `yaml:"priority" json:"priority"`
	SupportedLanguages  []string `yaml:"supported_languages,omitempty" json:"supportedLanguages,omitempty"`
}

// SupportsLanguage reports whether the descriptor is usable for language.
// An empty SupportedLanguages list means "all languages".
func (m ModelDescriptor) SupportsLanguage(language string) bool {
	if len(m.SupportedLanguages) == 0 || language == "" {
		return true
	}
	for _, l := range m.SupportedLanguages {
		if l == language {
			return true
		}
	}
	return false
}

// Complexity buckets a task for performance-record matching.
type Complexity string

const (
	ComplexitySimple      Complexity = "simple"
	ComplexityModerate    Complexity = "moderate"
	ComplexityComplex     Complexity = "complex"
	ComplexityVeryComplex Complexity = "very_complex"
)

// Outcome is the per-iteration result fed back into the performance store.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// Hint narrows candidate selection to models with a track record on similar
// work (spec §4.1's "hint = {language, complexity, keywords}").
type Hint struct {
	Language   string
	Complexity Complexity
	Keywords   []string
}

// PerformanceRecord is one completed iteration's outcome (spec §3).
type PerformanceRecord struct {
	Model       string
	TaskType    Purpose
	Language    string
	Complexity  Complexity
	Outcome     Outcome
	Score       float64
	DurationMs  int64
	Iterations  int
	ErrorType   string
	TaskKeywords []string
	Context     string
	RecordedAt  time.Time
}
