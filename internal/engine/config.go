// Package engine implements the Iteration Engine (spec §4.5), the heart of
// the orchestrator: the per-job state machine driving THINK -> SELECT ->
// GENERATE -> ACCUMULATE -> (EXECUTE) -> VALIDATE -> DECIDE, in both batch
// and step-by-step execution modes. Grounded on the teacher's
// orchestration/workflow_engine.go (step sequencing, dependency-aware
// retry) and orchestration/executor.go (per-step execution against a
// capability provider, generalized here to the fixed THINK/GENERATE/
// VALIDATE pipeline spec.md §2 item 5 specifies).
package engine

import "time"

// Config holds the Iteration Engine's tunables (spec §6.3).
type Config struct {
	ThinkIterations     int // spec §4.5 step 1 default: 7
	MinAcceptableScore  float64
	FloorScore          float64
	FloorAfterAttempts  int
	Tier1Threshold      int // failed attempts before Cloud tier unlocks
	Tier2Threshold      int // failed attempts before Premium tier unlocks
	StepRetryBudget     int // per-PlanStep retry budget, default 10
	ProgressPlanPct     int
	ProgressFinalizePct int
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		ThinkIterations:     7,
		MinAcceptableScore:  8,
		FloorScore:          6.5,
		FloorAfterAttempts:  3,
		Tier1Threshold:      3,
		Tier2Threshold:      6,
		StepRetryBudget:     10,
		ProgressPlanPct:     10,
		ProgressFinalizePct: 10,
	}
}

// perIterationPct implements spec §4.6's progress calibration:
// per-iteration = (80 / maxIterations)%.
func (c Config) perIterationPct(maxIterations int) int {
	if maxIterations <= 0 {
		return 0
	}
	remaining := 100 - c.ProgressPlanPct - c.ProgressFinalizePct
	return remaining / maxIterations
}

// defaultIterationBudget estimates one iteration's expected wall-clock for
// the job-level soft deadline (spec §5): sum of the per-collaborator
// default timeouts an iteration may touch.
const defaultIterationBudget = 30*time.Second + 120*time.Second + 180*time.Second + 120*time.Second
