// Package job implements the Job Manager & state machine (spec §4.6) and the
// Job/TaskPlan/PlanStep/AttemptHistory data model (spec §3). Grounded on the
// teacher's orchestration/task_api.go + task_worker.go task lifecycle and on
// hitl_interfaces.go's CommandStore/Command pattern for the cancel/resume
// mailbox spec §9 calls for.
package job

import (
	"time"

	"github.com/codeforge/orchestrator/internal/accumulator"
	"github.com/codeforge/orchestrator/internal/model"
)

// State is one of the Job states of spec §3/§4.6.
type State string

const (
	StateQueued    State = "Queued"
	StateRunning   State = "Running"
	StateComplete  State = "Complete"
	StateFailed    State = "Failed"
	StateCancelled State = "Cancelled"
	StateTimedOut  State = "TimedOut"
	StateNeedsHelp State = "NeedsHelp"
)

// IsTerminal reports whether s accepts no further mutation except
// retention-driven deletion (spec §3 invariant).
func (s State) IsTerminal() bool {
	switch s {
	case StateComplete, StateFailed, StateCancelled, StateTimedOut:
		return true
	default:
		return false
	}
}

// ValidationMode is forwarded opaquely to the validator backend
// (SPEC_FULL.md Part A decision 1).
type ValidationMode string

const (
	ValidationStandard   ValidationMode = "standard"
	ValidationEnterprise ValidationMode = "enterprise"
)

// ExecutionMode selects batch vs step-by-step iteration (spec §4.5).
type ExecutionMode string

const (
	ExecutionBatch      ExecutionMode = "batch"
	ExecutionStepByStep ExecutionMode = "stepbystep"
)

// Request is the admitted request body for a job (spec §3).
type Request struct {
	Task           string
	Context        string
	Workspace      string
	Language       string
	MaxIterations  int
	MinScore       float64
	ValidationMode ValidationMode
	ExecutionMode  ExecutionMode
	AutoWriteFiles bool

	// ResourceBudget is the declared resource-weight ceiling the Selector
	// filters ModelDescriptor.ApproximateWeight against (spec §4.1:
	// "resource weight fits the declared budget"). The facade fills in
	// Orchestrator.DefaultResourceBudget when the admission request omits
	// it; <= 0 here means no budget was ever declared and every weight
	// fits.
	ResourceBudget float64
}

// PhaseStatus is the outcome recorded on a PhaseInfo entry.
type PhaseStatus string

const (
	PhaseStarted   PhaseStatus = "started"
	PhaseSucceeded PhaseStatus = "succeeded"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
)

// PhaseInfo is one timeline entry (spec §3).
type PhaseInfo struct {
	Name        string
	Iteration   int
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMs  int64
	Status      PhaseStatus
	Details     string
}

// PlanStepStatus is a PlanStep's lifecycle state (spec §3).
type PlanStepStatus string

const (
	StepPending    PlanStepStatus = "pending"
	StepInProgress PlanStepStatus = "in_progress"
	StepCompleted  PlanStepStatus = "completed"
	StepFailed     PlanStepStatus = "failed"
)

// PlanStep is one step of a TaskPlan (spec §3).
type PlanStep struct {
	Order       int
	Description string
	TargetFile  string
	Status      PlanStepStatus
}

// TaskPlan is produced by the thinker in step-by-step mode's iteration 0
// (spec §4.5).
type TaskPlan struct {
	RequiredComponents []string
	DependencyOrder    []string
	Steps              []PlanStep
}

// AttemptHistory is one recorded iteration attempt (spec §3).
type AttemptHistory struct {
	Iteration   int
	Model       string
	Score       float64
	Issues      []string
	BuildErrors []string
	DurationMs  int64
	RecordedAt  time.Time
}

// HelpRequest is the free-text payload a caller posts to unstick a
// NeedsHelp job (spec §4.5/§6.2).
type HelpRequest struct {
	Hint        string
	CodeSnippet string
	FocusFile   string
	SkipStep    bool
}

// TaskError is the user-visible failure record (spec §7).
type TaskError struct {
	Type          string
	Message       string
	Phase         string
	PartialResult []model.FileChange
	CanRetry      bool
	Details       string
}

// Timestamps tracks the job's lifecycle clock (spec §3).
type Timestamps struct {
	StartedAt     time.Time
	LastUpdatedAt time.Time
	CompletedAt   time.Time
}

// Job is the orchestrator's central unit of work (spec §3).
type Job struct {
	ID      string
	Request Request

	State         State
	Progress      int
	CurrentPhase  string
	Iteration     int
	MaxIterations int

	Timeline []PhaseInfo
	Plan     *TaskPlan
	Files    *accumulator.Accumulator

	TriedModels map[model.Purpose]map[string]bool
	History     []AttemptHistory

	CloudUsage model.CloudUsage

	Timestamps Timestamps

	LastError    *TaskError
	NeedsHelpFor string // step description awaiting help, when State == NeedsHelp
	Unpersisted  bool   // true when a StorageError left this job un-checkpointed

	CloudTierUnlocked bool // whether the Cloud tier has been unlocked by escalation
	PremiumUnlocked   bool

	cancelRequested bool
}

// NewJob constructs a freshly admitted job in the Queued state.
func NewJob(id string, req Request) *Job {
	now := nowFunc()
	return &Job{
		ID:            id,
		Request:       req,
		State:         StateQueued,
		MaxIterations: req.MaxIterations,
		Files:         accumulator.New(nil),
		TriedModels: map[model.Purpose]map[string]bool{
			model.PurposeCodeGeneration: {},
			model.PurposeThinking:       {},
			model.PurposeValidation:     {},
		},
		Timestamps: Timestamps{StartedAt: now, LastUpdatedAt: now},
	}
}

// nowFunc is a seam for deterministic tests.
var nowFunc = time.Now

// Tried reports whether model id has already been tried for purpose.
func (j *Job) Tried(purpose model.Purpose, id string) bool {
	return j.TriedModels[purpose][id]
}

// MarkTried records id as tried for purpose.
func (j *Job) MarkTried(purpose model.Purpose, id string) {
	if j.TriedModels[purpose] == nil {
		j.TriedModels[purpose] = map[string]bool{}
	}
	j.TriedModels[purpose][id] = true
}

// ExcludedSet returns a copy of the excluded-model set for purpose, safe to
// pass by value into the Selector (spec §9: "passed into the Selector by
// value per call; never mutated by collaborators").
func (j *Job) ExcludedSet(purpose model.Purpose) map[string]bool {
	out := make(map[string]bool, len(j.TriedModels[purpose]))
	for k, v := range j.TriedModels[purpose] {
		out[k] = v
	}
	return out
}

// MaxTier reports the highest tier unlocked by escalation so far.
func (j *Job) MaxTier() model.Tier {
	if j.PremiumUnlocked {
		return model.TierPremium
	}
	if j.CloudTierUnlocked {
		return model.TierCloud
	}
	return model.TierLocal
}

// AppendPhase appends a timeline entry and bumps LastUpdatedAt.
func (j *Job) AppendPhase(p PhaseInfo) {
	j.Timeline = append(j.Timeline, p)
	j.Timestamps.LastUpdatedAt = nowFunc()
}

// CancelRequested reports whether a cancel command has been observed.
func (j *Job) CancelRequested() bool { return j.cancelRequested }

// RequestCancel sets the cooperative cancellation flag. Idempotent
// (spec §5: "Cancellation is idempotent").
func (j *Job) RequestCancel() { j.cancelRequested = true }
