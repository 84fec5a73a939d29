package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/logging"
	"github.com/codeforge/orchestrator/internal/model"
	"github.com/codeforge/orchestrator/internal/orcherr"
	"github.com/codeforge/orchestrator/internal/resilience"
)

// Engine is the Iteration Engine (spec §4.5, §2 item 5). One Engine serves
// every job; per-job state lives on the *job.Job passed to RunJob, so the
// Engine itself holds only read-mostly collaborator wiring and is safe to
// share across the Job Manager's worker pool.
type Engine struct {
	Collab Collaborators
	Langs  map[string]LanguageConfig
	Cfg    Config
	Store  Checkpointer
	Logger logging.Logger

	// OnOutcome, if set, observes every PerformanceRecord alongside the
	// Learning Feedback Channel (spec §2 item 9); cmd/codeforged wires this
	// to internal/metrics' iteration-score histogram without this package
	// importing Prometheus (spec §9: the core must not depend on a specific
	// framework).
	OnOutcome func(model.PerformanceRecord)
}

// New builds an Engine. langs maps a language name (spec's Request.Language,
// e.g. "csharp", "python") to its accumulator policy and sandbox manifest.
func New(collab Collaborators, langs map[string]LanguageConfig, cfg Config, store Checkpointer, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Engine{Collab: collab, Langs: langs, Cfg: cfg, Store: store, Logger: logger.WithComponent("orchestrator/engine")}
}

func (e *Engine) languageFor(name string) LanguageConfig {
	if lc, ok := e.Langs[name]; ok {
		return lc
	}
	return LanguageConfig{}
}

// RunJob implements job.Runner: it drives j to a terminal state (or
// NeedsHelp) according to j.Request.ExecutionMode.
func (e *Engine) RunJob(ctx context.Context, j *job.Job, mailbox *job.Mailbox) error {
	if j.Request.ExecutionMode == job.ExecutionStepByStep {
		return e.runStepByStep(ctx, j, mailbox)
	}
	return e.runBatch(ctx, j, mailbox)
}

// runBatch implements spec §4.5's batch-mode pipeline.
func (e *Engine) runBatch(ctx context.Context, j *job.Job, mailbox *job.Mailbox) error {
	lang := e.languageFor(j.Request.Language)

	var bestScore float64 = -1
	var bestFiles []model.FileChange

	for {
		if e.observeCancel(j, mailbox) {
			return nil
		}
		if ctx.Err() != nil {
			return e.timeout(j, bestFiles)
		}
		if j.Iteration >= j.MaxIterations {
			return e.fail(j, "AllIterationsExhausted", "maximum iterations reached without an acceptable score",
				"Decide", bestFiles, false)
		}
		j.Iteration++
		j.CurrentPhase = "Iterate"

		feedback, descriptor, genErr := e.iterate(ctx, j, lang, j.Request.Context, nil)
		if genErr != nil {
			if orcherr.IsTerminal(genErr) {
				if k, _ := orcherr.KindOf(genErr); k == orcherr.KindCancelled {
					return nil
				}
				if k, _ := orcherr.KindOf(genErr); k == orcherr.KindTimedOut {
					return e.timeout(j, bestFiles)
				}
				if k, _ := orcherr.KindOf(genErr); k == orcherr.KindAllExhausted {
					return e.fail(j, "AllModelsExhausted", genErr.Error(), j.CurrentPhase, bestFiles, j.CloudTierUnlocked)
				}
				if k, _ := orcherr.KindOf(genErr); k == orcherr.KindConfig {
					_ = e.fail(j, "ConfigError", genErr.Error(), j.CurrentPhase, bestFiles, false)
					return genErr
				}
			}
			// IterationError/PermanentBackendError: loop to DECIDE via continue.
			e.escalate(j)
			e.checkpoint(j)
			continue
		}

		score := feedback.Score
		if score > bestScore {
			bestScore = score
			bestFiles = j.Files.FinalView()
		}

		j.Progress = e.Cfg.perIterationPct(j.MaxIterations) * j.Iteration
		if j.Progress > 100-e.Cfg.ProgressFinalizePct {
			j.Progress = 100 - e.Cfg.ProgressFinalizePct
		}

		switch {
		case score >= e.Cfg.MinAcceptableScore:
			return e.complete(j, descriptor.ID, feedback, false)
		case score >= e.Cfg.FloorScore && j.Iteration >= e.Cfg.FloorAfterAttempts:
			return e.complete(j, descriptor.ID, feedback, true)
		default:
			e.escalate(j)
			e.checkpoint(j)
		}
	}
}

// iterate runs one THINK -> SELECT -> GENERATE -> ACCUMULATE -> (EXECUTE) ->
// VALIDATE pass and returns the resulting feedback plus the model that was
// used. targetFiles narrows GENERATE to specific files (step-by-step mode);
// nil means "whatever the model judges necessary". extraContext is sent
// verbatim as the code-gen request's Context; callers pass
// j.Request.Context, with a help hint appended in step-by-step mode — this
// is how a help hint reaches the next prompt (spec §4.5, scenario 5).
func (e *Engine) iterate(ctx context.Context, j *job.Job, lang LanguageConfig, extraContext string, targetFiles []string) (model.ValidationFeedback, model.ModelDescriptor, error) {
	start := time.Now()
	guidance := e.think(ctx, j)

	hint := buildHint(j, lang)
	excluded := j.ExcludedSet(model.PurposeCodeGeneration)
	descriptor, ok := e.Collab.Registry.SelectNext(model.PurposeCodeGeneration, excluded, j.MaxTier(), j.Request.ResourceBudget, hint)
	for !ok && j.MaxTier() != model.TierPremium {
		// spec §4.1: "if the Selector returns none in the current tier, the
		// Engine re-asks with the next tier unlocked" — independent of the
		// attempt-count thresholds in escalate(), which only fire at DECIDE.
		if !j.CloudTierUnlocked {
			j.CloudTierUnlocked = true
		} else {
			j.PremiumUnlocked = true
		}
		descriptor, ok = e.Collab.Registry.SelectNext(model.PurposeCodeGeneration, excluded, j.MaxTier(), j.Request.ResourceBudget, hint)
	}
	if !ok {
		return model.ValidationFeedback{}, model.ModelDescriptor{}, orcherr.New("engine.iterate", orcherr.KindAllExhausted, j.ID,
			"no remaining code-generation model across all tiers", nil)
	}

	client, ok := e.Collab.CodeGen[descriptor.ID]
	if !ok {
		return model.ValidationFeedback{}, descriptor, orcherr.New("engine.iterate", orcherr.KindConfig, j.ID,
			"no client wired for model "+descriptor.ID, nil)
	}

	genStart := time.Now()
	j.AppendPhase(job.PhaseInfo{Name: "Generate", Iteration: j.Iteration, StartedAt: genStart, Status: job.PhaseStarted})
	req := model.GenerateRequest{
		Task:                  j.Request.Task,
		Context:               extraContext,
		Language:              j.Request.Language,
		ThinkerGuidance:       guidance,
		AccumulatedFiles:      capFiles(j.Files.ExecutionView(), 200),
		TargetFiles:           targetFiles,
		ExecutionCapabilities: e.executionCapabilities(lang),
		Workspace:             j.Request.Workspace,
	}
	if len(j.History) > 0 {
		last := j.History[len(j.History)-1]
		req.PreviousFeedback = &model.ValidationFeedback{Score: last.Score, Summary: strings.Join(last.Issues, "; ")}
	}

	var resp model.GenerateResponse
	callErr := e.Collab.Envelope.Call(ctx, "codegen:"+descriptor.ID, resilience.CodeGenTimeout, func(ctx context.Context) error {
		var err error
		resp, err = client.Generate(ctx, req)
		if err == nil && !resp.Success {
			return orcherr.New("engine.generate", orcherr.KindIteration, j.ID, resp.Error, nil)
		}
		return err
	})
	j.MarkTried(model.PurposeCodeGeneration, descriptor.ID)
	if callErr != nil {
		j.AppendPhase(job.PhaseInfo{Name: "Generate", Iteration: j.Iteration, Status: job.PhaseFailed, Details: callErr.Error()})
		e.recordOutcome(j, descriptor.ID, model.OutcomeFailure, 0, time.Since(start), callErr)
		attempt := job.AttemptHistory{
			Iteration: j.Iteration, Model: descriptor.ID, Score: 0,
			Issues: []string{callErr.Error()}, DurationMs: time.Since(start).Milliseconds(), RecordedAt: time.Now(),
		}
		j.History = append(j.History, attempt)
		if e.Store != nil {
			if err := e.Store.AppendHistory(j.ID, attempt); err != nil {
				j.Unpersisted = true
			}
		}
		return model.ValidationFeedback{}, descriptor, orcherr.New("engine.iterate", orcherr.KindIteration, j.ID, "generate failed", callErr)
	}
	j.AppendPhase(job.PhaseInfo{Name: "Generate", Iteration: j.Iteration, Status: job.PhaseSucceeded,
		Details: fmt.Sprintf("%d file changes", len(resp.FileChanges))})
	if resp.CloudUsage != nil {
		j.CloudUsage.Provider = resp.CloudUsage.Provider
		j.CloudUsage.Model = resp.CloudUsage.Model
		j.CloudUsage.InputTokens += resp.CloudUsage.InputTokens
		j.CloudUsage.OutputTokens += resp.CloudUsage.OutputTokens
		j.CloudUsage.APICalls++
		j.CloudUsage.EstimatedCost += resp.CloudUsage.EstimatedCost
	}

	j.Files.InsertAll(resp.FileChanges, lang.Policy)

	feedback, buildFailed := e.execute(ctx, j, lang)
	if !buildFailed {
		var err error
		feedback, err = e.validate(ctx, j, lang)
		if err != nil {
			e.recordOutcome(j, descriptor.ID, model.OutcomeFailure, 0, time.Since(start), err)
			return model.ValidationFeedback{}, descriptor, orcherr.New("engine.iterate", orcherr.KindIteration, j.ID, "validate failed", err)
		}
	}

	outcome := model.OutcomeFailure
	switch {
	case feedback.Score >= e.Cfg.MinAcceptableScore:
		outcome = model.OutcomeSuccess
	case feedback.Score >= e.Cfg.FloorScore:
		outcome = model.OutcomePartial
	}
	e.recordOutcome(j, descriptor.ID, outcome, feedback.Score, time.Since(start), nil)

	issues := make([]string, 0, len(feedback.Issues))
	for _, iss := range feedback.Issues {
		issues = append(issues, string(iss.Severity)+": "+iss.Message)
	}
	attempt := job.AttemptHistory{
		Iteration: j.Iteration, Model: descriptor.ID, Score: feedback.Score,
		Issues: issues, BuildErrors: feedback.BuildErrors,
		DurationMs: time.Since(start).Milliseconds(), RecordedAt: time.Now(),
	}
	j.History = append(j.History, attempt)
	if e.Store != nil {
		if err := e.Store.AppendHistory(j.ID, attempt); err != nil {
			j.Unpersisted = true
		}
	}

	return feedback, descriptor, nil
}

// think implements spec §4.5 step 1: non-fatal thinker call appended as
// guidance for the next prompt, only within the configured iteration cap.
func (e *Engine) think(ctx context.Context, j *job.Job) string {
	if j.Iteration > e.Cfg.ThinkIterations || e.Collab.Registry == nil {
		return ""
	}
	descriptor, err := e.Collab.Registry.Primary(model.PurposeThinking)
	if err != nil {
		return ""
	}
	client, ok := e.Collab.Thinkers[descriptor.ID]
	if !ok {
		return ""
	}
	start := time.Now()
	j.AppendPhase(job.PhaseInfo{Name: "Think", Iteration: j.Iteration, StartedAt: start, Status: job.PhaseStarted})

	history := make([]string, 0, len(j.History))
	for _, h := range j.History {
		history = append(history, fmt.Sprintf("iter %d: model=%s score=%.1f", h.Iteration, h.Model, h.Score))
	}
	fileSummary := summarizeFiles(j.Files.FinalView())

	var guidance string
	callErr := e.Collab.Envelope.Call(ctx, "thinker:"+descriptor.ID, resilience.ThinkerTimeout, func(ctx context.Context) error {
		var err error
		guidance, err = client.Think(ctx, j.Request.Task, j.Request.Context, fileSummary, history)
		return err
	})
	if callErr != nil {
		// Non-fatal: the iteration proceeds without guidance (spec §4.5 step 1).
		j.AppendPhase(job.PhaseInfo{Name: "Think", Iteration: j.Iteration, Status: job.PhaseFailed, Details: callErr.Error()})
		return ""
	}
	j.AppendPhase(job.PhaseInfo{Name: "Think", Iteration: j.Iteration, Status: job.PhaseSucceeded})
	return guidance
}

// execute implements spec §4.5 step 5: optional sandbox run. It returns
// buildFailed=true when a synthesized zero-score ValidationFeedback should
// short-circuit VALIDATE.
func (e *Engine) execute(ctx context.Context, j *job.Job, lang LanguageConfig) (model.ValidationFeedback, bool) {
	if e.Collab.Sandbox == nil || lang.Manifest.SkipExecution {
		return model.ValidationFeedback{}, false
	}
	start := time.Now()
	j.AppendPhase(job.PhaseInfo{Name: "Execute", Iteration: j.Iteration, StartedAt: start, Status: job.PhaseStarted})

	var result model.ExecutionResult
	callErr := e.Collab.Envelope.Call(ctx, "sandbox", resilience.SandboxTimeout, func(ctx context.Context) error {
		var err error
		result, err = e.Collab.Sandbox.Run(ctx, lang.Manifest, j.Files.ExecutionView())
		return err
	})
	if callErr != nil {
		j.AppendPhase(job.PhaseInfo{Name: "Execute", Iteration: j.Iteration, Status: job.PhaseFailed, Details: callErr.Error()})
		return model.ValidationFeedback{Score: 0, BuildErrors: []string{callErr.Error()}}, true
	}
	if !result.Built {
		j.AppendPhase(job.PhaseInfo{Name: "Execute", Iteration: j.Iteration, Status: job.PhaseFailed, Details: "build failed"})
		return model.ValidationFeedback{Score: 0, BuildErrors: result.BuildErrors, Summary: "build failed"}, true
	}
	j.AppendPhase(job.PhaseInfo{Name: "Execute", Iteration: j.Iteration, Status: job.PhaseSucceeded})
	return model.ValidationFeedback{}, false
}

// validate implements spec §4.5 step 6.
func (e *Engine) validate(ctx context.Context, j *job.Job, lang LanguageConfig) (model.ValidationFeedback, error) {
	start := time.Now()
	j.AppendPhase(job.PhaseInfo{Name: "Validate", Iteration: j.Iteration, StartedAt: start, Status: job.PhaseStarted})

	descriptor, err := e.Collab.Registry.Primary(model.PurposeValidation)
	if err != nil {
		return model.ValidationFeedback{}, err
	}
	client, ok := e.Collab.Validators[descriptor.ID]
	if !ok {
		return model.ValidationFeedback{}, orcherr.New("engine.validate", orcherr.KindConfig, j.ID, "no validator client wired for "+descriptor.ID, nil)
	}

	req := model.ValidateRequest{
		Files:        j.Files.Clean(lang.Policy),
		Context:      j.Request.Context,
		Language:     j.Request.Language,
		Mode:         string(j.Request.ValidationMode),
		OriginalTask: j.Request.Task,
		Workspace:    j.Request.Workspace,
	}

	var feedback model.ValidationFeedback
	callErr := e.Collab.Envelope.Call(ctx, "validator", resilience.ValidatorTimeout, func(ctx context.Context) error {
		var err error
		feedback, err = client.Validate(ctx, req)
		return err
	})
	if callErr != nil {
		j.AppendPhase(job.PhaseInfo{Name: "Validate", Iteration: j.Iteration, Status: job.PhaseFailed, Details: callErr.Error()})
		return model.ValidationFeedback{}, callErr
	}
	j.AppendPhase(job.PhaseInfo{Name: "Validate", Iteration: j.Iteration, Status: job.PhaseSucceeded,
		Details: fmt.Sprintf("score=%.1f", feedback.Score)})
	return feedback, nil
}

// recordOutcome feeds the Learning Feedback Channel (spec §2 item 9).
func (e *Engine) recordOutcome(j *job.Job, modelID string, outcome model.Outcome, score float64, dur time.Duration, err error) {
	if e.Collab.Registry == nil {
		return
	}
	rec := model.PerformanceRecord{
		Model: modelID, TaskType: model.PurposeCodeGeneration, Language: j.Request.Language,
		Complexity: estimateComplexity(j.Request.Task), Outcome: outcome, Score: score,
		DurationMs: dur.Milliseconds(), Iterations: j.Iteration, Context: j.Request.Context,
		TaskKeywords: extractKeywords(j.Request.Task), RecordedAt: time.Now(),
	}
	if err != nil {
		rec.ErrorType = fmt.Sprintf("%v", err)
	}
	e.Collab.Registry.Record(rec)
	if e.Collab.Memory != nil {
		_ = e.Collab.Memory.RecordPerformance(context.Background(), rec)
	}
	if e.OnOutcome != nil {
		e.OnOutcome(rec)
	}
}

// escalate implements spec §4.5 step 7's tier-unlock policy.
func (e *Engine) escalate(j *job.Job) {
	failed := len(j.History)
	if failed >= e.Cfg.Tier2Threshold {
		j.PremiumUnlocked = true
	}
	if failed >= e.Cfg.Tier1Threshold {
		j.CloudTierUnlocked = true
	}
}

func (e *Engine) observeCancel(j *job.Job, mailbox *job.Mailbox) bool {
	select {
	case cmd := <-mailbox.Recv():
		if cmd.Type == job.CommandCancel {
			_ = j.Transition(job.StateCancelled)
			return true
		}
	default:
	}
	return j.CancelRequested()
}

func (e *Engine) timeout(j *job.Job, partial []model.FileChange) error {
	j.LastError = &job.TaskError{Type: "TimedOut", Message: "job-level deadline exceeded", Phase: j.CurrentPhase, PartialResult: partial, CanRetry: true}
	return j.Transition(job.StateTimedOut)
}

func (e *Engine) fail(j *job.Job, kind, message, phase string, partial []model.FileChange, cloudUnlocked bool) error {
	j.LastError = &job.TaskError{Type: kind, Message: message, Phase: phase, PartialResult: partial, CanRetry: cloudUnlocked}
	j.Progress = 100
	return j.Transition(job.StateFailed)
}

func (e *Engine) complete(j *job.Job, modelID string, feedback model.ValidationFeedback, acceptableWithIssues bool) error {
	details := "score " + fmt.Sprintf("%.1f", feedback.Score)
	if acceptableWithIssues {
		details += " (accepted with issues, above floor)"
	}
	j.AppendPhase(job.PhaseInfo{Name: "Complete", Iteration: j.Iteration, Status: job.PhaseSucceeded, Details: details})
	j.Progress = 100
	e.checkpoint(j)
	return j.Transition(job.StateComplete)
}

func (e *Engine) checkpoint(j *job.Job) {
	if e.Store == nil {
		return
	}
	if err := e.Store.SaveJob(j); err != nil {
		j.Unpersisted = true
		j.AppendPhase(job.PhaseInfo{Name: "Persist", Iteration: j.Iteration, Status: job.PhaseFailed, Details: err.Error()})
		return
	}
	if err := e.Store.CheckpointIteration(j.ID, j.Iteration, j.Files.FinalView()); err != nil {
		j.Unpersisted = true
		j.AppendPhase(job.PhaseInfo{Name: "Persist", Iteration: j.Iteration, Status: job.PhaseFailed, Details: err.Error()})
	}
}

func (e *Engine) executionCapabilities(lang LanguageConfig) []string {
	if lang.Manifest.SkipExecution || e.Collab.Sandbox == nil {
		return nil
	}
	return []string{lang.Manifest.Image, lang.Manifest.BuildCommand, lang.Manifest.RunCommand}
}

func buildHint(j *job.Job, lang LanguageConfig) model.Hint {
	return model.Hint{
		Language:   j.Request.Language,
		Complexity: estimateComplexity(j.Request.Task),
		Keywords:   extractKeywords(j.Request.Task),
	}
}

func estimateComplexity(task string) model.Complexity {
	n := len(task)
	switch {
	case n < 100:
		return model.ComplexitySimple
	case n < 400:
		return model.ComplexityModerate
	case n < 1000:
		return model.ComplexityComplex
	default:
		return model.ComplexityVeryComplex
	}
}

func extractKeywords(task string) []string {
	words := strings.Fields(strings.ToLower(task))
	seen := map[string]bool{}
	var out []string
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:()[]{}\"'")
		if len(w) <= 4 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == 8 {
			break
		}
	}
	return out
}

func summarizeFiles(files []model.FileChange) string {
	if len(files) == 0 {
		return "no files accumulated yet"
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Path)
	}
	sort.Strings(names)
	if len(names) > 20 {
		names = append(names[:20], fmt.Sprintf("... (%d more)", len(files)-20))
	}
	return fmt.Sprintf("%d files: %s", len(files), strings.Join(names, ", "))
}

func capFiles(files []model.FileChange, max int) []model.FileChange {
	if len(files) <= max {
		return files
	}
	return files[:max]
}
