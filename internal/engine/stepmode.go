package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/model"
	"github.com/codeforge/orchestrator/internal/orcherr"
)

// stepLinePattern recognizes a numbered plan line ("1. Build the Calculator
// class" or "2) Add unit tests") emitted by the thinker when asked to plan.
var stepLinePattern = regexp.MustCompile(`(?m)^\s*(\d+)[.)]\s+(.+?)\s*$`)

// synthesizePlan derives a TaskPlan from the thinker's free-text guidance.
// The thinker contract (spec §6.1) returns a string, not a structured plan,
// so the Engine parses a numbered-list convention and falls back to a
// single step covering the whole task when the guidance doesn't follow it
// (an implementer decision recorded in DESIGN.md).
func synthesizePlan(task, guidance string) job.TaskPlan {
	matches := stepLinePattern.FindAllStringSubmatch(guidance, -1)
	if len(matches) == 0 {
		return job.TaskPlan{
			Steps: []job.PlanStep{{Order: 1, Description: task, Status: job.StepPending}},
		}
	}
	plan := job.TaskPlan{Steps: make([]job.PlanStep, 0, len(matches))}
	for i, m := range matches {
		desc := strings.TrimSpace(m[2])
		plan.RequiredComponents = append(plan.RequiredComponents, desc)
		plan.DependencyOrder = append(plan.DependencyOrder, desc)
		plan.Steps = append(plan.Steps, job.PlanStep{
			Order: i + 1, Description: desc, TargetFile: inferTargetFile(desc), Status: job.StepPending,
		})
	}
	return plan
}

// inferTargetFile makes a best-effort guess at the file a step description
// names (e.g. "Add a Calculator.cs with arithmetic ops" -> "Calculator.cs").
var targetFilePattern = regexp.MustCompile(`[A-Za-z0-9_./-]+\.[A-Za-z0-9]{1,5}`)

func inferTargetFile(desc string) string {
	if m := targetFilePattern.FindString(desc); m != "" {
		return m
	}
	return ""
}

// runStepByStep implements spec §4.5's step-by-step execution mode: a plan
// is generated once (iteration 0), then each PlanStep runs as its own
// mini-pipeline with a bounded per-step retry budget. A step that exhausts
// its budget suspends the job into NeedsHelp; a later Help resume merges
// the caller's hint into the next attempt at the same step, grounded on the
// teacher's hitl_controller.go checkpoint/resume flow.
func (e *Engine) runStepByStep(ctx context.Context, j *job.Job, mailbox *job.Mailbox) error {
	lang := e.languageFor(j.Request.Language)

	if j.Plan == nil {
		if e.observeCancel(j, mailbox) {
			return nil
		}
		guidance := e.think(ctx, j)
		plan := synthesizePlan(j.Request.Task, guidance)
		j.Plan = &plan
		j.AppendPhase(job.PhaseInfo{Name: "Plan", Status: job.PhaseSucceeded, Details: fmt.Sprintf("%d steps", len(plan.Steps))})
		j.Progress = e.Cfg.ProgressPlanPct
		e.checkpoint(j)
	}

	var pendingHint *job.HelpRequest
	if j.NeedsHelpFor != "" {
		select {
		case cmd := <-mailbox.Recv():
			if cmd.Type == job.CommandResume {
				h := cmd.Help
				pendingHint = &h
			}
		default:
		}
		j.NeedsHelpFor = ""
	}

	for i := range j.Plan.Steps {
		step := &j.Plan.Steps[i]
		if step.Status == job.StepCompleted {
			continue
		}
		step.Status = job.StepInProgress

		var lastFeedback model.ValidationFeedback
		completed := false
		for attempts := 0; attempts < e.Cfg.StepRetryBudget; attempts++ {
			if e.observeCancel(j, mailbox) {
				return nil
			}
			if ctx.Err() != nil {
				return e.timeout(j, j.Files.FinalView())
			}
			j.Iteration++

			extraContext := j.Request.Context
			targetFile := step.TargetFile
			if pendingHint != nil {
				extraContext = extraContext + "\nUSER HINT: " + pendingHint.Hint
				if pendingHint.CodeSnippet != "" {
					extraContext += "\nUSER SNIPPET:\n" + pendingHint.CodeSnippet
				}
				if pendingHint.FocusFile != "" {
					targetFile = pendingHint.FocusFile
				}
				skip := pendingHint.SkipStep
				pendingHint = nil
				if skip {
					step.Status = job.StepCompleted
					completed = true
					break
				}
			}

			var targets []string
			if targetFile != "" {
				targets = []string{targetFile}
			}

			feedback, _, err := e.iterate(ctx, j, lang, extraContext, targets)
			if err != nil {
				if orcherr.IsTerminal(err) {
					switch k, _ := orcherr.KindOf(err); k {
					case orcherr.KindCancelled:
						return nil
					case orcherr.KindTimedOut:
						return e.timeout(j, j.Files.FinalView())
					case orcherr.KindAllExhausted:
						return e.fail(j, "AllModelsExhausted", err.Error(), "Generate", j.Files.FinalView(), j.CloudTierUnlocked)
					case orcherr.KindConfig:
						return e.fail(j, "ConfigError", err.Error(), "Generate", j.Files.FinalView(), false)
					}
				}
				e.escalate(j)
				continue
			}
			lastFeedback = feedback
			if feedback.Score >= e.Cfg.FloorScore {
				step.Status = job.StepCompleted
				completed = true
				break
			}
			e.escalate(j)
		}

		if !completed {
			issues := make([]string, 0, len(lastFeedback.Issues))
			for _, iss := range lastFeedback.Issues {
				issues = append(issues, string(iss.Severity)+": "+iss.Message)
			}
			j.NeedsHelpFor = step.Description
			j.LastError = &job.TaskError{
				Type:    "StepExhausted",
				Message: fmt.Sprintf("step %d (%s) exhausted its %d-attempt budget", step.Order, step.Description, e.Cfg.StepRetryBudget),
				Phase:   "Validate",
				Details: fmt.Sprintf("issues: %s | build errors: %s | try POST .../help with {hint, focusFile} naming the fix",
					strings.Join(issues, "; "), strings.Join(lastFeedback.BuildErrors, "; ")),
				PartialResult: j.Files.FinalView(),
			}
			step.Status = job.StepFailed
			return j.Transition(job.StateNeedsHelp)
		}
		e.checkpoint(j)
	}

	j.Progress = 100
	last := model.ValidationFeedback{}
	if len(j.History) > 0 {
		last.Score = j.History[len(j.History)-1].Score
	}
	return e.complete(j, "", last, false)
}
