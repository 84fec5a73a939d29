// Package facade implements the Orchestration Facade (spec §4.8): request
// admission (validation, path-traversal rejection, sanitization), and the
// management surface (status/cancel/list/help/health) of spec §6.2.
// Grounded on the teacher's orchestration/task_api.go HTTP handler shape.
package facade

import (
	"regexp"
	"strings"

	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/orcherr"
)

// contextPattern implements spec §4.8's context grammar.
var contextPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// dangerousSubstrings are rejected anywhere in the task field (spec §4.8).
var dangerousSubstrings = []string{"<script", "javascript:", "data:", "vbscript:"}

// AdmissionRequest is the wire shape of POST /orchestrate's body.
type AdmissionRequest struct {
	Task           string  `json:"task"`
	Context        string  `json:"context"`
	Workspace      string  `json:"workspace"`
	Language       string  `json:"language"`
	MaxIterations  int     `json:"maxIterations"`
	MinScore       float64 `json:"minScore"`
	ValidationMode string  `json:"validationMode,omitempty"`
	ExecutionMode  string  `json:"executionMode,omitempty"`
	AutoWriteFiles bool    `json:"autoWriteFiles,omitempty"`

	// ResourceBudget declares the Selector's resource-weight ceiling (spec
	// §4.1). Omitted or zero falls back to the facade's configured
	// Orchestrator.DefaultResourceBudget.
	ResourceBudget float64 `json:"resourceBudget,omitempty"`
}

// Validate implements spec §4.8's admission grammar exactly:
//
//	task length 10..10000; context matches ^[A-Za-z0-9_.\-]+$, 1..200 chars;
//	workspace length 1..500 with no ".." or "~"; language in the configured
//	set; maxIterations 1..1000; minScore 0..10; task rejected if it contains
//	a dangerous substring anywhere.
//
// allowedLanguages is the facade's configured language set
// (Facade.AllowedLanguages), not a fixed enum, since the set is
// deployment-specific.
// defaultResourceBudget fills in Request.ResourceBudget when the caller
// omits it (spec §6.3's configuration surface, not an admission-grammar
// field the spec enumerates, so an omitted/zero value is accepted rather
// than rejected).
func Validate(req AdmissionRequest, allowedLanguages map[string]bool, defaultResourceBudget float64) (job.Request, error) {
	switch {
	case len(req.Task) < 10 || len(req.Task) > 10000:
		return job.Request{}, admissionError("task must be 10..10000 characters")
	case len(req.Context) < 1 || len(req.Context) > 200:
		return job.Request{}, admissionError("context must be 1..200 characters")
	case !contextPattern.MatchString(req.Context):
		return job.Request{}, admissionError("context must match ^[A-Za-z0-9_.-]+$")
	case len(req.Workspace) < 1 || len(req.Workspace) > 500:
		return job.Request{}, admissionError("workspace must be 1..500 characters")
	case strings.Contains(req.Workspace, "..") || strings.Contains(req.Workspace, "~"):
		return job.Request{}, admissionError("workspace must not contain .. or ~")
	case !allowedLanguages[req.Language]:
		return job.Request{}, admissionError("language is not in the configured set")
	case req.MaxIterations < 1 || req.MaxIterations > 1000:
		return job.Request{}, admissionError("maxIterations must be 1..1000")
	case req.MinScore < 0 || req.MinScore > 10:
		return job.Request{}, admissionError("minScore must be 0..10")
	case req.ResourceBudget < 0:
		return job.Request{}, admissionError("resourceBudget must be >= 0")
	}
	lowerTask := strings.ToLower(req.Task)
	for _, bad := range dangerousSubstrings {
		if strings.Contains(lowerTask, bad) {
			return job.Request{}, admissionError("task contains a disallowed substring")
		}
	}

	budget := req.ResourceBudget
	if budget == 0 {
		budget = defaultResourceBudget
	}

	out := job.Request{
		Task: req.Task, Context: req.Context, Workspace: req.Workspace, Language: req.Language,
		MaxIterations: req.MaxIterations, MinScore: req.MinScore, AutoWriteFiles: req.AutoWriteFiles,
		ValidationMode: job.ValidationStandard, ExecutionMode: job.ExecutionBatch,
		ResourceBudget: budget,
	}
	if req.ValidationMode == string(job.ValidationEnterprise) {
		out.ValidationMode = job.ValidationEnterprise
	}
	if req.ExecutionMode == string(job.ExecutionStepByStep) {
		out.ExecutionMode = job.ExecutionStepByStep
	}
	return out, nil
}

func admissionError(msg string) *orcherr.Error {
	return orcherr.New("facade.Validate", orcherr.KindValidation, "", msg, nil)
}
