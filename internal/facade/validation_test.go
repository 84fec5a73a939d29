package facade

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/orcherr"
)

func validRequest() AdmissionRequest {
	return AdmissionRequest{
		Task:          strings.Repeat("a", 20),
		Context:       "checkout-service",
		Workspace:     "/workspace/job-1",
		Language:      "python",
		MaxIterations: 10,
		MinScore:      7.5,
	}
}

var languages = map[string]bool{"python": true, "go": true}

func TestValidateAcceptsWellFormedRequest(t *testing.T) {
	req, err := Validate(validRequest(), languages, 0)
	require.NoError(t, err)
	assert.Equal(t, "python", req.Language)
	assert.Equal(t, job.ValidationStandard, req.ValidationMode)
	assert.Equal(t, job.ExecutionBatch, req.ExecutionMode)
}

func TestValidateAcceptsEnterpriseAndStepByStepOverrides(t *testing.T) {
	r := validRequest()
	r.ValidationMode = "enterprise"
	r.ExecutionMode = "stepbystep"
	req, err := Validate(r, languages, 0)
	require.NoError(t, err)
	assert.Equal(t, job.ValidationEnterprise, req.ValidationMode)
	assert.Equal(t, job.ExecutionStepByStep, req.ExecutionMode)
}

func TestValidateRejectsTaskLength(t *testing.T) {
	r := validRequest()
	r.Task = "short"
	_, err := Validate(r, languages, 0)
	requireValidationError(t, err)
}

func TestValidateRejectsTaskTooLong(t *testing.T) {
	r := validRequest()
	r.Task = strings.Repeat("a", 10001)
	_, err := Validate(r, languages, 0)
	requireValidationError(t, err)
}

func TestValidateRejectsContextPattern(t *testing.T) {
	r := validRequest()
	r.Context = "bad context!"
	_, err := Validate(r, languages, 0)
	requireValidationError(t, err)
}

func TestValidateRejectsContextLength(t *testing.T) {
	r := validRequest()
	r.Context = ""
	_, err := Validate(r, languages, 0)
	requireValidationError(t, err)
}

func TestValidateRejectsWorkspaceTraversal(t *testing.T) {
	for _, ws := range []string{"../etc/passwd", "/workspace/../../etc", "~/secrets"} {
		r := validRequest()
		r.Workspace = ws
		_, err := Validate(r, languages, 0)
		requireValidationError(t, err)
	}
}

func TestValidateRejectsUnknownLanguage(t *testing.T) {
	r := validRequest()
	r.Language = "cobol"
	_, err := Validate(r, languages, 0)
	requireValidationError(t, err)
}

func TestValidateRejectsMaxIterationsOutOfRange(t *testing.T) {
	for _, n := range []int{0, 1001} {
		r := validRequest()
		r.MaxIterations = n
		_, err := Validate(r, languages, 0)
		requireValidationError(t, err)
	}
}

func TestValidateRejectsMinScoreOutOfRange(t *testing.T) {
	for _, n := range []float64{-1, 10.1} {
		r := validRequest()
		r.MinScore = n
		_, err := Validate(r, languages, 0)
		requireValidationError(t, err)
	}
}

func TestValidateFillsInDefaultResourceBudgetWhenOmitted(t *testing.T) {
	req, err := Validate(validRequest(), languages, 10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, req.ResourceBudget)
}

func TestValidatePreservesExplicitResourceBudget(t *testing.T) {
	r := validRequest()
	r.ResourceBudget = 4
	req, err := Validate(r, languages, 10)
	require.NoError(t, err)
	assert.Equal(t, 4.0, req.ResourceBudget)
}

func TestValidateRejectsNegativeResourceBudget(t *testing.T) {
	r := validRequest()
	r.ResourceBudget = -1
	_, err := Validate(r, languages, 10)
	requireValidationError(t, err)
}

func TestValidateRejectsDangerousSubstringCaseInsensitive(t *testing.T) {
	for _, needle := range []string{"<script", "JAVASCRIPT:", "data:text/html", "VBScript:msgbox"} {
		r := validRequest()
		r.Task = strings.Repeat("x", 20) + needle
		_, err := Validate(r, languages, 0)
		requireValidationError(t, err)
	}
}

func requireValidationError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	kind, ok := orcherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindValidation, kind)
}
