package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/model"
	"github.com/codeforge/orchestrator/internal/resilience"
)

func testCatalog() []model.ModelDescriptor {
	return []model.ModelDescriptor{
		{ID: "local-coder", Purpose: model.PurposeCodeGeneration, Tier: model.TierLocal, Priority: 1},
		{ID: "cloud-coder-a", Purpose: model.PurposeCodeGeneration, Tier: model.TierCloud, Priority: 1},
		{ID: "cloud-coder-b", Purpose: model.PurposeCodeGeneration, Tier: model.TierCloud, Priority: 2},
		{ID: "premium-coder", Purpose: model.PurposeCodeGeneration, Tier: model.TierPremium, Priority: 1},
		{ID: "thinker-1", Purpose: model.PurposeThinking, Tier: model.TierLocal, Priority: 1},
		{ID: "validator-1", Purpose: model.PurposeValidation, Tier: model.TierLocal, Priority: 1},
	}
}

func calculatorResponse() model.GenerateResponse {
	return model.GenerateResponse{
		Success: true,
		FileChanges: []model.FileChange{{
			Path: "Calculator.cs", Type: model.ChangeCreated,
			Content: "public class Calculator { public int Add(int a,int b)=>a+b; }",
		}},
	}
}

func buildEngine(t *testing.T, codeGen map[string]model.CodeGenClient, validator model.ValidatorClient) *Engine {
	t.Helper()
	registry, err := model.NewRegistry(testCatalog(), nil)
	require.NoError(t, err)

	collab := Collaborators{
		Registry:   registry,
		CodeGen:    codeGen,
		Thinkers:   map[string]model.ThinkerClient{"thinker-1": &model.MockThinkerClient{Guidance: "proceed"}},
		Validators: map[string]model.ValidatorClient{"validator-1": validator},
		Envelope:   resilience.NewEnvelope(resilience.NewRegistry(nil, nil)),
	}
	return New(collab, map[string]LanguageConfig{}, DefaultConfig(), nil, nil)
}

func TestHappyPathCompletesFirstIteration(t *testing.T) {
	codeGen := map[string]model.CodeGenClient{
		"local-coder": model.NewMockCodeGenClient("local-coder", calculatorResponse()),
	}
	validator := model.NewMockValidatorClient(model.ValidationFeedback{Score: 10})
	e := buildEngine(t, codeGen, validator)

	j := job.NewJob("happy", job.Request{Task: "Create a Calculator class in language=csharp", MaxIterations: 10, MinScore: 8})
	mb := job.NewMailbox()

	require.NoError(t, j.Transition(job.StateRunning))
	require.NoError(t, e.RunJob(context.Background(), j, mb))

	assert.Equal(t, job.StateComplete, j.State)
	assert.Equal(t, 1, j.Iteration)
	assert.Equal(t, 1, j.Files.Len())
	assert.True(t, j.Tried(model.PurposeCodeGeneration, "local-coder"))

	var names []string
	for _, p := range j.Timeline {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "Think")
	assert.Contains(t, names, "Generate")
	assert.Contains(t, names, "Validate")
	assert.Contains(t, names, "Complete")
}

func TestEscalationUnlocksCloudTierAfterThreeAttempts(t *testing.T) {
	codeGen := map[string]model.CodeGenClient{
		"local-coder":   model.NewMockCodeGenClient("local-coder", calculatorResponse()),
		"cloud-coder-a": model.NewMockCodeGenClient("cloud-coder-a", calculatorResponse()),
		"cloud-coder-b": model.NewMockCodeGenClient("cloud-coder-b", calculatorResponse()),
		"premium-coder": model.NewMockCodeGenClient("premium-coder", calculatorResponse()),
	}
	validator := model.NewMockValidatorClient(
		model.ValidationFeedback{Score: 5},
		model.ValidationFeedback{Score: 5},
		model.ValidationFeedback{Score: 5},
		model.ValidationFeedback{Score: 9},
	)
	e := buildEngine(t, codeGen, validator)

	j := job.NewJob("escalate", job.Request{Task: "Create a Calculator class", MaxIterations: 10, MinScore: 8})
	mb := job.NewMailbox()
	require.NoError(t, j.Transition(job.StateRunning))
	require.NoError(t, e.RunJob(context.Background(), j, mb))

	assert.Equal(t, job.StateComplete, j.State)
	assert.Equal(t, 4, j.Iteration)
	assert.True(t, j.CloudTierUnlocked, "cloud tier should unlock after 3 failed attempts")

	distinct := map[string]bool{}
	for _, h := range j.History {
		distinct[h.Model] = true
	}
	assert.GreaterOrEqual(t, len(distinct), 3, "escalation should have tried at least three distinct models")
}

func TestAllModelsExhaustedFailsWithBestPartialResult(t *testing.T) {
	low := calculatorResponse()
	better := model.GenerateResponse{
		Success: true,
		FileChanges: []model.FileChange{{Path: "Calculator.cs", Content: "better version", Type: model.ChangeModified}},
	}
	codeGen := map[string]model.CodeGenClient{
		"local-coder":   model.NewMockCodeGenClient("local-coder", low),
		"cloud-coder-a": model.NewMockCodeGenClient("cloud-coder-a", better),
		"cloud-coder-b": model.NewMockCodeGenClient("cloud-coder-b", low),
		"premium-coder": model.NewMockCodeGenClient("premium-coder", low),
	}
	validator := model.NewMockValidatorClient(
		model.ValidationFeedback{Score: 3},
		model.ValidationFeedback{Score: 4},
		model.ValidationFeedback{Score: 3},
		model.ValidationFeedback{Score: 3},
	)
	e := buildEngine(t, codeGen, validator)

	j := job.NewJob("exhausted", job.Request{Task: "Create a Calculator class", MaxIterations: 10, MinScore: 8})
	mb := job.NewMailbox()
	require.NoError(t, j.Transition(job.StateRunning))
	require.NoError(t, e.RunJob(context.Background(), j, mb))

	assert.Equal(t, job.StateFailed, j.State)
	require.NotNil(t, j.LastError)
	assert.Equal(t, "AllModelsExhausted", j.LastError.Type)
	require.Len(t, j.LastError.PartialResult, 1)
	assert.Equal(t, "better version", j.LastError.PartialResult[0].Content)
}

func TestCancellationStopsJobWithinOnePhase(t *testing.T) {
	codeGen := map[string]model.CodeGenClient{
		"local-coder": model.NewMockCodeGenClient("local-coder", calculatorResponse()),
	}
	validator := model.NewMockValidatorClient(model.ValidationFeedback{Score: 3})
	e := buildEngine(t, codeGen, validator)

	j := job.NewJob("cancel-me", job.Request{Task: "Create a Calculator class", MaxIterations: 10, MinScore: 8})
	mb := job.NewMailbox()
	require.NoError(t, j.Transition(job.StateRunning))
	mb.Send(job.Command{Type: job.CommandCancel})

	require.NoError(t, e.RunJob(context.Background(), j, mb))
	assert.Equal(t, job.StateCancelled, j.State)
}

func TestJobLevelDeadlineProducesTimedOut(t *testing.T) {
	codeGen := map[string]model.CodeGenClient{
		"local-coder": model.NewMockCodeGenClient("local-coder", calculatorResponse()),
	}
	validator := model.NewMockValidatorClient(model.ValidationFeedback{Score: 3})
	e := buildEngine(t, codeGen, validator)

	j := job.NewJob("timeout-me", job.Request{Task: "Create a Calculator class", MaxIterations: 1000, MinScore: 8})
	mb := job.NewMailbox()
	require.NoError(t, j.Transition(job.StateRunning))

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, e.RunJob(ctx, j, mb))
	assert.Equal(t, job.StateTimedOut, j.State)
}

func TestSynthesizePlanParsesNumberedSteps(t *testing.T) {
	guidance := "1. Build the Calculator.cs class\n2. Add CalculatorTests.cs with unit tests"
	plan := synthesizePlan("build a calculator", guidance)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "Calculator.cs", plan.Steps[0].TargetFile)
	assert.Equal(t, "CalculatorTests.cs", plan.Steps[1].TargetFile)
}

func TestSynthesizePlanFallsBackToSingleStep(t *testing.T) {
	plan := synthesizePlan("build a calculator", "no numbered guidance here")
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "build a calculator", plan.Steps[0].Description)
}

func TestStepByStepNeedsHelpAfterBudgetExhausted(t *testing.T) {
	codeGen := map[string]model.CodeGenClient{}
	for _, id := range []string{"local-coder", "cloud-coder-a", "cloud-coder-b", "premium-coder"} {
		codeGen[id] = model.NewMockCodeGenClient(id, calculatorResponse())
	}
	lowScores := make([]model.ValidationFeedback, 0, 10)
	for i := 0; i < 10; i++ {
		lowScores = append(lowScores, model.ValidationFeedback{Score: 3, Issues: []model.Issue{{Severity: model.SeverityError, Message: "int division truncates"}}})
	}
	validator := model.NewMockValidatorClient(lowScores...)
	e := buildEngine(t, codeGen, validator)
	e.Cfg.StepRetryBudget = 3

	j := job.NewJob("stuck", job.Request{
		Task: "1. Build Calculator.cs with arithmetic ops", MaxIterations: 100, MinScore: 8,
		ExecutionMode: job.ExecutionStepByStep,
	})
	mb := job.NewMailbox()
	require.NoError(t, j.Transition(job.StateRunning))
	require.NoError(t, e.RunJob(context.Background(), j, mb))

	assert.Equal(t, job.StateNeedsHelp, j.State)
	require.NotNil(t, j.LastError)
	assert.Contains(t, j.LastError.Details, "int division truncates")
	assert.NotEmpty(t, j.NeedsHelpFor)
}

func TestStepByStepResumeMergesHintIntoNextPrompt(t *testing.T) {
	var seenContexts []string
	codeGen := map[string]model.CodeGenClient{}
	for _, id := range []string{"local-coder", "cloud-coder-a", "cloud-coder-b", "premium-coder"} {
		codeGen[id] = &recordingCodeGenClient{id: id, seen: &seenContexts, resp: calculatorResponse()}
	}
	validator := model.NewMockValidatorClient(
		model.ValidationFeedback{Score: 3}, model.ValidationFeedback{Score: 3}, model.ValidationFeedback{Score: 3},
		model.ValidationFeedback{Score: 9},
	)
	e := buildEngine(t, codeGen, validator)
	e.Cfg.StepRetryBudget = 3

	j := job.NewJob("resumable", job.Request{
		Task: "1. Build Calculator.cs with arithmetic ops", MaxIterations: 100, MinScore: 8,
		ExecutionMode: job.ExecutionStepByStep,
	})
	mb := job.NewMailbox()
	require.NoError(t, j.Transition(job.StateRunning))
	require.NoError(t, e.RunJob(context.Background(), j, mb))
	require.Equal(t, job.StateNeedsHelp, j.State)

	require.NoError(t, j.Transition(job.StateRunning))
	mb.Send(job.Command{Type: job.CommandResume, Help: job.HelpRequest{Hint: "use double not int", FocusFile: "Calculator.cs"}})
	require.NoError(t, e.RunJob(context.Background(), j, mb))

	assert.Equal(t, job.StateComplete, j.State)
	found := false
	for _, c := range seenContexts {
		if strings.Contains(c, "use double not int") {
			found = true
		}
	}
	assert.True(t, found, "expected the resumed prompt to carry the help hint verbatim")
}

type recordingCodeGenClient struct {
	id   string
	seen *[]string
	resp model.GenerateResponse
}

func (r *recordingCodeGenClient) ModelID() string { return r.id }

func (r *recordingCodeGenClient) Generate(_ context.Context, req model.GenerateRequest) (model.GenerateResponse, error) {
	*r.seen = append(*r.seen, req.Context)
	resp := r.resp
	resp.ModelUsed = r.id
	return resp, nil
}
