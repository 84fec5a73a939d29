// Package openai adapts github.com/sashabaranov/go-openai into the
// orchestrator's CodeGenClient/ThinkerClient contracts, grounded on the
// teacher's ai/providers/openai client (request construction and default
// model) but speaking the orchestrator's own request/response shapes
// instead of core.AIClient. Calls are not wrapped in tracing spans.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codeforge/orchestrator/internal/model"
	"github.com/codeforge/orchestrator/internal/orcherr"
)

// Client is a Cloud-tier CodeGenClient/ThinkerClient backed by the OpenAI
// chat completions API. It is a plain transport: retries and circuit
// breaking are applied by the caller via internal/resilience, matching
// spec.md §9's "HTTP-RPC clients with serializer-specific attributes ->
// model each collaborator as an interface; adapters choose a transport".
type Client struct {
	id     string
	model  string
	client *openai.Client
}

// New builds a Client for modelID (a catalog ModelDescriptor.ID) using
// openaiModel (e.g. "gpt-4o") against apiKey/baseURL.
func New(id, openaiModel, apiKey, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{id: id, model: openaiModel, client: openai.NewClientWithConfig(cfg)}
}

func (c *Client) ModelID() string { return c.id }

// classify maps a go-openai transport error onto spec §7's taxonomy so the
// resilience envelope's orcherr.IsRetryable can tell a rate-limited/5xx
// response (retry) from a rejected request (don't retry). *openai.APIError
// carries the response's HTTPStatusCode; *openai.RequestError wraps
// lower-level transport failures (network errors, timeouts) the same way.
// Anything else (context cancellation, DNS failure) never reached the API
// at all and is treated as transient, matching spec §4.2's "network ...
// timeout" category.
func classify(err error) orcherr.Kind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}
	return orcherr.KindTransientBackend
}

// classifyStatus applies spec §4.2's retry rule: 408/429/5xx are transient,
// every other 4xx is permanent.
func classifyStatus(status int) orcherr.Kind {
	if status == 0 || status == 408 || status == 429 || status >= 500 {
		return orcherr.KindTransientBackend
	}
	return orcherr.KindPermanentBackend
}

func wrapErr(op string, err error) error {
	return orcherr.New(op, classify(err), "", err.Error(), err)
}

// Generate implements model.CodeGenClient by asking the chat model for file
// changes in the fenced "--- file: <path> ---" format (see fileBlock) and
// parsing the reply into FileChanges with ParseFileChanges.
func (c *Client) Generate(ctx context.Context, req model.GenerateRequest) (model.GenerateResponse, error) {
	prompt := buildGeneratePrompt(req)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a precise code generation backend. Respond only with file changes."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return model.GenerateResponse{}, wrapErr("openai.Generate", err)
	}
	if len(resp.Choices) == 0 {
		return model.GenerateResponse{Success: false, Error: "empty completion"}, nil
	}
	changes := ParseFileChanges(resp.Choices[0].Message.Content)
	return model.GenerateResponse{
		Success:     len(changes) > 0,
		FileChanges: changes,
		ModelUsed:   c.id,
		TokensUsed:  resp.Usage.TotalTokens,
		CloudUsage: &model.CloudUsage{
			Provider:     "openai",
			Model:        c.model,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			APICalls:     1,
		},
	}, nil
}

// Think implements model.ThinkerClient against the same completion API.
func (c *Client) Think(ctx context.Context, task, context_, fileSummary string, history []string) (string, error) {
	prompt := fmt.Sprintf("Task: %s\nContext: %s\nFiles so far: %s\nPrior attempts: %v\nGive concise strategic guidance for the next attempt.",
		task, context_, fileSummary, history)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
	})
	if err != nil {
		return "", wrapErr("openai.Think", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Validate implements model.ValidatorClient by asking the chat model to
// grade the accumulated file set against the original task, honoring the
// same fenced wire contract the rest of this adapter uses so the score can
// be pulled out with a small regex rather than a structured-output mode.
func (c *Client) Validate(ctx context.Context, req model.ValidateRequest) (model.ValidationFeedback, error) {
	prompt := buildValidatePrompt(req)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a strict code reviewer. Respond with a score line and issue lines per the given format."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return model.ValidationFeedback{}, wrapErr("openai.Validate", err)
	}
	if len(resp.Choices) == 0 {
		return model.ValidationFeedback{}, nil
	}
	feedback := ParseValidationFeedback(resp.Choices[0].Message.Content)
	feedback.ModelsUsed = []string{c.id}
	return feedback, nil
}

func buildValidatePrompt(req model.ValidateRequest) string {
	s := fmt.Sprintf("Original task: %s\nLanguage: %s\nMode: %s\n\nFiles:\n", req.OriginalTask, req.Language, req.Mode)
	for _, f := range req.Files {
		s += fmt.Sprintf("--- file: %s ---\n%s\n--- end ---\n", f.Path, f.Content)
	}
	s += "\nRespond with 'Score: <0-10>' on the first line, then one 'Issue: <severity>: <message>' line per problem found."
	return s
}

func buildGeneratePrompt(req model.GenerateRequest) string {
	s := fmt.Sprintf("Task: %s\nLanguage: %s\nContext: %s\n", req.Task, req.Language, req.Context)
	if req.ThinkerGuidance != "" {
		s += "Guidance: " + req.ThinkerGuidance + "\n"
	}
	if req.PreviousFeedback != nil {
		s += fmt.Sprintf("Previous score: %.1f, summary: %s\n", req.PreviousFeedback.Score, req.PreviousFeedback.Summary)
	}
	s += "\nRespond with one block per file: a '--- file: <path> ---' line, the file content, then a '--- end ---' line."
	return s
}
