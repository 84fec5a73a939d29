//go:build bedrock

// Package bedrock adapts AWS Bedrock's Converse API into a Premium-tier
// CodeGenClient, grounded on the teacher's ai/providers/bedrock client (same
// build-tag gating, since most deployments don't carry AWS credentials, and
// the same Converse-API call shape).
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/codeforge/orchestrator/internal/model"
	"github.com/codeforge/orchestrator/internal/orcherr"
)

// Client is a Premium-tier CodeGenClient backed by AWS Bedrock.
type Client struct {
	id      string
	modelID string
	rt      *bedrockruntime.Client
}

// New builds a Client for catalog entry id using the Bedrock model modelID
// (e.g. "anthropic.claude-3-sonnet-20240229-v1:0") over an already-resolved
// aws.Config (loaded once at startup via config.LoadDefaultConfig).
func New(id, modelID string, cfg aws.Config) *Client {
	return &Client{id: id, modelID: modelID, rt: bedrockruntime.NewFromConfig(cfg)}
}

func (c *Client) ModelID() string { return c.id }

// classify maps a Bedrock Converse API error onto spec §7's taxonomy the
// same way the openai adapter does: *smithyhttp.ResponseError carries the
// HTTP status the service returned (throttling and 5xx are transient,
// every other 4xx is permanent); anything else (context deadline, DNS
// failure) never reached the service and is treated as transient.
func classify(err error) orcherr.Kind {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		status := re.HTTPStatusCode()
		if status == 408 || status == 429 || status >= 500 {
			return orcherr.KindTransientBackend
		}
		return orcherr.KindPermanentBackend
	}
	return orcherr.KindTransientBackend
}

func wrapErr(op string, err error) error {
	return orcherr.New(op, classify(err), "", err.Error(), err)
}

func (c *Client) Generate(ctx context.Context, req model.GenerateRequest) (model.GenerateResponse, error) {
	prompt := fmt.Sprintf("Task: %s\nLanguage: %s\nContext: %s\nGuidance: %s",
		req.Task, req.Language, req.Context, req.ThinkerGuidance)

	out, err := c.rt.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		Messages: []types.Message{
			{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
			},
		},
	})
	if err != nil {
		return model.GenerateResponse{}, wrapErr("bedrock.Generate", err)
	}

	text := extractText(out.Output)
	changes := parseFileChanges(text)
	usage := model.CloudUsage{Provider: "bedrock", Model: c.modelID, APICalls: 1}
	if out.Usage != nil {
		usage.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	return model.GenerateResponse{
		Success:     len(changes) > 0,
		FileChanges: changes,
		ModelUsed:   c.id,
		CloudUsage:  &usage,
	}, nil
}

func extractText(output types.ConverseOutput) string {
	member, ok := output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var s string
	for _, block := range member.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			s += text.Value
		}
	}
	return s
}
