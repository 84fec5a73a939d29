//go:build bedrock

package main

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/codeforge/orchestrator/internal/config"
	"github.com/codeforge/orchestrator/internal/logging"
	"github.com/codeforge/orchestrator/internal/model"
	"github.com/codeforge/orchestrator/internal/model/providers/bedrock"
)

// wireBedrock loads AWS credentials and registers a Premium-tier Bedrock
// client for "premium-codegen" when built with -tags bedrock. Credential
// resolution failure is non-fatal: it only means the Premium tier stays
// unreachable, matching spec §4.1's escalation model (exhausting Premium is
// already a defined AllModelsExhausted outcome).
func wireBedrock(codeGen map[string]model.CodeGenClient, cfg *config.Config, logger logging.Logger) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Providers.BedrockRegion))
	if err != nil {
		logger.Warn("bedrock disabled: could not load AWS config", logging.Fields{"error": err.Error()})
		return
	}
	codeGen["premium-codegen"] = bedrock.New("premium-codegen", "anthropic.claude-3-sonnet-20240229-v1:0", awsCfg)
}
