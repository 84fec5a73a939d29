//go:build !bedrock

package main

import (
	"github.com/codeforge/orchestrator/internal/config"
	"github.com/codeforge/orchestrator/internal/logging"
	"github.com/codeforge/orchestrator/internal/model"
)

// wireBedrock is a no-op in the default build; build with -tags bedrock to
// pull in the AWS SDK and register a Premium-tier Bedrock client, per
// bedrock_enabled.go. Kept as a separate build-tagged file rather than an
// inline AWS SDK import so a default `go build` never requires AWS
// credentials or network access to resolve the Premium tier.
func wireBedrock(map[string]model.CodeGenClient, *config.Config, logging.Logger) {}
