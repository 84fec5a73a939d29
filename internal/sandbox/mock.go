package sandbox

import (
	"context"

	"github.com/codeforge/orchestrator/internal/model"
)

// MockRunner is a scripted Runner for tests that don't want real containers.
type MockRunner struct {
	Result model.ExecutionResult
	Err    error
}

func (m *MockRunner) Run(context.Context, LanguageManifest, []model.FileChange) (model.ExecutionResult, error) {
	return m.Result, m.Err
}
