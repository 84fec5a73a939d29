package model

import "context"

// MockCodeGenClient is a deterministic, test-only CodeGenClient, grounded on
// the teacher's ai/providers/mock.Provider pattern: scripted responses
// consumed in order, falling back to the last one once exhausted.
type MockCodeGenClient struct {
	id        string
	Responses []GenerateResponse
	calls     int
}

// NewMockCodeGenClient builds a mock that returns responses in order.
func NewMockCodeGenClient(id string, responses ...GenerateResponse) *MockCodeGenClient {
	return &MockCodeGenClient{id: id, Responses: responses}
}

func (m *MockCodeGenClient) ModelID() string { return m.id }

func (m *MockCodeGenClient) Generate(_ context.Context, _ GenerateRequest) (GenerateResponse, error) {
	if len(m.Responses) == 0 {
		return GenerateResponse{Success: false, Error: "mock has no scripted responses"}, nil
	}
	idx := m.calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.calls++
	resp := m.Responses[idx]
	resp.ModelUsed = m.id
	return resp, nil
}

// MockValidatorClient returns scripted scores in order.
type MockValidatorClient struct {
	Scores []ValidationFeedback
	calls  int
}

func NewMockValidatorClient(scores ...ValidationFeedback) *MockValidatorClient {
	return &MockValidatorClient{Scores: scores}
}

func (m *MockValidatorClient) Validate(_ context.Context, _ ValidateRequest) (ValidationFeedback, error) {
	if len(m.Scores) == 0 {
		return ValidationFeedback{Score: 0}, nil
	}
	idx := m.calls
	if idx >= len(m.Scores) {
		idx = len(m.Scores) - 1
	}
	m.calls++
	return m.Scores[idx], nil
}

// MockThinkerClient returns a fixed guidance string.
type MockThinkerClient struct {
	Guidance string
	Err      error
}

func (m *MockThinkerClient) Think(context.Context, string, string, string, []string) (string, error) {
	return m.Guidance, m.Err
}

// MockMemoryClient is a best-effort in-memory stand-in for a memory backend.
type MockMemoryClient struct {
	store *PerformanceStore
}

func NewMockMemoryClient(store *PerformanceStore) *MockMemoryClient {
	if store == nil {
		store = NewPerformanceStore()
	}
	return &MockMemoryClient{store: store}
}

func (m *MockMemoryClient) RecordPerformance(_ context.Context, rec PerformanceRecord) error {
	m.store.Record(rec)
	return nil
}

func (m *MockMemoryClient) GetStats(_ context.Context, taskType, language string) ([]Aggregate, error) {
	return m.store.Aggregates(Purpose(taskType), language), nil
}
