package agent

import (
	"context"
	"sync"
)

// MockRunner is a scripted backend for tests. Responses are returned
// in order; when the script runs out the last response repeats.
type MockRunner struct {
	mu        sync.Mutex
	name      string
	responses []MockResponse
	calls     []*Request
}

// MockResponse is one scripted invocation outcome.
type MockResponse struct {
	Result *Result
	Err    error
}

// NewMockRunner creates a scripted backend named "mock".
func NewMockRunner(responses ...MockResponse) *MockRunner {
	return &MockRunner{name: "mock", responses: responses}
}

// Name returns the backend name.
func (m *MockRunner) Name() string {
	return m.name
}

// Invoke returns the next scripted response and records the request.
func (m *MockRunner) Invoke(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if len(m.responses) == 0 {
		return &Result{Files: map[string][]byte{}}, nil
	}
	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	resp := m.responses[idx]
	return resp.Result, resp.Err
}

// Calls returns the requests seen so far.
func (m *MockRunner) Calls() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Request(nil), m.calls...)
}
