package llm

import (
	"context"
	"sync"
)

// MockResponse is one scripted reply of a MockProvider.
type MockResponse struct {
	Text string
	Err  error
}

// MockProvider is a test double that replays scripted responses in order and
// repeats the last one once the script runs out.
type MockProvider struct {
	mu        sync.Mutex
	responses []MockResponse
	requests  []Request

	// Block, when set, is received from before every reply.
	Block chan struct{}
}

// NewMockProvider returns a provider that replays responses.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{responses: responses}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Generate(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	var resp MockResponse
	if n := len(m.responses); n > 0 {
		if idx >= n {
			idx = n - 1
		}
		resp = m.responses[idx]
	}
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return resp.Text, resp.Err
}

// Calls returns the number of Generate calls so far.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}
