package agent

import (
	"context"
	"sync"
)

// MockService returns scripted responses for orchestrator and session tests
type MockService struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	idx       int
	requests  []Request
}

// NewMockService creates a mock agent service
func NewMockService() *MockService {
	return &MockService{}
}

// Script queues responses for successive Respond calls. A nil error slot
// means the call succeeds.
func (m *MockService) Script(responses ...Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.errs = make([]error, len(responses))
	m.idx = 0
}

// FailAt makes the nth Respond call (zero-based) return err instead
func (m *MockService) FailAt(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.errs) <= n {
		m.errs = append(m.errs, nil)
		m.responses = append(m.responses, Response{})
	}
	m.errs[n] = err
}

// Requests returns every request received so far
func (m *MockService) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Respond returns the next scripted response
func (m *MockService) Respond(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if m.idx >= len(m.responses) {
		return Response{Text: "Is there anything else I can help with?"}, nil
	}
	resp, err := m.responses[m.idx], m.errs[m.idx]
	m.idx++
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}
