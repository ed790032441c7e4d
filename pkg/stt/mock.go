package stt

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// MockProvider returns scripted transcripts for testing and local runs
// without API credentials
type MockProvider struct {
	logger *logrus.Logger

	mu      sync.Mutex
	scripts []Result
	idx     int
	err     error
	calls   int
}

// NewMockProvider creates a mock recognizer
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Initialize is a no-op for the mock
func (p *MockProvider) Initialize() error {
	return nil
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// Script queues transcripts to return on successive Recognize calls. After
// the script runs out the last entry repeats.
func (p *MockProvider) Script(results ...Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = results
	p.idx = 0
}

// Fail makes every subsequent Recognize call return err
func (p *MockProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls reports how many times Recognize has been invoked
func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Recognize returns the next scripted transcript
func (p *MockProvider) Recognize(ctx context.Context, pcm []byte, sampleRate int) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++

	if p.err != nil {
		return Result{}, p.err
	}
	if len(p.scripts) == 0 {
		return Result{Text: "mock transcription", Confidence: 0.95}, nil
	}

	result := p.scripts[p.idx]
	if p.idx < len(p.scripts)-1 {
		p.idx++
	}
	return result, nil
}
