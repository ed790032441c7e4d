package tts

import (
	"context"
	"sync"
	"time"
)

// MockSynthesizer renders deterministic PCM for testing without a speech
// engine. Audio length scales with text length so pacing code has something
// realistic to chew on.
type MockSynthesizer struct {
	sampleRate int

	mu     sync.Mutex
	texts  []string
	delay  time.Duration
	err    error
	failAt int
	calls  int
}

// NewMockSynthesizer creates a mock engine producing 16kHz PCM
func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{sampleRate: 16000, failAt: -1}
}

// Initialize is a no-op for the mock
func (m *MockSynthesizer) Initialize() error {
	return nil
}

// Name returns the synthesizer name
func (m *MockSynthesizer) Name() string {
	return "mock"
}

// SampleRate returns the mock output rate
func (m *MockSynthesizer) SampleRate() int {
	return m.sampleRate
}

// Delay makes every Synthesize call block for d, honoring context
// cancellation, so tests can interrupt mid-synthesis
func (m *MockSynthesizer) Delay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// FailAt makes the nth Synthesize call (zero-based) return err
func (m *MockSynthesizer) FailAt(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = n
	m.err = err
}

// Texts returns every text chunk synthesized so far
func (m *MockSynthesizer) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.texts))
	copy(out, m.texts)
	return out
}

// Synthesize returns 40ms of audio per 10 characters of text
func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	delay := m.delay
	failAt, err := m.failAt, m.err
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failAt >= 0 && call == failAt {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	frames := len(text)/10 + 1
	samplesPerFrame := m.sampleRate * 40 / 1000
	return make([]byte, frames*samplesPerFrame*2), nil
}
