package ai

import (
	"context"
	"sync"
)

// MockGenerator implements Generator for testing.
type MockGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	prompts []string
	gate    chan struct{}
	entered chan struct{}
}

var _ Generator = (*MockGenerator)(nil)

// NewMockGenerator returns a mock that answers every prompt with text.
func NewMockGenerator(text string) *MockGenerator {
	return &MockGenerator{text: text}
}

// Generate records prompt and returns the configured text or error. While
// held, it blocks until Release or ctx is done.
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	gate, entered := m.gate, m.entered
	m.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.text, nil
}

// --- Test helpers ---

// SetError makes Generate fail with err.
func (m *MockGenerator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Hold makes the next calls block. The returned channel receives once per
// call that reaches the gate.
func (m *MockGenerator) Hold() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	m.entered = make(chan struct{}, 16)
	return m.entered
}

// Release unblocks held calls.
func (m *MockGenerator) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// Prompts returns a copy of every prompt received.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
