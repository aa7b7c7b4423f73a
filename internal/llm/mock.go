package llm

import (
	"context"
	"sync"
)

// MockCompleter replays scripted replies and records every request.
type MockCompleter struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []CompletionRequest
}

// NewMockCompleter returns a completer answering with replies in order; the
// last reply repeats once the script is exhausted.
func NewMockCompleter(replies ...string) *MockCompleter {
	return &MockCompleter{replies: replies}
}

// FailWith makes every subsequent call return err.
func (m *MockCompleter) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return reply, nil
}

func (m *MockCompleter) Model() string {
	return "mock"
}

// Requests returns a copy of the received requests.
func (m *MockCompleter) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls counts Complete invocations.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

var _ Completer = (*MockCompleter)(nil)
