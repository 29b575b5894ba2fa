package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/levi-soft/ai-employee-platform-sub005/pkg/types"
)

// ErrMockFailure is returned by MockProvider when configured to fail
var ErrMockFailure = errors.New("mock provider failure")

// MockProvider is a configurable stand-in for an external model provider.
// It records every call and can be told to fail, panic or stall per agent.
type MockProvider struct {
	mu sync.Mutex

	failing map[string]error
	panics  map[string]bool
	delay   time.Duration

	calls       []string
	lastRequest map[string]*types.Request
}

// NewMockProvider creates a provider that succeeds for every agent
func NewMockProvider() *MockProvider {
	return &MockProvider{
		failing:     make(map[string]error),
		panics:      make(map[string]bool),
		lastRequest: make(map[string]*types.Request),
	}
}

// FailFor makes calls routed to agentID return err (ErrMockFailure when nil)
func (m *MockProvider) FailFor(agentID string, err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = ErrMockFailure
	}
	m.failing[agentID] = err
	return m
}

// PanicFor makes calls routed to agentID panic
func (m *MockProvider) PanicFor(agentID string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics[agentID] = true
	return m
}

// Recover clears any configured failure for agentID
func (m *MockProvider) Recover(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failing, agentID)
	delete(m.panics, agentID)
}

// WithDelay makes every call sleep for d or until the context is done
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Call processes req on behalf of agentID
func (m *MockProvider) Call(ctx context.Context, agentID string, req *types.Request) (*types.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, agentID)
	m.lastRequest[agentID] = req.Clone()
	failErr := m.failing[agentID]
	shouldPanic := m.panics[agentID]
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if shouldPanic {
		panic(fmt.Sprintf("mock provider %s panicked", agentID))
	}
	if failErr != nil {
		return nil, failErr
	}

	return &types.Response{
		Content:  fmt.Sprintf("%s: %s", agentID, req.Content),
		Provider: agentID,
		Model:    req.Model,
	}, nil
}

// Calls returns the agent IDs of every call in order
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns the number of calls routed to agentID
func (m *MockProvider) CallCount(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.calls {
		if id == agentID {
			n++
		}
	}
	return n
}

// LastRequest returns a copy of the last request routed to agentID
func (m *MockProvider) LastRequest(agentID string) *types.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest[agentID].Clone()
}
