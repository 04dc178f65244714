// Package testutil provides shared test utilities and mocks.
//
// All mocks in this package are designed for testing the coreengine
// components in isolation without requiring external dependencies.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nbfc-labs/loanflow/coreengine/oracle"
	"github.com/nbfc-labs/loanflow/coreengine/state"
	"github.com/nbfc-labs/loanflow/coreengine/tools"
)

// =============================================================================
// MOCK ORACLE
// =============================================================================

// MockOracle implements oracle.Client for testing.
// Configure responses by instruction prefix or use DecideFunc.
type MockOracle struct {
	// Responses maps instruction prefixes to messages.
	// First matching prefix wins.
	Responses map[string]state.Message

	// DefaultResponse is returned when no prefix matches.
	DefaultResponse state.Message

	// Delay simulates oracle latency.
	Delay time.Duration

	// Error causes Decide to return this error.
	Error error

	// Calls records all calls for assertion.
	Calls []OracleCall

	// DecideFunc allows custom decision logic.
	// If set, this is called instead of using Responses.
	DecideFunc func(context.Context, []state.Message, string) (state.Message, error)

	mu sync.Mutex
}

// OracleCall records a single decision call for assertion.
type OracleCall struct {
	Messages    []state.Message
	Instruction string
}

// NewMockOracle creates a MockOracle with sensible defaults.
func NewMockOracle() *MockOracle {
	return &MockOracle{
		Responses:       make(map[string]state.Message),
		DefaultResponse: state.AssistantMessage("mock", "ok"),
	}
}

// Decide implements oracle.Client.
func (m *MockOracle) Decide(ctx context.Context, messages []state.Message, instruction string) (state.Message, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, OracleCall{Messages: append([]state.Message{}, messages...), Instruction: instruction})
	customFunc := m.DecideFunc
	m.mu.Unlock()

	if customFunc != nil {
		return customFunc(ctx, messages, instruction)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return state.Message{}, ctx.Err()
		}
	}

	if m.Error != nil {
		return state.Message{}, m.Error
	}

	for prefix, response := range m.Responses {
		if strings.HasPrefix(instruction, prefix) {
			return response, nil
		}
	}

	return m.DefaultResponse, nil
}

// WithResponse adds a prefix-based response.
func (m *MockOracle) WithResponse(prefix string, response state.Message) *MockOracle {
	m.Responses[prefix] = response
	return m
}

// WithError configures the mock to return an error.
func (m *MockOracle) WithError(err error) *MockOracle {
	m.Error = err
	return m
}

// CallCount returns the number of decision calls (thread-safe).
func (m *MockOracle) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

var _ oracle.Client = (*MockOracle)(nil)

// =============================================================================
// MOCK TOOL CLIENT
// =============================================================================

// MockToolClient implements tools.Client for testing.
type MockToolClient struct {
	// Results maps tool names to results.
	Results map[string]map[string]any

	// Errors maps tool names to errors.
	Errors map[string]error

	// Calls records all invocations for assertion.
	Calls []ToolCall

	mu sync.Mutex
}

// ToolCall records a single tool invocation for assertion.
type ToolCall struct {
	Tool   string
	Params map[string]any
}

// NewMockToolClient creates an empty MockToolClient.
func NewMockToolClient() *MockToolClient {
	return &MockToolClient{
		Results: make(map[string]map[string]any),
		Errors:  make(map[string]error),
	}
}

// Invoke implements tools.Client.
func (m *MockToolClient) Invoke(_ context.Context, tool string, params map[string]any) (map[string]any, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, ToolCall{Tool: tool, Params: params})
	m.mu.Unlock()

	if err, ok := m.Errors[tool]; ok {
		return nil, err
	}
	if result, ok := m.Results[tool]; ok {
		return result, nil
	}
	return nil, fmt.Errorf("%w: tool %s", tools.ErrNotFound, tool)
}

// Has implements tools.Client.
func (m *MockToolClient) Has(tool string) bool {
	_, hasResult := m.Results[tool]
	_, hasError := m.Errors[tool]
	return hasResult || hasError
}

// List implements tools.Client.
func (m *MockToolClient) List() []string {
	names := make([]string, 0, len(m.Results))
	for name := range m.Results {
		names = append(names, name)
	}
	return names
}

// WithResult configures a tool result.
func (m *MockToolClient) WithResult(tool string, result map[string]any) *MockToolClient {
	m.Results[tool] = result
	return m
}

// WithError configures a tool error.
func (m *MockToolClient) WithError(tool string, err error) *MockToolClient {
	m.Errors[tool] = err
	return m
}

// CallsFor returns the recorded invocations of one tool (thread-safe).
func (m *MockToolClient) CallsFor(tool string) []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ToolCall, 0)
	for _, c := range m.Calls {
		if c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

var _ tools.Client = (*MockToolClient)(nil)

// =============================================================================
// MOCK LOGGER
// =============================================================================

// LogEntry records a single log call.
type LogEntry struct {
	Level   string
	Message string
	Fields  []any
}

// MockLogger records log calls for assertion.
type MockLogger struct {
	Entries []LogEntry
	mu      sync.Mutex
}

// NewMockLogger creates an empty MockLogger.
func NewMockLogger() *MockLogger { return &MockLogger{} }

func (l *MockLogger) log(level, msg string, fields ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, LogEntry{Level: level, Message: msg, Fields: fields})
}

// Info implements the Logger interface.
func (l *MockLogger) Info(msg string, fields ...any) { l.log("info", msg, fields...) }

// Debug implements the Logger interface.
func (l *MockLogger) Debug(msg string, fields ...any) { l.log("debug", msg, fields...) }

// Warn implements the Logger interface.
func (l *MockLogger) Warn(msg string, fields ...any) { l.log("warn", msg, fields...) }

// Error implements the Logger interface.
func (l *MockLogger) Error(msg string, fields ...any) { l.log("error", msg, fields...) }

// Has reports whether a message was logged at any level.
func (l *MockLogger) Has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.Entries {
		if e.Message == msg {
			return true
		}
	}
	return false
}

// =============================================================================
// SESSION FACTORIES
// =============================================================================

// NewTestSession creates a session pre-filled for worker tests.
func NewTestSession(customerID string, requested int) *state.Session {
	s := state.NewSession("sess_test")
	s.CustomerID = customerID
	if requested > 0 {
		s.RequestedAmount = &requested
	}
	return s
}

// NewNegotiatedSession creates a session that already holds an offer.
func NewNegotiatedSession(customerID string, requested int, rate float64) *state.Session {
	s := NewTestSession(customerID, requested)
	s.NegotiatedOffer = &state.NegotiatedOffer{
		CustomerID:     customerID,
		ApprovedAmount: requested,
		TenureMonths:   36,
		InterestRate:   rate,
	}
	return s
}
