// Package tools provides tool execution for the orchestration engine:
// a registry of named tool handlers, the invocation error taxonomy, and
// the loan-servicing toolset.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nbfc-labs/loanflow/coreengine/observability"
)

// ===== ERROR TAXONOMY =====

var (
	// ErrTransport marks invocations that failed to complete: timeouts,
	// cancelled contexts, unreachable backends.
	ErrTransport = errors.New("tool transport error")

	// ErrNotFound marks lookups for entities that do not exist, including
	// unknown tools and unknown customers or resources.
	ErrNotFound = errors.New("not found")

	// ErrMalformedResult marks tool output that could not be decoded.
	ErrMalformedResult = errors.New("malformed tool result")
)

// Kind classifies an invocation error for recording in tool messages.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransport),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return "transport"
	case errors.Is(err, ErrMalformedResult):
		return "malformed_result"
	default:
		return "error"
	}
}

// ===== EXECUTOR =====

// Handler is a function that executes a tool.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Definition defines a tool's metadata and handler.
type Definition struct {
	Name        string
	Description string
	Handler     Handler
}

// Logger is the logging interface used by the executor.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Client invokes tools by name. Implementations return the result body of
// a successful call, or an error from the taxonomy above.
type Client interface {
	Invoke(ctx context.Context, tool string, params map[string]any) (map[string]any, error)
	Has(tool string) bool
	List() []string
}

// Executor executes registered tools in-process with a per-call timeout.
type Executor struct {
	tools   map[string]*Definition
	mu      sync.RWMutex
	timeout time.Duration
	logger  Logger
}

// NewExecutor creates an Executor. A zero timeout disables the per-call
// deadline.
func NewExecutor(timeout time.Duration, logger Logger) *Executor {
	return &Executor{
		tools:   make(map[string]*Definition),
		timeout: timeout,
		logger:  logger,
	}
}

// Register registers a tool.
func (e *Executor) Register(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler is required for '%s'", def.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.tools[def.Name] = def
	return nil
}

// Invoke executes a tool by name and returns its result body.
func (e *Executor) Invoke(ctx context.Context, tool string, params map[string]any) (map[string]any, error) {
	e.mu.RLock()
	def, exists := e.tools[tool]
	e.mu.RUnlock()

	if !exists {
		observability.RecordToolInvocation(tool, "not_found", 0)
		return nil, fmt.Errorf("%w: tool %s", ErrNotFound, tool)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := def.Handler(ctx, params)
	durMS := int(time.Since(started).Milliseconds())

	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrTransport, tool, err)
	}
	if err != nil {
		observability.RecordToolInvocation(tool, Kind(err), durMS)
		if e.logger != nil {
			e.logger.Warn("tool_invocation_failed", "tool", tool, "error", err.Error(), "duration_ms", durMS)
		}
		return nil, err
	}

	observability.RecordToolInvocation(tool, "success", durMS)
	if e.logger != nil {
		e.logger.Debug("tool_invocation_completed", "tool", tool, "duration_ms", durMS)
	}
	return result, nil
}

// Has checks if a tool is registered.
func (e *Executor) Has(tool string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, exists := e.tools[tool]
	return exists
}

// List returns all registered tool names.
func (e *Executor) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	return names
}

// Ensure Executor implements Client
var _ Client = (*Executor)(nil)
