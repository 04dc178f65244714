// Package eventbus provides the in-process event bus for the loan
// orchestration engine. Components publish lifecycle events; subscribers
// such as telemetry and audit logging consume them without coupling to
// the publishers.
package eventbus

import (
	"context"
	"reflect"
)

// =============================================================================
// PROTOCOLS
// =============================================================================

// Message is the protocol for bus messages.
type Message interface {
	// Category returns the message category. Currently all loanflow bus
	// traffic is fire-and-forget events.
	Category() string
}

// HandlerFunc processes a message.
type HandlerFunc func(ctx context.Context, message Message) error

// Middleware intercepts messages before/after handling.
// Used for logging, telemetry, circuit breaking, etc.
type Middleware interface {
	// Before is called before a message is dispatched.
	// Returns modified message, or nil to abort processing.
	Before(ctx context.Context, message Message) (Message, error)

	// After is called after all subscribers ran.
	After(ctx context.Context, message Message, err error) error
}

// Publisher is the narrow interface components hold to emit events.
type Publisher interface {
	Publish(ctx context.Context, event Message) error
}

// MessageType derives the routing key from the concrete message type.
func MessageType(m Message) string {
	t := reflect.TypeOf(m)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

const categoryEvent = "event"

// =============================================================================
// SESSION LIFECYCLE EVENTS
// =============================================================================

// SessionAdvanced is emitted after one user turn has been processed.
// Subscribers: telemetry, audit logging.
type SessionAdvanced struct {
	SessionID  string `json:"session_id"`
	FlowStage  string `json:"flow_stage"`
	Status     string `json:"status"` // "success", "error", "turn_limit"
	DurationMS int    `json:"duration_ms"`
}

// Category implements the Message interface.
func (m *SessionAdvanced) Category() string { return categoryEvent }

// =============================================================================
// WORKER LIFECYCLE EVENTS
// =============================================================================

// WorkerStarted is emitted when a worker subgraph begins a task.
type WorkerStarted struct {
	Worker    string `json:"worker"`
	SessionID string `json:"session_id"`
}

// Category implements the Message interface.
func (m *WorkerStarted) Category() string { return categoryEvent }

// WorkerCompleted is emitted when a worker subgraph finishes a task.
type WorkerCompleted struct {
	Worker    string `json:"worker"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"` // "success", "failed"
	Detail    string `json:"detail,omitempty"`
}

// Category implements the Message interface.
func (m *WorkerCompleted) Category() string { return categoryEvent }

// =============================================================================
// TOOL EVENTS
// =============================================================================

// ToolInvoked is emitted after a worker executed a tool call.
type ToolInvoked struct {
	Tool      string `json:"tool"`
	Worker    string `json:"worker"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"` // "success" or an error kind
}

// Category implements the Message interface.
func (m *ToolInvoked) Category() string { return categoryEvent }
