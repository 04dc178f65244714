// Package oracle defines the decision oracle abstraction: the component
// that reads a conversation channel plus a task instruction and produces
// the next message, optionally requesting tool calls. Implementations may
// wrap an LLM; ScriptedPolicy provides a deterministic rules-based
// implementation.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nbfc-labs/loanflow/coreengine/state"
)

// Client produces the next conversation message for a worker or the
// master. The returned message either carries tool call requests or is a
// final assistant reply for the current task.
type Client interface {
	Decide(ctx context.Context, messages []state.Message, instruction string) (state.Message, error)
}

var (
	// ErrBadDecision marks oracle output that could not be decoded into
	// the expected structure.
	ErrBadDecision = errors.New("undecodable oracle decision")

	// ErrUnknownWorker marks a route decision naming a worker tag outside
	// the known set. Callers treat this as a configuration fault, not a
	// recoverable decode problem.
	ErrUnknownWorker = errors.New("unknown worker tag")
)

// ===== ROUTE DECISIONS =====

// Worker route tags emitted by the master.
const (
	WorkerSales        = "sales"
	WorkerVerification = "verification"
	WorkerUnderwriting = "underwriting"
	WorkerSanction     = "sanction"
	WorkerNone         = "none"
)

// RouteDecision is the master's structured output: a user-facing reply,
// the next worker to dispatch, and optional state extractions from the
// latest user message.
type RouteDecision struct {
	ResponseToUser string `json:"response_to_user"`
	NextWorker     string `json:"next_worker"`

	UpdateCustomerID      *string  `json:"update_customer_id,omitempty"`
	UpdateRequestedAmount *int     `json:"update_requested_amount,omitempty"`
	UpdatePreferredTenure *int     `json:"update_preferred_tenure,omitempty"`
	UpdateMaxInterest     *float64 `json:"update_max_interest,omitempty"`
}

func validWorker(tag string) bool {
	switch tag {
	case WorkerSales, WorkerVerification, WorkerUnderwriting, WorkerSanction, WorkerNone:
		return true
	}
	return false
}

// DecodeRoute parses a master decision message. Unknown worker tags are
// rejected; the master graph treats that as a configuration fault.
func DecodeRoute(msg state.Message) (*RouteDecision, error) {
	obj, err := ExtractJSON(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDecision, err)
	}
	var rd RouteDecision
	if err := remarshal(obj, &rd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDecision, err)
	}
	if rd.NextWorker == "" {
		rd.NextWorker = WorkerNone
	}
	if !validWorker(rd.NextWorker) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorker, rd.NextWorker)
	}
	return &rd, nil
}

// DecodeOffer parses a negotiation decision message into an offer.
func DecodeOffer(msg state.Message) (*state.NegotiatedOffer, error) {
	obj, err := ExtractJSON(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDecision, err)
	}
	var offer state.NegotiatedOffer
	if err := remarshal(obj, &offer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDecision, err)
	}
	if offer.ApprovedAmount <= 0 || offer.TenureMonths <= 0 || offer.InterestRate <= 0 {
		return nil, fmt.Errorf("%w: offer missing amount, tenure or rate", ErrBadDecision)
	}
	return &offer, nil
}

func remarshal(obj map[string]any, v any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ExtractJSON parses a JSON object out of free-form oracle text. It tries
// a direct parse first, then scans for the first balanced brace pair.
func ExtractJSON(text string) (map[string]any, error) {
	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err == nil {
		return result, nil
	}

	start := -1
	braceCount := 0
	for i, c := range text {
		if c == '{' {
			if start == -1 {
				start = i
			}
			braceCount++
		} else if c == '}' {
			braceCount--
			if braceCount == 0 && start != -1 {
				candidate := text[start : i+1]
				if err := json.Unmarshal([]byte(candidate), &result); err == nil {
					return result, nil
				}
				start = -1
			}
		}
	}

	return nil, fmt.Errorf("no valid JSON object found in text")
}
