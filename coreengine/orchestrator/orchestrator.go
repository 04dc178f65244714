// Package orchestrator wires the master routing node and the four worker
// subgraphs into the top-level conversation graph. The master reads the
// public transcript, extracts application facts from the latest user
// message, replies to the user and dispatches at most one worker; workers
// loop back to the master until it routes to none.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nbfc-labs/loanflow/coreengine/config"
	"github.com/nbfc-labs/loanflow/coreengine/graph"
	"github.com/nbfc-labs/loanflow/coreengine/oracle"
	"github.com/nbfc-labs/loanflow/coreengine/state"
	"github.com/nbfc-labs/loanflow/coreengine/workers"
)

// Orchestrator runs one user turn through the master graph.
type Orchestrator struct {
	graph *graph.CompiledGraph
	deps  workers.Deps
}

// New compiles the worker subgraphs and the master graph around them.
func New(d workers.Deps) (*Orchestrator, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	negotiation, err := workers.NewNegotiation(d)
	if err != nil {
		return nil, fmt.Errorf("compile negotiation worker: %w", err)
	}
	verification, err := workers.NewVerification(d)
	if err != nil {
		return nil, fmt.Errorf("compile verification worker: %w", err)
	}
	underwriting, err := workers.NewUnderwriting(d)
	if err != nil {
		return nil, fmt.Errorf("compile underwriting worker: %w", err)
	}
	sanction, err := workers.NewSanction(d)
	if err != nil {
		return nil, fmt.Errorf("compile sanction worker: %w", err)
	}

	maxTurns := config.DefaultConfig().MaxMasterTurns
	if d.Config != nil && d.Config.MaxMasterTurns > 0 {
		maxTurns = d.Config.MaxMasterTurns
	}

	b := graph.New("master").
		WithLogger(d.Logger).
		WithMaxSteps(maxTurns)
	b.AddNode("master", masterNode(d))
	b.AddNode("sales", negotiation.Node())
	b.AddNode("verification", verification.Node())
	b.AddNode("underwriting", underwriting.Node())
	b.AddNode("sanction", sanction.Node())

	b.AddEdge(graph.Start, "master")
	b.AddConditionalEdges("master", routeNext, map[string]string{
		oracle.WorkerSales:        "sales",
		oracle.WorkerVerification: "verification",
		oracle.WorkerUnderwriting: "underwriting",
		oracle.WorkerSanction:     "sanction",
		oracle.WorkerNone:         graph.End,
		"":                        graph.End,
	})
	b.AddEdge("sales", "master")
	b.AddEdge("verification", "master")
	b.AddEdge("underwriting", "master")
	b.AddEdge("sanction", "master")

	g, err := b.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile master graph: %w", err)
	}
	return &Orchestrator{graph: g, deps: d}, nil
}

// Graph exposes the compiled master graph, mainly for tests.
func (o *Orchestrator) Graph() *graph.CompiledGraph { return o.graph }

// Advance processes one user message on a clone of the session and
// returns the post-turn state. The input session is never mutated.
// Hitting the master turn bound degrades to an apology instead of
// failing the turn; configuration faults propagate.
func (o *Orchestrator) Advance(ctx context.Context, s *state.Session, userMessage string) (*state.Session, error) {
	work := s.Clone()
	turnStart := &state.Update{}
	turnStart.Append(state.ChannelPublic, state.UserMessage(userMessage))
	work.Apply(turnStart)

	combined, err := o.graph.Run(ctx, work)
	if err != nil {
		if errors.Is(err, graph.ErrStepLimit) {
			work.Apply(combined)
			bail := &state.Update{}
			bail.Append(state.ChannelPublic, state.AssistantMessage("master",
				"This is taking more steps than expected. Please rephrase or try again."))
			work.Apply(bail)
			if o.deps.Logger != nil {
				o.deps.Logger.Warn("master_turn_limit", "session_id", s.SessionID)
			}
			return work, nil
		}
		return nil, err
	}

	work.Apply(combined)
	return work, nil
}

// routeNext dispatches on the master's routing advice.
func routeNext(s *state.Session) string {
	return s.NextWorker
}

// masterNode asks the oracle for a route decision and applies its state
// extractions. An unreachable oracle degrades to a routed-nowhere
// apology; an unknown worker tag is a configuration fault and aborts.
func masterNode(d workers.Deps) graph.NodeFunc {
	return func(ctx context.Context, s *state.Session) (*state.Update, error) {
		u := &state.Update{}

		msg, err := d.Decide(ctx, s.PublicTranscript, masterInstruction(s))
		if err != nil {
			if d.Logger != nil {
				d.Logger.Warn("master_oracle_failed", "session_id", s.SessionID, "error", err.Error())
			}
			u.NextWorker = state.Ptr(oracle.WorkerNone)
			u.Append(state.ChannelPublic, state.AssistantMessage("master",
				"I'm unable to process your request right now, please try again shortly."))
			return u, nil
		}

		rd, err := oracle.DecodeRoute(msg)
		if err != nil {
			if errors.Is(err, oracle.ErrUnknownWorker) {
				return nil, fmt.Errorf("%w: master route: %v", graph.ErrConfiguration, err)
			}
			// Free-form master output: pass it through as the reply.
			if d.Logger != nil {
				d.Logger.Warn("master_route_undecodable", "session_id", s.SessionID, "error", err.Error())
			}
			u.NextWorker = state.Ptr(oracle.WorkerNone)
			u.Append(state.ChannelPublic, state.AssistantMessage("master", msg.Content))
			return u, nil
		}

		applyExtractions(s, rd, u)
		u.NextWorker = &rd.NextWorker
		if stage, ok := stageFor(rd.NextWorker, s); ok {
			u.FlowStage = &stage
		}
		if rd.ResponseToUser != "" {
			u.Append(state.ChannelPublic, state.AssistantMessage("master", rd.ResponseToUser))
		}
		return u, nil
	}
}

// applyExtractions copies the master's fact extractions into the update.
// A changed interest cap or a customer switch invalidates any negotiated
// offer so the sales worker renegotiates on fresh terms.
func applyExtractions(s *state.Session, rd *oracle.RouteDecision, u *state.Update) {
	if rd.UpdateCustomerID != nil && *rd.UpdateCustomerID != s.CustomerID {
		u.CustomerID = rd.UpdateCustomerID
		u.ClearNegotiatedOffer = true
	}
	if rd.UpdateRequestedAmount != nil {
		u.RequestedAmount = rd.UpdateRequestedAmount
	}
	if rd.UpdatePreferredTenure != nil {
		u.PreferredTenureMonths = rd.UpdatePreferredTenure
	}
	if rd.UpdateMaxInterest != nil {
		current := s.MaxInterestRate
		if current == nil || *current != *rd.UpdateMaxInterest {
			u.MaxInterestRate = rd.UpdateMaxInterest
			u.ClearNegotiatedOffer = true
		}
	}
}

func stageFor(worker string, s *state.Session) (state.FlowStage, bool) {
	switch worker {
	case oracle.WorkerSales:
		return state.StageNegotiation, true
	case oracle.WorkerVerification:
		return state.StageVerification, true
	case oracle.WorkerUnderwriting:
		return state.StageUnderwriting, true
	case oracle.WorkerSanction:
		return state.StageSanction, true
	case oracle.WorkerNone:
		if s.SanctionLetterStatus == state.SanctionGenerated {
			return state.StageComplete, true
		}
	}
	return "", false
}

func masterInstruction(s *state.Session) string {
	return oracle.TaskMaster + "\n\n" +
		"You are the loan origination manager. Read the conversation, extract any new " +
		"application facts from the latest user message (customer ID, requested amount, " +
		"preferred tenure, maximum interest rate) and decide the next step. Respond with " +
		"a JSON object with keys response_to_user, next_worker (sales, verification, " +
		"underwriting, sanction or none) and optional update_customer_id, " +
		"update_requested_amount, update_preferred_tenure, update_max_interest.\n\n" +
		"Context:\n" + jsonContext(s.Summary())
}

func jsonContext(v map[string]any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
