package workers

import (
	"context"
	"fmt"

	"github.com/nbfc-labs/loanflow/coreengine/graph"
	"github.com/nbfc-labs/loanflow/coreengine/oracle"
	"github.com/nbfc-labs/loanflow/coreengine/state"
	"github.com/nbfc-labs/loanflow/coreengine/tools"
	"github.com/nbfc-labs/loanflow/eventbus"
)

// NewNegotiation compiles the sales worker: fetch the customer profile,
// then ask the oracle for a structured offer within policy limits.
func NewNegotiation(d Deps) (*graph.CompiledGraph, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	b := graph.New("negotiation").WithLogger(d.Logger)
	b.AddNode("fetch_customer", fetchCustomerNode(d))
	b.AddNode("negotiate", negotiateNode(d))
	b.AddEdge(graph.Start, "fetch_customer")
	b.AddEdge("fetch_customer", "negotiate")
	b.AddEdge("negotiate", graph.End)
	return b.Compile()
}

// fetchCustomerNode loads the customer profile into shared state. A tool
// failure stores an error marker as the profile so the negotiate step
// still runs against the degraded context.
func fetchCustomerNode(d Deps) graph.NodeFunc {
	return func(ctx context.Context, s *state.Session) (*state.Update, error) {
		d.publish(ctx, &eventbus.WorkerStarted{Worker: "negotiation", SessionID: s.SessionID})

		u := &state.Update{}
		if s.CustomerID == "" {
			u.Append(state.ChannelNegotiation,
				state.AssistantMessage("negotiation", "no customer selected; cannot prepare an offer"))
			return u, nil
		}

		result, err := d.Tools.Invoke(ctx, "get_customer_info", map[string]any{"customer_id": s.CustomerID})
		status := "success"
		if err != nil {
			status = "error"
			d.warn("customer_fetch_failed", "session_id", s.SessionID, "customer_id", s.CustomerID, "error", err.Error())
			// The negotiate step still runs, against this error marker.
			u.CustomerInfo = map[string]any{"error": tools.Kind(err)}
			u.Append(state.ChannelNegotiation, state.ToolMessage("get_customer_info", encodeToolError(err)))
		} else {
			u.CustomerInfo = result
			u.Append(state.ChannelNegotiation, state.ToolMessage("get_customer_info", encodeToolResult(result)))
		}
		d.publish(ctx, &eventbus.ToolInvoked{
			Tool: "get_customer_info", Worker: "negotiation", SessionID: s.SessionID, Status: status,
		})
		return u, nil
	}
}

// negotiateNode asks the oracle for an offer and publishes the outcome.
func negotiateNode(d Deps) graph.NodeFunc {
	return func(ctx context.Context, s *state.Session) (*state.Update, error) {
		u := &state.Update{}
		defer func() {
			status := "failed"
			if u.NegotiatedOffer != nil {
				status = "success"
			}
			d.publish(ctx, &eventbus.WorkerCompleted{
				Worker: "negotiation", SessionID: s.SessionID, Status: status,
			})
		}()

		if s.CustomerInfo == nil {
			u.Append(state.ChannelPublic, state.AssistantMessage("negotiation",
				"We could not retrieve your customer profile, so no offer can be prepared right now."))
			return u, nil
		}

		instruction := negotiationInstruction(s)
		u.Append(state.ChannelNegotiation, state.UserMessage(instruction))

		history := append(append([]state.Message{}, s.Scratchpad(state.ChannelNegotiation)...), state.UserMessage(instruction))
		msg, err := d.Decide(ctx, history, instruction)
		if err != nil {
			d.warn("oracle_decision_failed", "worker", "negotiation", "session_id", s.SessionID, "error", err.Error())
			u.Append(state.ChannelNegotiation,
				state.AssistantMessage("negotiation", oracleFailureMarker+err.Error()))
			u.Append(state.ChannelPublic, state.AssistantMessage("negotiation",
				"We could not prepare an offer right now, please try again shortly."))
			return u, nil
		}
		if msg.Name == "" {
			msg.Name = "negotiation"
		}
		u.Append(state.ChannelNegotiation, msg)

		offer, err := oracle.DecodeOffer(msg)
		if err != nil {
			d.warn("offer_decode_failed", "session_id", s.SessionID, "error", err.Error())
			u.Append(state.ChannelPublic, state.AssistantMessage("negotiation",
				"We could not prepare an offer right now, please try again shortly."))
			return u, nil
		}
		if offer.CustomerID == "" {
			offer.CustomerID = s.CustomerID
		}
		// The oracle must not overshoot the customer's stated rate cap.
		if s.MaxInterestRate != nil && offer.InterestRate > *s.MaxInterestRate {
			d.warn("offer_rate_clamped", "session_id", s.SessionID,
				"offered", offer.InterestRate, "cap", *s.MaxInterestRate)
			offer.InterestRate = *s.MaxInterestRate
		}

		u.NegotiatedOffer = offer
		u.Append(state.ChannelPublic, state.AssistantMessage("negotiation", fmt.Sprintf(
			"Offer prepared: INR %d over %d months at %.2f%% annual interest.",
			offer.ApprovedAmount, offer.TenureMonths, offer.InterestRate)))
		return u, nil
	}
}

func negotiationInstruction(s *state.Session) string {
	taskCtx := map[string]any{
		"customer_id":   s.CustomerID,
		"customer_info": s.CustomerInfo,
	}
	if s.RequestedAmount != nil {
		taskCtx["requested_amount"] = *s.RequestedAmount
	}
	if s.PreferredTenureMonths != nil {
		taskCtx["preferred_tenure_months"] = *s.PreferredTenureMonths
	}
	if s.MaxInterestRate != nil {
		taskCtx["max_interest_rate"] = *s.MaxInterestRate
	}
	return oracle.TaskNegotiation + "\n\n" +
		"Propose a loan offer for the customer. Respond with a JSON object with keys " +
		"customer_id, approved_amount, tenure_months, interest_rate and justification. " +
		"Never exceed the customer's stated maximum interest rate and never offer more " +
		"than twice the pre-approved limit.\n\nContext:\n" + jsonContext(taskCtx)
}
