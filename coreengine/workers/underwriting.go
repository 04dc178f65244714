package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/nbfc-labs/loanflow/coreengine/graph"
	"github.com/nbfc-labs/loanflow/coreengine/oracle"
	"github.com/nbfc-labs/loanflow/coreengine/state"
	"github.com/nbfc-labs/loanflow/coreengine/typeutil"
)

// NewUnderwriting compiles the underwriting worker: fetch the credit
// score, then let the oracle drive underwrite_loan (and, when required,
// upload_salary_slip) until a terminal decision is reached.
func NewUnderwriting(d Deps) (*graph.CompiledGraph, error) {
	return buildToolLoop(loopSpec{
		worker:      "underwriting",
		channel:     state.ChannelUnderwriting,
		prepare:     fetchCreditScoreNode(d),
		instruction: underwritingInstruction,
		finalize:    finalizeUnderwriting,
	}, d)
}

// fetchCreditScoreNode records the credit score in shared state before
// the decision loop starts. A failed lookup stores an error marker in
// the scratchpad instead; the underwrite_loan tool applies the score
// rule itself.
func fetchCreditScoreNode(d Deps) graph.NodeFunc {
	return func(ctx context.Context, s *state.Session) (*state.Update, error) {
		if s.CustomerID == "" {
			return nil, nil
		}
		result, err := d.Tools.Invoke(ctx, "get_credit_score", map[string]any{"customer_id": s.CustomerID})
		if err != nil {
			d.warn("credit_score_fetch_failed", "session_id", s.SessionID, "customer_id", s.CustomerID, "error", err.Error())
			u := &state.Update{}
			u.Append(state.ChannelUnderwriting, state.ToolMessage("get_credit_score", encodeToolError(err)))
			return u, nil
		}
		u := &state.Update{}
		if score, ok := typeutil.SafeInt(result["credit_score"]); ok {
			u.CreditScore = &score
		}
		u.Append(state.ChannelUnderwriting, state.ToolMessage("get_credit_score", encodeToolResult(result)))
		return u, nil
	}
}

func underwritingInstruction(s *state.Session) string {
	taskCtx := map[string]any{
		"customer_id": s.CustomerID,
	}
	if s.RequestedAmount != nil {
		taskCtx["requested_amount"] = *s.RequestedAmount
	}
	if s.CreditScore != nil {
		taskCtx["credit_score"] = *s.CreditScore
	}
	tenure := 36
	annualRate := 12.0
	if offer := s.NegotiatedOffer; offer != nil {
		taskCtx["requested_amount"] = offer.ApprovedAmount
		tenure = offer.TenureMonths
		annualRate = offer.InterestRate
	} else if s.PreferredTenureMonths != nil {
		tenure = *s.PreferredTenureMonths
	}
	taskCtx["preferred_tenure_months"] = tenure
	taskCtx["annual_rate"] = annualRate
	if s.SalarySlipResource != "" {
		taskCtx["salary_slip_resource"] = s.SalarySlipResource
	}
	return oracle.TaskUnderwriting + "\n\n" +
		"Underwrite the application with the underwrite_loan tool. If the decision is " +
		"require_salary_slip, obtain salary evidence with upload_salary_slip and " +
		"re-underwrite with the returned resource. Stop once the decision is approve or " +
		"reject.\n\nContext:\n" + jsonContext(taskCtx)
}

func finalizeUnderwriting(s *state.Session, failure string) *state.Update {
	msgs := s.Scratchpad(state.ChannelUnderwriting)
	u := &state.Update{}

	// Keep the exact request that produced the decision for the audit
	// trail, and pick up any salary slip stored along the way.
	if args := latestToolArguments(msgs, "underwrite_loan"); args != nil {
		u.UnderwritingInput = args
	}
	if up := latestToolResult(msgs, "upload_salary_slip"); up != nil && up.Error == "" {
		if resource := typeutil.SafeStringDefault(up.Payload["resource"], ""); resource != "" {
			u.SalarySlipResource = &resource
		}
	}

	res := latestToolResult(msgs, "underwrite_loan")
	switch {
	case failure != "" || res == nil:
		u.UnderwritingStatus = state.Ptr(state.UnderwritingFailed)
		u.UnderwritingResult = map[string]any{"error": nonEmpty(failure, "underwriting was not performed")}
		u.Append(state.ChannelPublic, state.AssistantMessage("underwriting",
			"Underwriting could not be completed."))

	case res.Error != "":
		u.UnderwritingStatus = state.Ptr(state.UnderwritingFailed)
		u.UnderwritingResult = map[string]any{"error": res.Error}
		u.Append(state.ChannelPublic, state.AssistantMessage("underwriting",
			"Underwriting could not be completed."))

	default:
		decision := normalizeDecision(typeutil.SafeStringDefault(res.Payload["decision"], ""))
		u.UnderwritingStatus = &decision
		u.UnderwritingResult = res.Payload
		u.Append(state.ChannelPublic, state.AssistantMessage("underwriting",
			underwritingSummary(decision, res.Payload)))
	}
	return u
}

// normalizeDecision maps decision spellings onto the canonical
// vocabulary. Unknown values are treated as a failed evaluation.
func normalizeDecision(decision string) string {
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case "approve", "approved":
		return state.UnderwritingApprove
	case "reject", "rejected", "declined":
		return state.UnderwritingReject
	case "require_salary_slip", "needs_salary_slip":
		return state.UnderwritingNeedsSalarySlip
	default:
		return state.UnderwritingFailed
	}
}

func underwritingSummary(decision string, payload map[string]any) string {
	reason := typeutil.SafeStringDefault(payload["reason"], "")
	switch decision {
	case state.UnderwritingApprove:
		if emi, ok := typeutil.SafeFloat64(payload["emi"]); ok {
			return fmt.Sprintf("Underwriting approved the loan (EMI INR %.2f, %s).", emi, reason)
		}
		return fmt.Sprintf("Underwriting approved the loan (%s).", reason)
	case state.UnderwritingReject:
		return fmt.Sprintf("Underwriting rejected the application (%s).", reason)
	case state.UnderwritingNeedsSalarySlip:
		return "Underwriting needs a salary slip to continue."
	default:
		return "Underwriting returned an unrecognized decision."
	}
}
