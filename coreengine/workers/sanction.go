package workers

import (
	"fmt"

	"github.com/nbfc-labs/loanflow/coreengine/graph"
	"github.com/nbfc-labs/loanflow/coreengine/oracle"
	"github.com/nbfc-labs/loanflow/coreengine/state"
	"github.com/nbfc-labs/loanflow/coreengine/typeutil"
)

// NewSanction compiles the sanction letter worker. A letter is only
// issued for an approved application; anything else finalizes without a
// single tool call.
func NewSanction(d Deps) (*graph.CompiledGraph, error) {
	return buildToolLoop(loopSpec{
		worker:      "sanction",
		channel:     state.ChannelSanction,
		instruction: sanctionInstruction,
		finalize:    finalizeSanction,
	}, d)
}

func sanctionInstruction(s *state.Session) string {
	taskCtx := map[string]any{
		"customer_id":         s.CustomerID,
		"underwriting_status": s.UnderwritingStatus,
	}
	if s.RequestedAmount != nil {
		taskCtx["requested_amount"] = *s.RequestedAmount
	}
	if offer := s.NegotiatedOffer; offer != nil {
		taskCtx["negotiated_offer"] = map[string]any{
			"approved_amount": offer.ApprovedAmount,
			"tenure_months":   offer.TenureMonths,
			"interest_rate":   offer.InterestRate,
		}
	}
	return oracle.TaskSanction + "\n\n" +
		"If and only if the underwriting status is approve, issue the sanction letter " +
		"with the generate_sanction_letter tool using the negotiated terms. Otherwise " +
		"explain that no letter can be issued.\n\nContext:\n" + jsonContext(taskCtx)
}

func finalizeSanction(s *state.Session, failure string) *state.Update {
	u := &state.Update{}

	if s.UnderwritingStatus != state.UnderwritingApprove {
		u.SanctionLetterStatus = state.Ptr(state.SanctionFailed)
		u.Append(state.ChannelPublic, state.AssistantMessage("sanction",
			"A sanction letter cannot be issued because the application is not approved."))
		return u
	}

	res := latestToolResult(s.Scratchpad(state.ChannelSanction), "generate_sanction_letter")
	if failure != "" || res == nil || res.Error != "" {
		u.SanctionLetterStatus = state.Ptr(state.SanctionFailed)
		u.Append(state.ChannelPublic, state.AssistantMessage("sanction",
			"Sanction letter generation failed, please try again."))
		return u
	}

	resource := typeutil.SafeStringDefault(res.Payload["resource"], "")
	path := typeutil.SafeStringDefault(res.Payload["path"], "")
	if resource == "" || path == "" {
		u.SanctionLetterStatus = state.Ptr(state.SanctionFailed)
		u.Append(state.ChannelPublic, state.AssistantMessage("sanction",
			"Sanction letter generation failed, please try again."))
		return u
	}

	u.SanctionLetterStatus = state.Ptr(state.SanctionGenerated)
	u.SanctionLetterResource = &resource
	u.SanctionLetterPath = &path
	u.Append(state.ChannelPublic, state.AssistantMessage("sanction",
		fmt.Sprintf("Sanction letter issued: %s", resource)))
	return u
}
