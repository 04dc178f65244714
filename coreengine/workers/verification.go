package workers

import (
	"fmt"

	"github.com/nbfc-labs/loanflow/coreengine/graph"
	"github.com/nbfc-labs/loanflow/coreengine/oracle"
	"github.com/nbfc-labs/loanflow/coreengine/state"
	"github.com/nbfc-labs/loanflow/coreengine/typeutil"
)

// NewVerification compiles the KYC worker. The oracle drives the
// verify_kyc tool; the finalizer maps the tool outcome onto the KYC
// status: verified when both checks pass, pending when only one does,
// failed otherwise.
func NewVerification(d Deps) (*graph.CompiledGraph, error) {
	return buildToolLoop(loopSpec{
		worker:      "verification",
		channel:     state.ChannelVerification,
		instruction: verificationInstruction,
		finalize:    finalizeVerification,
	}, d)
}

func verificationInstruction(s *state.Session) string {
	taskCtx := map[string]any{
		"customer_id":   s.CustomerID,
		"customer_info": s.CustomerInfo,
	}
	return oracle.TaskVerification + "\n\n" +
		"Verify the customer's identity with the verify_kyc tool using the phone number " +
		"on record, then report the outcome.\n\nContext:\n" + jsonContext(taskCtx)
}

func finalizeVerification(s *state.Session, failure string) *state.Update {
	u := &state.Update{}

	res := latestToolResult(s.Scratchpad(state.ChannelVerification), "verify_kyc")
	switch {
	case failure != "" || res == nil:
		u.KYCStatus = state.Ptr(state.KYCFailed)
		u.KYCResult = map[string]any{"error": nonEmpty(failure, "verification was not performed")}

	case res.Error != "":
		u.KYCStatus = state.Ptr(state.KYCFailed)
		u.KYCResult = map[string]any{"error": res.Error}

	default:
		phoneOK := typeutil.SafeBoolDefault(res.Payload["phone_verified"], false)
		addressOK := typeutil.SafeBoolDefault(res.Payload["address_verified"], false)
		switch {
		case phoneOK && addressOK:
			u.KYCStatus = state.Ptr(state.KYCVerified)
		case phoneOK || addressOK:
			// One check inconclusive: stay pending so verification can be retried.
			u.KYCStatus = state.Ptr(state.KYCPending)
		default:
			u.KYCStatus = state.Ptr(state.KYCFailed)
		}
		u.KYCResult = res.Payload
	}

	u.Append(state.ChannelPublic, state.AssistantMessage("verification",
		fmt.Sprintf("KYC verification result: %s.", *u.KYCStatus)))
	return u
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
