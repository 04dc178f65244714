package oracle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nbfc-labs/loanflow/coreengine/state"
	"github.com/nbfc-labs/loanflow/coreengine/typeutil"
)

// Task headers. Workers put one of these on the first line of every
// instruction so oracle implementations can tell tasks apart without
// out-of-band signaling.
const (
	TaskMaster       = "Task: route_loan_conversation"
	TaskNegotiation  = "Task: negotiate_offer"
	TaskVerification = "Task: verify_kyc"
	TaskUnderwriting = "Task: underwrite_application"
	TaskSanction     = "Task: issue_sanction_letter"
)

// ScriptedPolicy is a deterministic Client that drives the loan flow with
// fixed rules instead of an LLM. It keeps the engine runnable end to end
// in tests and demos and doubles as the reference behavior for oracle
// integrations.
type ScriptedPolicy struct{}

// NewScriptedPolicy returns a deterministic decision policy.
func NewScriptedPolicy() *ScriptedPolicy { return &ScriptedPolicy{} }

var _ Client = (*ScriptedPolicy)(nil)

// Decide dispatches on the instruction's task header.
func (p *ScriptedPolicy) Decide(_ context.Context, messages []state.Message, instruction string) (state.Message, error) {
	taskCtx, _ := ExtractJSON(instruction)
	switch {
	case strings.HasPrefix(instruction, TaskMaster):
		return p.route(messages, taskCtx), nil
	case strings.HasPrefix(instruction, TaskNegotiation):
		return p.negotiate(taskCtx), nil
	case strings.HasPrefix(instruction, TaskVerification):
		return p.verify(messages, taskCtx), nil
	case strings.HasPrefix(instruction, TaskUnderwriting):
		return p.underwrite(messages, taskCtx), nil
	case strings.HasPrefix(instruction, TaskSanction):
		return p.sanction(messages, taskCtx), nil
	}
	return state.Message{}, fmt.Errorf("scripted policy: unrecognized task instruction")
}

// ===== MASTER ROUTING =====

var (
	customerIDPattern = regexp.MustCompile(`(?i)\bCUST\d{3}\b`)
	amountPattern     = regexp.MustCompile(`(?i)(?:₹|rs\.?|inr)?\s*([0-9][0-9,]{3,})`)
	tenurePattern     = regexp.MustCompile(`(?i)\b(\d{1,3})\s*months?\b`)
	interestPattern   = regexp.MustCompile(`(?i)(\d{1,2}(?:\.\d+)?)\s*%`)
	acceptPattern     = regexp.MustCompile(`(?i)\b(yes|accept|agree|proceed|ok|okay|go ahead|sounds good)\b`)
)

func (p *ScriptedPolicy) route(messages []state.Message, taskCtx map[string]any) state.Message {
	userText := lastUserContent(messages)

	rd := RouteDecision{NextWorker: WorkerNone}

	customerID := typeutil.SafeStringDefault(taskCtx["customer_id"], "")
	if m := customerIDPattern.FindString(userText); m != "" {
		id := strings.ToUpper(m)
		if id != customerID {
			rd.UpdateCustomerID = &id
		}
		customerID = id
	}

	requested, hasRequested := typeutil.SafeInt(taskCtx["requested_amount"])
	if m := amountPattern.FindStringSubmatch(userText); m != nil {
		if v, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil && v >= 1000 {
			if !hasRequested || v != requested {
				rd.UpdateRequestedAmount = &v
			}
			requested, hasRequested = v, true
		}
	}

	if m := tenurePattern.FindStringSubmatch(userText); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
			if cur, ok := typeutil.SafeInt(taskCtx["preferred_tenure_months"]); !ok || cur != v {
				rd.UpdatePreferredTenure = &v
			}
		}
	}

	offerStale := false
	if m := interestPattern.FindStringSubmatch(userText); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			cur, ok := typeutil.SafeFloat64(taskCtx["max_interest_rate"])
			if !ok || cur != v {
				rd.UpdateMaxInterest = &v
				offerStale = true
			}
		}
	}

	_, hasOffer := typeutil.SafeMapStringAny(taskCtx["negotiated_offer"])
	kycStatus := typeutil.SafeStringDefault(taskCtx["kyc_status"], string(state.KYCPending))
	uwStatus := typeutil.SafeStringDefault(taskCtx["underwriting_status"], state.UnderwritingPending)
	sanctionStatus := typeutil.SafeStringDefault(taskCtx["sanction_letter_status"], string(state.SanctionPending))
	accepted := acceptPattern.MatchString(userText)

	switch {
	case customerID == "":
		rd.ResponseToUser = "Welcome! To get started with your loan application, please share your customer ID (e.g. CUST001)."
	case !hasRequested:
		rd.ResponseToUser = "Thanks. How much would you like to borrow, and over what tenure?"
	case !hasOffer || offerStale:
		rd.NextWorker = WorkerSales
		rd.ResponseToUser = "Let me work out the best offer for you."
	case !accepted:
		rd.ResponseToUser = fmt.Sprintf(
			"We can offer INR %d. Please reply 'yes' to accept the offer and continue with verification.", requested)
	case kycStatus == string(state.KYCPending):
		rd.NextWorker = WorkerVerification
		rd.ResponseToUser = "Great, starting identity verification."
	case kycStatus == string(state.KYCFailed):
		rd.ResponseToUser = "Unfortunately identity verification failed, so we cannot proceed with this application."
	case uwStatus == state.UnderwritingPending || uwStatus == state.UnderwritingNeedsSalarySlip:
		rd.NextWorker = WorkerUnderwriting
		rd.ResponseToUser = "Verification done. Running the underwriting checks now."
	case uwStatus == state.UnderwritingReject || uwStatus == state.UnderwritingFailed:
		rd.ResponseToUser = "I'm sorry, underwriting did not approve this application."
	case uwStatus == state.UnderwritingApprove && sanctionStatus == string(state.SanctionPending):
		rd.NextWorker = WorkerSanction
		rd.ResponseToUser = "Approved! Preparing your sanction letter."
	case sanctionStatus == string(state.SanctionGenerated):
		resource := typeutil.SafeStringDefault(taskCtx["sanction_letter_resource"], "")
		rd.ResponseToUser = fmt.Sprintf("Your loan is approved and the sanction letter is ready: %s", resource)
	default:
		rd.ResponseToUser = "We could not complete the application at this time."
	}

	return state.AssistantMessage("master", mustJSON(rd))
}

// ===== NEGOTIATION =====

func (p *ScriptedPolicy) negotiate(taskCtx map[string]any) state.Message {
	info := typeutil.SafeMapStringAnyDefault(taskCtx["customer_info"], map[string]any{})
	score := typeutil.SafeIntDefault(info["credit_score"], 0)
	limit := typeutil.SafeIntDefault(info["pre_approved_limit"], 0)
	requested := typeutil.SafeIntDefault(taskCtx["requested_amount"], 0)
	tenure := typeutil.SafeIntDefault(taskCtx["preferred_tenure_months"], 36)

	rate := 13.5
	switch {
	case score >= 750:
		rate = 10.5
	case score >= 720:
		rate = 11.5
	case score >= 700:
		rate = 12.5
	}
	if maxRate, ok := typeutil.SafeFloat64(taskCtx["max_interest_rate"]); ok && maxRate >= 9.0 && rate > maxRate {
		rate = maxRate
	}

	amount := requested
	if limit > 0 && amount > 2*limit {
		amount = 2 * limit
	}

	offer := state.NegotiatedOffer{
		CustomerID:     typeutil.SafeStringDefault(taskCtx["customer_id"], ""),
		ApprovedAmount: amount,
		TenureMonths:   tenure,
		InterestRate:   rate,
		Justification:  fmt.Sprintf("rate based on credit score %d, amount capped at twice the pre-approved limit", score),
	}
	return state.AssistantMessage("negotiation", mustJSON(offer))
}

// ===== VERIFICATION =====

func (p *ScriptedPolicy) verify(messages []state.Message, taskCtx map[string]any) state.Message {
	if res := latestToolCall(messages, "verify_kyc"); res != nil {
		return state.AssistantMessage("verification", "KYC verification completed.")
	}
	info := typeutil.SafeMapStringAnyDefault(taskCtx["customer_info"], map[string]any{})
	msg := state.AssistantMessage("verification", "Checking phone and address records.")
	msg.ToolCalls = []state.ToolCallRequest{{
		Tool: "verify_kyc",
		Arguments: map[string]any{
			"customer_id": typeutil.SafeStringDefault(taskCtx["customer_id"], ""),
			"phone":       typeutil.SafeStringDefault(info["phone"], ""),
		},
	}}
	return msg
}

// ===== UNDERWRITING =====

func (p *ScriptedPolicy) underwrite(messages []state.Message, taskCtx map[string]any) state.Message {
	customerID := typeutil.SafeStringDefault(taskCtx["customer_id"], "")
	requested := typeutil.SafeIntDefault(taskCtx["requested_amount"], 0)
	tenure := typeutil.SafeIntDefault(taskCtx["preferred_tenure_months"], 36)
	rate := typeutil.SafeFloat64Default(taskCtx["annual_rate"], 12.0)

	baseArgs := map[string]any{
		"customer_id":      customerID,
		"requested_amount": requested,
		"tenure_months":    tenure,
		"annual_rate":      rate,
	}

	uw := latestToolCall(messages, "underwrite_loan")
	switch {
	case uw == nil:
		msg := state.AssistantMessage("underwriting", "Evaluating the application against lending policy.")
		msg.ToolCalls = []state.ToolCallRequest{{Tool: "underwrite_loan", Arguments: baseArgs}}
		return msg

	case uw.err != "":
		return state.AssistantMessage("underwriting", "Underwriting could not be completed due to a system error.")

	case decisionOf(uw.result) == state.UnderwritingNeedsSalarySlip:
		up := latestToolCall(messages, "upload_salary_slip")
		if up == nil {
			msg := state.AssistantMessage("underwriting", "Salary evidence is required; submitting salary slip on record.")
			msg.ToolCalls = []state.ToolCallRequest{{
				Tool: "upload_salary_slip",
				Arguments: map[string]any{
					"customer_id":    customerID,
					"filename":       "salary_slip.pdf",
					"content_base64": base64.StdEncoding.EncodeToString([]byte("salary slip on record")),
				},
			}}
			return msg
		}
		if up.err != "" {
			return state.AssistantMessage("underwriting", "Salary slip upload failed; underwriting cannot continue.")
		}
		args := map[string]any{}
		for k, v := range baseArgs {
			args[k] = v
		}
		args["salary_slip_resource"] = typeutil.SafeStringDefault(up.result["resource"], "")
		msg := state.AssistantMessage("underwriting", "Re-evaluating with salary evidence.")
		msg.ToolCalls = []state.ToolCallRequest{{Tool: "underwrite_loan", Arguments: args}}
		return msg

	default:
		return state.AssistantMessage("underwriting",
			fmt.Sprintf("Underwriting complete: %s (%s).",
				decisionOf(uw.result), typeutil.SafeStringDefault(uw.result["reason"], "")))
	}
}

func decisionOf(result map[string]any) string {
	return typeutil.SafeStringDefault(result["decision"], "")
}

// ===== SANCTION =====

func (p *ScriptedPolicy) sanction(messages []state.Message, taskCtx map[string]any) state.Message {
	if typeutil.SafeStringDefault(taskCtx["underwriting_status"], "") != state.UnderwritingApprove {
		return state.AssistantMessage("sanction", "A sanction letter can only be issued for approved applications.")
	}
	if res := latestToolCall(messages, "generate_sanction_letter"); res != nil {
		if res.err != "" {
			return state.AssistantMessage("sanction", "Sanction letter generation failed.")
		}
		return state.AssistantMessage("sanction",
			fmt.Sprintf("Sanction letter issued: %s", typeutil.SafeStringDefault(res.result["resource"], "")))
	}

	offer := typeutil.SafeMapStringAnyDefault(taskCtx["negotiated_offer"], map[string]any{})
	msg := state.AssistantMessage("sanction", "Issuing the sanction letter.")
	msg.ToolCalls = []state.ToolCallRequest{{
		Tool: "generate_sanction_letter",
		Arguments: map[string]any{
			"customer_id":   typeutil.SafeStringDefault(taskCtx["customer_id"], ""),
			"amount":        typeutil.SafeIntDefault(offer["approved_amount"], typeutil.SafeIntDefault(taskCtx["requested_amount"], 0)),
			"tenure_months": typeutil.SafeIntDefault(offer["tenure_months"], 36),
			"interest_rate": typeutil.SafeFloat64Default(offer["interest_rate"], 12.0),
		},
	}}
	return msg
}

// ===== HELPERS =====

type toolOutcome struct {
	result map[string]any
	err    string
}

// latestToolCall finds the newest tool message for the named tool since
// the last user message in the channel.
func latestToolCall(messages []state.Message, tool string) *toolOutcome {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == state.RoleUser {
			return nil
		}
		if m.Role != state.RoleTool || m.Name != tool {
			continue
		}
		obj, err := ExtractJSON(m.Content)
		if err != nil {
			return &toolOutcome{err: "malformed_result"}
		}
		if typeutil.SafeStringDefault(obj["status"], "") == "ok" {
			return &toolOutcome{result: typeutil.SafeMapStringAnyDefault(obj["result"], map[string]any{})}
		}
		return &toolOutcome{
			result: typeutil.SafeMapStringAnyDefault(obj["result"], map[string]any{}),
			err:    typeutil.SafeStringDefault(obj["error"], "error"),
		}
	}
	return nil
}

func lastUserContent(messages []state.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == state.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func mustJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
