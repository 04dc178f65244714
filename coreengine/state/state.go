// Package state defines the shared loan-application state that flows
// through the orchestration graph: application facts, worker outcomes,
// the public transcript, and one private scratchpad per worker.
package state

import (
	"time"

	"github.com/google/uuid"
)

// ===== ENUMS =====

// FlowStage is the coarse progress marker of a loan application.
type FlowStage string

const (
	StageStart        FlowStage = "start"
	StageNegotiation  FlowStage = "negotiation"
	StageVerification FlowStage = "verification"
	StageUnderwriting FlowStage = "underwriting"
	StageSanction     FlowStage = "sanction"
	StageComplete     FlowStage = "complete"
)

// KYCStatus is the outcome of identity verification.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCVerified KYCStatus = "verified"
	KYCFailed   KYCStatus = "failed"
)

// Underwriting decisions in canonical vocabulary. Legacy spellings
// ("approved", "rejected") are normalized at the tool boundary.
const (
	UnderwritingPending         = "pending"
	UnderwritingApprove         = "approve"
	UnderwritingReject          = "reject"
	UnderwritingNeedsSalarySlip = "require_salary_slip"
	UnderwritingFailed          = "failed"
)

// SanctionStatus is the outcome of sanction letter generation.
type SanctionStatus string

const (
	SanctionPending   SanctionStatus = "pending"
	SanctionGenerated SanctionStatus = "generated"
	SanctionFailed    SanctionStatus = "failed"
)

// Channel names a conversation channel inside a session. The public
// transcript is shared between the user and the master; each worker owns
// exactly one private scratchpad that no other worker reads or writes.
type Channel string

const (
	ChannelPublic       Channel = "public"
	ChannelNegotiation  Channel = "negotiation"
	ChannelVerification Channel = "verification"
	ChannelUnderwriting Channel = "underwriting"
	ChannelSanction     Channel = "sanction"
)

// ===== SESSION =====

// NegotiatedOffer is the structured output of the negotiation worker.
type NegotiatedOffer struct {
	CustomerID     string  `json:"customer_id"`
	ApprovedAmount int     `json:"approved_amount"`
	TenureMonths   int     `json:"tenure_months"`
	InterestRate   float64 `json:"interest_rate"`
	Justification  string  `json:"justification,omitempty"`
}

// Session is the complete state of one loan application conversation.
// It is owned exclusively by a single graph run at any time; concurrent
// callers must serialize through the session store.
type Session struct {
	SessionID string    `json:"session_id"`
	FlowStage FlowStage `json:"flow_stage"`

	// Application facts set by the master from user input.
	CustomerID            string   `json:"customer_id,omitempty"`
	RequestedAmount       *int     `json:"requested_amount,omitempty"`
	PreferredTenureMonths *int     `json:"preferred_tenure_months,omitempty"`
	MaxInterestRate       *float64 `json:"max_interest_rate,omitempty"`

	// Worker outcomes.
	CustomerInfo           map[string]any   `json:"customer_info,omitempty"`
	NegotiatedOffer        *NegotiatedOffer `json:"negotiated_offer,omitempty"`
	KYCStatus              KYCStatus        `json:"kyc_status"`
	KYCResult              map[string]any   `json:"kyc_result,omitempty"`
	CreditScore            *int             `json:"credit_score,omitempty"`
	SalarySlipResource     string           `json:"salary_slip_resource,omitempty"`
	UnderwritingInput      map[string]any   `json:"underwriting_input,omitempty"`
	UnderwritingResult     map[string]any   `json:"underwriting_result,omitempty"`
	UnderwritingStatus     string           `json:"underwriting_status"`
	SanctionLetterResource string           `json:"sanction_letter_resource,omitempty"`
	SanctionLetterPath     string           `json:"sanction_letter_path,omitempty"`
	SanctionLetterStatus   SanctionStatus   `json:"sanction_letter_status"`

	// Transient routing advice written by the master node and consumed
	// by the master's outgoing router within the same graph run.
	NextWorker string `json:"next_worker,omitempty"`

	// Conversation channels.
	PublicTranscript     []Message `json:"public_transcript,omitempty"`
	NegotiationMessages  []Message `json:"negotiation_messages,omitempty"`
	VerificationMessages []Message `json:"verification_messages,omitempty"`
	UnderwritingMessages []Message `json:"underwriting_messages,omitempty"`
	SanctionMessages     []Message `json:"sanction_messages,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a session with pending statuses. An empty sessionID
// gets a generated one.
func NewSession(sessionID string) *Session {
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:16]
	}
	now := time.Now().UTC()
	return &Session{
		SessionID:            sessionID,
		FlowStage:            StageStart,
		KYCStatus:            KYCPending,
		UnderwritingStatus:   UnderwritingPending,
		SanctionLetterStatus: SanctionPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Clone returns a deep copy of the session. Graph runs operate on a clone
// so a failed run never corrupts the caller's state.
func (s *Session) Clone() *Session {
	out := *s
	out.CustomerInfo = deepCopyAnyMap(s.CustomerInfo)
	out.KYCResult = deepCopyAnyMap(s.KYCResult)
	out.UnderwritingInput = deepCopyAnyMap(s.UnderwritingInput)
	out.UnderwritingResult = deepCopyAnyMap(s.UnderwritingResult)
	if s.RequestedAmount != nil {
		v := *s.RequestedAmount
		out.RequestedAmount = &v
	}
	if s.PreferredTenureMonths != nil {
		v := *s.PreferredTenureMonths
		out.PreferredTenureMonths = &v
	}
	if s.MaxInterestRate != nil {
		v := *s.MaxInterestRate
		out.MaxInterestRate = &v
	}
	if s.CreditScore != nil {
		v := *s.CreditScore
		out.CreditScore = &v
	}
	if s.NegotiatedOffer != nil {
		v := *s.NegotiatedOffer
		out.NegotiatedOffer = &v
	}
	out.PublicTranscript = cloneMessages(s.PublicTranscript)
	out.NegotiationMessages = cloneMessages(s.NegotiationMessages)
	out.VerificationMessages = cloneMessages(s.VerificationMessages)
	out.UnderwritingMessages = cloneMessages(s.UnderwritingMessages)
	out.SanctionMessages = cloneMessages(s.SanctionMessages)
	return &out
}

// Scratchpad returns the message slice for the given channel.
func (s *Session) Scratchpad(ch Channel) []Message {
	switch ch {
	case ChannelPublic:
		return s.PublicTranscript
	case ChannelNegotiation:
		return s.NegotiationMessages
	case ChannelVerification:
		return s.VerificationMessages
	case ChannelUnderwriting:
		return s.UnderwritingMessages
	case ChannelSanction:
		return s.SanctionMessages
	}
	return nil
}

// LastMessage returns the newest message on the channel, or nil.
func (s *Session) LastMessage(ch Channel) *Message {
	msgs := s.Scratchpad(ch)
	if len(msgs) == 0 {
		return nil
	}
	m := msgs[len(msgs)-1].Clone()
	return &m
}

// LastAssistantReply returns the content of the newest assistant message
// on the public transcript, or "".
func (s *Session) LastAssistantReply() string {
	for i := len(s.PublicTranscript) - 1; i >= 0; i-- {
		if s.PublicTranscript[i].Role == RoleAssistant {
			return s.PublicTranscript[i].Content
		}
	}
	return ""
}

// Summary returns a compact fact view of the session, suitable for
// embedding in a routing instruction or persisting alongside transcripts.
func (s *Session) Summary() map[string]any {
	out := map[string]any{
		"session_id":             s.SessionID,
		"flow_stage":             string(s.FlowStage),
		"customer_id":            s.CustomerID,
		"kyc_status":             string(s.KYCStatus),
		"underwriting_status":    s.UnderwritingStatus,
		"sanction_letter_status": string(s.SanctionLetterStatus),
	}
	if s.RequestedAmount != nil {
		out["requested_amount"] = *s.RequestedAmount
	}
	if s.PreferredTenureMonths != nil {
		out["preferred_tenure_months"] = *s.PreferredTenureMonths
	}
	if s.MaxInterestRate != nil {
		out["max_interest_rate"] = *s.MaxInterestRate
	}
	if s.CreditScore != nil {
		out["credit_score"] = *s.CreditScore
	}
	if s.NegotiatedOffer != nil {
		out["negotiated_offer"] = map[string]any{
			"customer_id":     s.NegotiatedOffer.CustomerID,
			"approved_amount": s.NegotiatedOffer.ApprovedAmount,
			"tenure_months":   s.NegotiatedOffer.TenureMonths,
			"interest_rate":   s.NegotiatedOffer.InterestRate,
		}
	}
	if s.CustomerInfo != nil {
		out["customer_info"] = deepCopyAnyMap(s.CustomerInfo)
	}
	if s.SalarySlipResource != "" {
		out["salary_slip_resource"] = s.SalarySlipResource
	}
	if s.SanctionLetterResource != "" {
		out["sanction_letter_resource"] = s.SanctionLetterResource
	}
	return out
}

// ===== DEEP COPY HELPERS =====

func deepCopyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopyAnyMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
