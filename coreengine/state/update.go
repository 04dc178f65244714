package state

import "time"

// Update is a partial state change produced by a graph node. Nil pointer
// fields mean "leave as is"; map fields replace wholesale when non-nil;
// Appends extends conversation channels and never rewrites history.
//
// Nodes return updates instead of mutating the session so that a compiled
// graph nested as a node of a parent graph can hand its accumulated
// update to the parent, which applies it exactly once.
type Update struct {
	FlowStage *FlowStage

	CustomerID            *string
	RequestedAmount       *int
	PreferredTenureMonths *int
	MaxInterestRate       *float64

	CustomerInfo map[string]any

	NegotiatedOffer *NegotiatedOffer
	// ClearNegotiatedOffer invalidates a stale offer, e.g. after the user
	// changes the acceptable interest rate. A NegotiatedOffer set in the
	// same or a later update wins over the clear.
	ClearNegotiatedOffer bool

	KYCStatus *KYCStatus
	KYCResult map[string]any

	CreditScore        *int
	SalarySlipResource *string
	UnderwritingInput  map[string]any
	UnderwritingResult map[string]any
	UnderwritingStatus *string

	SanctionLetterResource *string
	SanctionLetterPath     *string
	SanctionLetterStatus   *SanctionStatus

	NextWorker *string

	Appends map[Channel][]Message
}

// Append adds messages to a channel in the update.
func (u *Update) Append(ch Channel, msgs ...Message) *Update {
	if len(msgs) == 0 {
		return u
	}
	if u.Appends == nil {
		u.Appends = make(map[Channel][]Message)
	}
	u.Appends[ch] = append(u.Appends[ch], msgs...)
	return u
}

// IsZero reports whether the update changes nothing.
func (u *Update) IsZero() bool {
	if u == nil {
		return true
	}
	return u.FlowStage == nil && u.CustomerID == nil && u.RequestedAmount == nil &&
		u.PreferredTenureMonths == nil && u.MaxInterestRate == nil &&
		u.CustomerInfo == nil && u.NegotiatedOffer == nil && !u.ClearNegotiatedOffer &&
		u.KYCStatus == nil && u.KYCResult == nil && u.CreditScore == nil &&
		u.SalarySlipResource == nil && u.UnderwritingInput == nil &&
		u.UnderwritingResult == nil && u.UnderwritingStatus == nil &&
		u.SanctionLetterResource == nil && u.SanctionLetterPath == nil &&
		u.SanctionLetterStatus == nil && u.NextWorker == nil && len(u.Appends) == 0
}

// Merge folds a later update into u. Scalars and maps from next win;
// channel appends concatenate in order.
func (u *Update) Merge(next *Update) {
	if next == nil {
		return
	}
	if next.FlowStage != nil {
		u.FlowStage = next.FlowStage
	}
	if next.CustomerID != nil {
		u.CustomerID = next.CustomerID
	}
	if next.RequestedAmount != nil {
		u.RequestedAmount = next.RequestedAmount
	}
	if next.PreferredTenureMonths != nil {
		u.PreferredTenureMonths = next.PreferredTenureMonths
	}
	if next.MaxInterestRate != nil {
		u.MaxInterestRate = next.MaxInterestRate
	}
	if next.CustomerInfo != nil {
		u.CustomerInfo = next.CustomerInfo
	}
	if next.ClearNegotiatedOffer {
		u.ClearNegotiatedOffer = true
		u.NegotiatedOffer = nil
	}
	if next.NegotiatedOffer != nil {
		u.NegotiatedOffer = next.NegotiatedOffer
		u.ClearNegotiatedOffer = false
	}
	if next.KYCStatus != nil {
		u.KYCStatus = next.KYCStatus
	}
	if next.KYCResult != nil {
		u.KYCResult = next.KYCResult
	}
	if next.CreditScore != nil {
		u.CreditScore = next.CreditScore
	}
	if next.SalarySlipResource != nil {
		u.SalarySlipResource = next.SalarySlipResource
	}
	if next.UnderwritingInput != nil {
		u.UnderwritingInput = next.UnderwritingInput
	}
	if next.UnderwritingResult != nil {
		u.UnderwritingResult = next.UnderwritingResult
	}
	if next.UnderwritingStatus != nil {
		u.UnderwritingStatus = next.UnderwritingStatus
	}
	if next.SanctionLetterResource != nil {
		u.SanctionLetterResource = next.SanctionLetterResource
	}
	if next.SanctionLetterPath != nil {
		u.SanctionLetterPath = next.SanctionLetterPath
	}
	if next.SanctionLetterStatus != nil {
		u.SanctionLetterStatus = next.SanctionLetterStatus
	}
	if next.NextWorker != nil {
		u.NextWorker = next.NextWorker
	}
	for ch, msgs := range next.Appends {
		u.Append(ch, msgs...)
	}
}

// Apply writes the update into the session.
func (s *Session) Apply(u *Update) {
	if u == nil {
		return
	}
	if u.FlowStage != nil {
		s.FlowStage = *u.FlowStage
	}
	if u.CustomerID != nil {
		s.CustomerID = *u.CustomerID
	}
	if u.RequestedAmount != nil {
		v := *u.RequestedAmount
		s.RequestedAmount = &v
	}
	if u.PreferredTenureMonths != nil {
		v := *u.PreferredTenureMonths
		s.PreferredTenureMonths = &v
	}
	if u.MaxInterestRate != nil {
		v := *u.MaxInterestRate
		s.MaxInterestRate = &v
	}
	if u.CustomerInfo != nil {
		s.CustomerInfo = deepCopyAnyMap(u.CustomerInfo)
	}
	if u.ClearNegotiatedOffer {
		s.NegotiatedOffer = nil
	}
	if u.NegotiatedOffer != nil {
		v := *u.NegotiatedOffer
		s.NegotiatedOffer = &v
	}
	if u.KYCStatus != nil {
		s.KYCStatus = *u.KYCStatus
	}
	if u.KYCResult != nil {
		s.KYCResult = deepCopyAnyMap(u.KYCResult)
	}
	if u.CreditScore != nil {
		v := *u.CreditScore
		s.CreditScore = &v
	}
	if u.SalarySlipResource != nil {
		s.SalarySlipResource = *u.SalarySlipResource
	}
	if u.UnderwritingInput != nil {
		s.UnderwritingInput = deepCopyAnyMap(u.UnderwritingInput)
	}
	if u.UnderwritingResult != nil {
		s.UnderwritingResult = deepCopyAnyMap(u.UnderwritingResult)
	}
	if u.UnderwritingStatus != nil {
		s.UnderwritingStatus = *u.UnderwritingStatus
	}
	if u.SanctionLetterResource != nil {
		s.SanctionLetterResource = *u.SanctionLetterResource
	}
	if u.SanctionLetterPath != nil {
		s.SanctionLetterPath = *u.SanctionLetterPath
	}
	if u.SanctionLetterStatus != nil {
		s.SanctionLetterStatus = *u.SanctionLetterStatus
	}
	if u.NextWorker != nil {
		s.NextWorker = *u.NextWorker
	}
	for ch, msgs := range u.Appends {
		s.appendChannel(ch, msgs)
	}
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) appendChannel(ch Channel, msgs []Message) {
	cloned := make([]Message, len(msgs))
	for i, m := range msgs {
		cloned[i] = m.Clone()
	}
	switch ch {
	case ChannelPublic:
		s.PublicTranscript = append(s.PublicTranscript, cloned...)
	case ChannelNegotiation:
		s.NegotiationMessages = append(s.NegotiationMessages, cloned...)
	case ChannelVerification:
		s.VerificationMessages = append(s.VerificationMessages, cloned...)
	case ChannelUnderwriting:
		s.UnderwritingMessages = append(s.UnderwritingMessages, cloned...)
	case ChannelSanction:
		s.SanctionMessages = append(s.SanctionMessages, cloned...)
	}
}

// Helpers for building pointer fields inline.

func Ptr[T any](v T) *T { return &v }
