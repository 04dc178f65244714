package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbfc-labs/loanflow/coreengine/state"
)

// =============================================================================
// JSON EXTRACTION
// =============================================================================

func TestExtractJSONDirect(t *testing.T) {
	obj, err := ExtractJSON(`{"a": 1}`)
	require.NoError(t, err)
	assert.Equal(t, float64(1), obj["a"])
}

func TestExtractJSONEmbedded(t *testing.T) {
	obj, err := ExtractJSON("Here is my decision:\n```json\n{\"next_worker\": \"sales\"}\n``` done")
	require.NoError(t, err)
	assert.Equal(t, "sales", obj["next_worker"])
}

func TestExtractJSONNested(t *testing.T) {
	obj, err := ExtractJSON(`prefix {"outer": {"inner": true}} suffix`)
	require.NoError(t, err)
	assert.Contains(t, obj, "outer")
}

func TestExtractJSONNoObject(t *testing.T) {
	_, err := ExtractJSON("just plain prose")
	assert.Error(t, err)
}

// =============================================================================
// ROUTE DECODING
// =============================================================================

func TestDecodeRoute(t *testing.T) {
	msg := state.AssistantMessage("master", `{"response_to_user": "hi", "next_worker": "verification"}`)
	rd, err := DecodeRoute(msg)
	require.NoError(t, err)
	assert.Equal(t, "hi", rd.ResponseToUser)
	assert.Equal(t, WorkerVerification, rd.NextWorker)
}

func TestDecodeRouteEmptyWorkerDefaultsToNone(t *testing.T) {
	msg := state.AssistantMessage("master", `{"response_to_user": "hi"}`)
	rd, err := DecodeRoute(msg)
	require.NoError(t, err)
	assert.Equal(t, WorkerNone, rd.NextWorker)
}

func TestDecodeRouteUnknownWorker(t *testing.T) {
	msg := state.AssistantMessage("master", `{"next_worker": "billing"}`)
	_, err := DecodeRoute(msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownWorker)
	assert.NotErrorIs(t, err, ErrBadDecision)
}

func TestDecodeRouteUndecodable(t *testing.T) {
	msg := state.AssistantMessage("master", "I cannot answer in the requested format.")
	_, err := DecodeRoute(msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadDecision)
}

func TestDecodeRouteExtractions(t *testing.T) {
	msg := state.AssistantMessage("master", `{
		"response_to_user": "noted",
		"next_worker": "none",
		"update_customer_id": "CUST005",
		"update_requested_amount": 250000,
		"update_max_interest": 11.0
	}`)
	rd, err := DecodeRoute(msg)
	require.NoError(t, err)
	require.NotNil(t, rd.UpdateCustomerID)
	assert.Equal(t, "CUST005", *rd.UpdateCustomerID)
	require.NotNil(t, rd.UpdateRequestedAmount)
	assert.Equal(t, 250000, *rd.UpdateRequestedAmount)
	require.NotNil(t, rd.UpdateMaxInterest)
	assert.Equal(t, 11.0, *rd.UpdateMaxInterest)
	assert.Nil(t, rd.UpdatePreferredTenure)
}

// =============================================================================
// OFFER DECODING
// =============================================================================

func TestDecodeOffer(t *testing.T) {
	msg := state.AssistantMessage("negotiation", `{
		"customer_id": "CUST001",
		"approved_amount": 250000,
		"tenure_months": 36,
		"interest_rate": 10.5
	}`)
	offer, err := DecodeOffer(msg)
	require.NoError(t, err)
	assert.Equal(t, 250000, offer.ApprovedAmount)
	assert.Equal(t, 10.5, offer.InterestRate)
}

func TestDecodeOfferRejectsIncomplete(t *testing.T) {
	msg := state.AssistantMessage("negotiation", `{"customer_id": "CUST001", "approved_amount": 250000}`)
	_, err := DecodeOffer(msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadDecision)
}
