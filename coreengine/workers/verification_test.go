package workers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbfc-labs/loanflow/coreengine/oracle"
	"github.com/nbfc-labs/loanflow/coreengine/state"
	"github.com/nbfc-labs/loanflow/coreengine/testutil"
)

func TestFinalizeVerification(t *testing.T) {
	toolMsg := func(content string) state.Message {
		return state.ToolMessage("verify_kyc", content)
	}

	tests := []struct {
		name    string
		msgs    []state.Message
		failure string
		want    state.KYCStatus
	}{
		{
			name: "both checks pass",
			msgs: []state.Message{toolMsg(`{"status":"ok","result":{"phone_verified":true,"address_verified":true}}`)},
			want: state.KYCVerified,
		},
		{
			name: "phone mismatch stays pending",
			msgs: []state.Message{toolMsg(`{"status":"ok","result":{"phone_verified":false,"address_verified":true}}`)},
			want: state.KYCPending,
		},
		{
			name: "address mismatch stays pending",
			msgs: []state.Message{toolMsg(`{"status":"ok","result":{"phone_verified":true,"address_verified":false}}`)},
			want: state.KYCPending,
		},
		{
			name: "both checks fail",
			msgs: []state.Message{toolMsg(`{"status":"ok","result":{"phone_verified":false,"address_verified":false}}`)},
			want: state.KYCFailed,
		},
		{
			name: "tool error fails",
			msgs: []state.Message{toolMsg(`{"status":"error","kind":"not_found","error":"no such customer"}`)},
			want: state.KYCFailed,
		},
		{
			name: "no tool result fails",
			msgs: nil,
			want: state.KYCFailed,
		},
		{
			name:    "loop failure fails",
			msgs:    []state.Message{toolMsg(`{"status":"ok","result":{"phone_verified":true,"address_verified":true}}`)},
			failure: failureOracle,
			want:    state.KYCFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testutil.NewTestSession("CUST001", 0)
			s.VerificationMessages = tt.msgs

			u := finalizeVerification(s, tt.failure)
			require.NotNil(t, u.KYCStatus)
			assert.Equal(t, tt.want, *u.KYCStatus)
			assert.NotNil(t, u.KYCResult)
			// The public transcript always gets a single outcome line.
			require.Len(t, u.Appends[state.ChannelPublic], 1)
			assert.Contains(t, u.Appends[state.ChannelPublic][0].Content, string(tt.want))
		})
	}
}

func TestVerificationWorkerEndToEnd(t *testing.T) {
	toolClient := testutil.NewMockToolClient().
		WithResult("verify_kyc", map[string]any{"phone_verified": true, "address_verified": true})

	g, err := NewVerification(loopDeps(scriptedOracle(), toolClient))
	require.NoError(t, err)

	s := testutil.NewTestSession("CUST001", 250000)
	s.CustomerInfo = map[string]any{"phone": "9810000001"}

	update, err := g.Run(context.Background(), s)
	require.NoError(t, err)
	s.Apply(update)

	assert.Equal(t, state.KYCVerified, s.KYCStatus)
	require.Len(t, toolClient.CallsFor("verify_kyc"), 1)
	assert.Equal(t, "9810000001", toolClient.CallsFor("verify_kyc")[0].Params["phone"])
	assert.Contains(t, s.LastAssistantReply(), "verified")
}

// scriptedOracle wires the deterministic policy as the decision oracle.
func scriptedOracle() *testutil.MockOracle {
	policy := oracle.NewScriptedPolicy()
	mock := testutil.NewMockOracle()
	mock.DecideFunc = policy.Decide
	return mock
}
