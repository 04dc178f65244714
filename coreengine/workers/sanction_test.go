package workers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbfc-labs/loanflow/coreengine/state"
	"github.com/nbfc-labs/loanflow/coreengine/testutil"
)

func TestSanctionIssuesLetterForApprovedApplication(t *testing.T) {
	toolClient := testutil.NewMockToolClient().WithResult("generate_sanction_letter", map[string]any{
		"resource": "resource://sanction_CUST001_x.pdf",
		"path":     "/tmp/storage/sanction_CUST001_x.pdf",
	})

	g, err := NewSanction(loopDeps(scriptedOracle(), toolClient))
	require.NoError(t, err)

	s := testutil.NewNegotiatedSession("CUST001", 250000, 10.5)
	s.UnderwritingStatus = state.UnderwritingApprove

	update, err := g.Run(context.Background(), s)
	require.NoError(t, err)
	s.Apply(update)

	assert.Equal(t, state.SanctionGenerated, s.SanctionLetterStatus)
	assert.Equal(t, "resource://sanction_CUST001_x.pdf", s.SanctionLetterResource)
	assert.NotEmpty(t, s.SanctionLetterPath)
	assert.Contains(t, s.LastAssistantReply(), "Sanction letter issued")

	calls := toolClient.CallsFor("generate_sanction_letter")
	require.Len(t, calls, 1)
	assert.Equal(t, 250000, calls[0].Params["amount"])
}

func TestSanctionRefusesUnapprovedApplication(t *testing.T) {
	toolClient := testutil.NewMockToolClient().WithResult("generate_sanction_letter", map[string]any{
		"resource": "resource://sanction_x.pdf",
		"path":     "/tmp/x.pdf",
	})

	g, err := NewSanction(loopDeps(scriptedOracle(), toolClient))
	require.NoError(t, err)

	s := testutil.NewNegotiatedSession("CUST001", 250000, 10.5)
	s.UnderwritingStatus = state.UnderwritingReject

	update, err := g.Run(context.Background(), s)
	require.NoError(t, err)
	s.Apply(update)

	// Not a single tool call is made for a rejected application.
	assert.Empty(t, toolClient.CallsFor("generate_sanction_letter"))
	assert.Equal(t, state.SanctionFailed, s.SanctionLetterStatus)
	assert.Contains(t, s.LastAssistantReply(), "cannot be issued")
}

func TestSanctionToolFailure(t *testing.T) {
	// The tool result is missing the path, which counts as a failure.
	toolClient := testutil.NewMockToolClient().WithResult("generate_sanction_letter", map[string]any{
		"resource": "resource://sanction_x.pdf",
	})

	g, err := NewSanction(loopDeps(scriptedOracle(), toolClient))
	require.NoError(t, err)

	s := testutil.NewNegotiatedSession("CUST001", 250000, 10.5)
	s.UnderwritingStatus = state.UnderwritingApprove

	update, err := g.Run(context.Background(), s)
	require.NoError(t, err)
	s.Apply(update)

	assert.Equal(t, state.SanctionFailed, s.SanctionLetterStatus)
	assert.Empty(t, s.SanctionLetterResource)
}
