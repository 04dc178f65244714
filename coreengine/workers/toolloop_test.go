package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbfc-labs/loanflow/coreengine/config"
	"github.com/nbfc-labs/loanflow/coreengine/state"
	"github.com/nbfc-labs/loanflow/coreengine/testutil"
)

func loopDeps(oracle *testutil.MockOracle, tools *testutil.MockToolClient) Deps {
	return Deps{
		Oracle: oracle,
		Tools:  tools,
		Logger: testutil.NewMockLogger(),
		Config: config.DefaultConfig(),
	}
}

// echoSpec is a minimal loop used to exercise the shared machinery.
func echoSpec() loopSpec {
	return loopSpec{
		worker:      "verification",
		channel:     state.ChannelVerification,
		instruction: func(*state.Session) string { return "Task: verify_kyc\nContext:\n{}" },
		finalize: func(s *state.Session, failure string) *state.Update {
			u := &state.Update{}
			u.Append(state.ChannelPublic, state.AssistantMessage("verification", "done failure="+failure))
			return u
		},
	}
}

// =============================================================================
// SCRATCHPAD INSPECTION
// =============================================================================

func TestRoundsSinceTaskStart(t *testing.T) {
	withCalls := state.AssistantMessage("w", "calling")
	withCalls.ToolCalls = []state.ToolCallRequest{{Tool: "t"}}

	msgs := []state.Message{
		state.UserMessage("old task"),
		withCalls,
		state.UserMessage("new task"),
		withCalls,
		state.ToolMessage("t", `{"status":"ok","result":{}}`),
		withCalls,
	}
	// Only the rounds after the newest user message count.
	assert.Equal(t, 2, roundsSinceTaskStart(msgs))
	assert.Equal(t, 0, roundsSinceTaskStart(nil))
}

func TestClassifyFailure(t *testing.T) {
	pending := state.AssistantMessage("w", "still going")
	pending.ToolCalls = []state.ToolCallRequest{{Tool: "t"}}

	tests := []struct {
		name string
		msgs []state.Message
		want string
	}{
		{"empty", nil, ""},
		{"clean finish", []state.Message{state.UserMessage("task"), state.AssistantMessage("w", "done")}, ""},
		{"pending tool calls", []state.Message{state.UserMessage("task"), pending}, failureLoopBound},
		{"oracle marker", []state.Message{
			state.UserMessage("task"),
			state.AssistantMessage("w", oracleFailureMarker+"connection refused"),
		}, failureOracle},
		{"tool message after clean assistant", []state.Message{
			state.UserMessage("task"),
			state.AssistantMessage("w", "done"),
			state.ToolMessage("t", "{}"),
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyFailure(tt.msgs))
		})
	}
}

func TestParseToolMessage(t *testing.T) {
	ok := parseToolMessage(state.ToolMessage("verify_kyc", `{"status":"ok","result":{"phone_verified":true}}`))
	assert.Empty(t, ok.Error)
	assert.Equal(t, true, ok.Payload["phone_verified"])

	failure := parseToolMessage(state.ToolMessage("verify_kyc", `{"status":"error","kind":"not_found","error":"no such customer"}`))
	assert.Equal(t, "not_found", failure.Error)

	malformed := parseToolMessage(state.ToolMessage("verify_kyc", "garbage }{"))
	assert.Equal(t, "malformed_result", malformed.Error)
	assert.Equal(t, "garbage }{", malformed.Payload["raw"])
}

func TestLatestToolResultStopsAtUserMessage(t *testing.T) {
	msgs := []state.Message{
		state.ToolMessage("verify_kyc", `{"status":"ok","result":{"stale":true}}`),
		state.UserMessage("new task"),
		state.ToolMessage("verify_kyc", `{"status":"ok","result":{"fresh":true}}`),
	}
	res := latestToolResult(msgs, "verify_kyc")
	require.NotNil(t, res)
	assert.Equal(t, true, res.Payload["fresh"])

	// Results older than the task boundary are invisible.
	assert.Nil(t, latestToolResult(msgs[:2], "verify_kyc"))
	assert.Nil(t, latestToolResult(msgs, "other_tool"))
}

func TestLatestToolArguments(t *testing.T) {
	call := state.AssistantMessage("w", "calling")
	call.ToolCalls = []state.ToolCallRequest{{Tool: "underwrite_loan", Arguments: map[string]any{"requested_amount": 400000}}}
	msgs := []state.Message{state.UserMessage("task"), call}

	args := latestToolArguments(msgs, "underwrite_loan")
	require.NotNil(t, args)
	assert.Equal(t, 400000, args["requested_amount"])
	assert.Nil(t, latestToolArguments(msgs, "other"))
}

func TestEncodeToolResultAndError(t *testing.T) {
	assert.JSONEq(t, `{"status":"ok","result":{"a":1}}`, encodeToolResult(map[string]any{"a": 1}))

	encoded := encodeToolError(errors.New("boom"))
	assert.Contains(t, encoded, `"status":"error"`)
	assert.Contains(t, encoded, "boom")
}

// =============================================================================
// LOOP EXECUTION
// =============================================================================

func TestLoopExecutesToolsThenFinalizes(t *testing.T) {
	toolClient := testutil.NewMockToolClient().
		WithResult("verify_kyc", map[string]any{"phone_verified": true, "address_verified": true})

	mock := testutil.NewMockOracle()
	mock.DecideFunc = func(_ context.Context, messages []state.Message, _ string) (state.Message, error) {
		// Request the tool once, then finish.
		if latestToolResult(messages, "verify_kyc") != nil {
			return state.AssistantMessage("verification", "all checks passed"), nil
		}
		msg := state.AssistantMessage("verification", "checking")
		msg.ToolCalls = []state.ToolCallRequest{{Tool: "verify_kyc", Arguments: map[string]any{"customer_id": "CUST001"}}}
		return msg, nil
	}

	g, err := buildToolLoop(echoSpec(), loopDeps(mock, toolClient))
	require.NoError(t, err)

	s := testutil.NewTestSession("CUST001", 0)
	update, err := g.Run(context.Background(), s)
	require.NoError(t, err)
	s.Apply(update)

	require.Len(t, toolClient.CallsFor("verify_kyc"), 1)
	assert.Equal(t, "done failure=", s.LastAssistantReply())

	// Scratchpad carries the full exchange: instruction, request, result, final.
	pad := s.Scratchpad(state.ChannelVerification)
	require.Len(t, pad, 4)
	assert.Equal(t, state.RoleUser, pad[0].Role)
	assert.True(t, pad[1].HasToolCalls())
	assert.Equal(t, state.RoleTool, pad[2].Role)
	assert.False(t, pad[3].HasToolCalls())
}

func TestLoopOracleFailureDegrades(t *testing.T) {
	mock := testutil.NewMockOracle().WithError(errors.New("oracle down"))

	g, err := buildToolLoop(echoSpec(), loopDeps(mock, testutil.NewMockToolClient()))
	require.NoError(t, err)

	s := testutil.NewTestSession("CUST001", 0)
	update, err := g.Run(context.Background(), s)
	require.NoError(t, err)
	s.Apply(update)

	assert.Equal(t, "done failure="+failureOracle, s.LastAssistantReply())
}

func TestLoopBoundExceeded(t *testing.T) {
	toolClient := testutil.NewMockToolClient().WithResult("spin", map[string]any{})

	// An oracle that never stops calling tools.
	mock := testutil.NewMockOracle()
	mock.DecideFunc = func(context.Context, []state.Message, string) (state.Message, error) {
		msg := state.AssistantMessage("verification", "again")
		msg.ToolCalls = []state.ToolCallRequest{{Tool: "spin"}}
		return msg, nil
	}

	cfg := config.DefaultConfig()
	cfg.MaxToolRounds = 2
	d := loopDeps(mock, toolClient)
	d.Config = cfg

	g, err := buildToolLoop(echoSpec(), d)
	require.NoError(t, err)

	s := testutil.NewTestSession("CUST001", 0)
	update, err := g.Run(context.Background(), s)
	require.NoError(t, err)
	s.Apply(update)

	assert.Equal(t, "done failure="+failureLoopBound, s.LastAssistantReply())
	assert.Len(t, toolClient.CallsFor("spin"), 2)
}

func TestLoopToolFailureFeedsErrorBack(t *testing.T) {
	toolClient := testutil.NewMockToolClient().WithError("verify_kyc", errors.New("backend down"))

	mock := testutil.NewMockOracle()
	mock.DecideFunc = func(_ context.Context, messages []state.Message, _ string) (state.Message, error) {
		if res := latestToolResult(messages, "verify_kyc"); res != nil {
			return state.AssistantMessage("verification", "tool said: "+res.Error), nil
		}
		msg := state.AssistantMessage("verification", "checking")
		msg.ToolCalls = []state.ToolCallRequest{{Tool: "verify_kyc"}}
		return msg, nil
	}

	g, err := buildToolLoop(echoSpec(), loopDeps(mock, toolClient))
	require.NoError(t, err)

	s := testutil.NewTestSession("CUST001", 0)
	update, err := g.Run(context.Background(), s)
	require.NoError(t, err)
	s.Apply(update)

	pad := s.Scratchpad(state.ChannelVerification)
	require.Len(t, pad, 4)
	assert.Contains(t, pad[3].Content, "tool said: error")
	// A tool failure is not a loop failure.
	assert.Equal(t, "done failure=", s.LastAssistantReply())
}

func TestBuildToolLoopValidatesDeps(t *testing.T) {
	_, err := buildToolLoop(echoSpec(), Deps{})
	assert.Error(t, err)
}

func TestDecideAppliesConfiguredTimeout(t *testing.T) {
	var deadline time.Time
	var hasDeadline bool
	mock := testutil.NewMockOracle()
	mock.DecideFunc = func(ctx context.Context, _ []state.Message, _ string) (state.Message, error) {
		deadline, hasDeadline = ctx.Deadline()
		return state.AssistantMessage("mock", "ok"), nil
	}

	cfg := config.DefaultConfig()
	cfg.OracleTimeout = 3
	d := Deps{Oracle: mock, Tools: testutil.NewMockToolClient(), Config: cfg}

	before := time.Now()
	_, err := d.Decide(context.Background(), nil, "anything")
	require.NoError(t, err)
	require.True(t, hasDeadline)
	assert.WithinDuration(t, before.Add(3*time.Second), deadline, time.Second)
}

func TestDecideCancelsSlowOracle(t *testing.T) {
	mock := testutil.NewMockOracle()
	mock.DecideFunc = func(ctx context.Context, _ []state.Message, _ string) (state.Message, error) {
		<-ctx.Done()
		return state.Message{}, ctx.Err()
	}

	cfg := config.DefaultConfig()
	cfg.OracleTimeout = 1
	d := Deps{Oracle: mock, Tools: testutil.NewMockToolClient(), Config: cfg}

	_, err := d.Decide(context.Background(), nil, "anything")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
