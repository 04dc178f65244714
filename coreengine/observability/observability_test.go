package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// METRICS TESTS
// =============================================================================

func TestRecordGraphRun(t *testing.T) {
	tests := []struct {
		name       string
		graph      string
		status     string
		durationMS int
	}{
		{"success run", "master", "success", 1000},
		{"error run", "master", "error", 500},
		{"step limit run", "negotiation", "step_limit", 2000},
		{"zero duration", "fast-graph", "success", 0},
		{"long duration", "slow-graph", "success", 60000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordGraphRun(tt.graph, tt.status, tt.durationMS)

			count := testutil.ToFloat64(graphRunsTotal.WithLabelValues(tt.graph, tt.status))
			assert.Greater(t, count, 0.0)
		})
	}
}

func TestRecordNodeExecution(t *testing.T) {
	tests := []struct {
		name       string
		graph      string
		node       string
		status     string
		durationMS int
	}{
		{"successful node", "master", "route", "success", 100},
		{"failed node", "verification", "execute_tools", "error", 50},
		{"slow node", "underwriting", "decide", "success", 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordNodeExecution(tt.graph, tt.node, tt.status, tt.durationMS)

			count := testutil.ToFloat64(nodeExecutionsTotal.WithLabelValues(tt.graph, tt.node, tt.status))
			assert.Greater(t, count, 0.0)
		})
	}
}

func TestRecordOracleCall(t *testing.T) {
	tests := []struct {
		name       string
		worker     string
		status     string
		durationMS int
	}{
		{"master decision", "master", "success", 2000},
		{"negotiation decision", "sales", "success", 1500},
		{"failed decision", "underwriting", "error", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordOracleCall(tt.worker, tt.status, tt.durationMS)

			count := testutil.ToFloat64(oracleCallsTotal.WithLabelValues(tt.worker, tt.status))
			assert.Greater(t, count, 0.0)
		})
	}
}

func TestRecordToolInvocation(t *testing.T) {
	tests := []struct {
		name       string
		tool       string
		status     string
		durationMS int
	}{
		{"customer lookup", "fetch_customer_info", "success", 10},
		{"timed out tool", "generate_sanction_letter", "timeout", 30000},
		{"unknown tool", "frobnicate", "not_found", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordToolInvocation(tt.tool, tt.status, tt.durationMS)

			count := testutil.ToFloat64(toolInvocationsTotal.WithLabelValues(tt.tool, tt.status))
			assert.Greater(t, count, 0.0)
		})
	}
}

func TestRecordSessionTurn(t *testing.T) {
	RecordSessionTurn("success")
	RecordSessionTurn("turn_limit")

	assert.Greater(t, testutil.ToFloat64(sessionTurnsTotal.WithLabelValues("success")), 0.0)
	assert.Greater(t, testutil.ToFloat64(sessionTurnsTotal.WithLabelValues("turn_limit")), 0.0)
}

func TestSetActiveSessions(t *testing.T) {
	SetActiveSessions(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(activeSessions))

	SetActiveSessions(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(activeSessions))
}

func TestMetrics_Concurrent(t *testing.T) {
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				RecordGraphRun("concurrent-graph", "success", 10)
				RecordToolInvocation("concurrent-tool", "success", 1)
			}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	count := testutil.ToFloat64(graphRunsTotal.WithLabelValues("concurrent-graph", "success"))
	assert.Equal(t, 1000.0, count)
}

func TestMetrics_DifferentLabels(t *testing.T) {
	labels := []string{
		"simple",
		"with-dashes",
		"with_underscores",
		"MixedCase",
	}

	for _, label := range labels {
		RecordGraphRun(label, "success", 100)
		count := testutil.ToFloat64(graphRunsTotal.WithLabelValues(label, "success"))
		assert.Greater(t, count, 0.0, "Failed for label: %s", label)
	}
}

func TestMetrics_EndToEnd(t *testing.T) {
	// Simulate one complete conversation turn with all metrics.
	RecordGraphRun("master", "success", 5000)
	RecordNodeExecution("master", "route", "success", 500)
	RecordNodeExecution("master", "sales", "success", 3000)
	RecordOracleCall("master", "success", 2000)
	RecordOracleCall("sales", "success", 1500)
	RecordToolInvocation("fetch_customer_info", "success", 12)
	RecordSessionTurn("success")

	assert.Greater(t, testutil.ToFloat64(graphRunsTotal.WithLabelValues("master", "success")), 0.0)
	assert.Greater(t, testutil.ToFloat64(nodeExecutionsTotal.WithLabelValues("master", "sales", "success")), 0.0)
	assert.Greater(t, testutil.ToFloat64(oracleCallsTotal.WithLabelValues("sales", "success")), 0.0)
	assert.Greater(t, testutil.ToFloat64(toolInvocationsTotal.WithLabelValues("fetch_customer_info", "success")), 0.0)
}

func TestMetrics_Registries(t *testing.T) {
	// Our metrics register with the default registry via promauto; this is
	// a smoke test that custom registries coexist with them.
	reg := prometheus.NewRegistry()
	assert.NotNil(t, reg)
}

// =============================================================================
// TRACING TESTS
// =============================================================================

func TestInitTracer_ServiceName(t *testing.T) {
	// The exporter connects lazily, so init succeeds even without a
	// collector listening.
	shutdown, err := InitTracer("loanflow-test", "localhost:4317")
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
