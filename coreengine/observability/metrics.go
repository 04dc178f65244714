// Package observability provides Prometheus metrics instrumentation for the coreengine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// GRAPH METRICS
// =============================================================================

var (
	graphRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanflow_graph_runs_total",
			Help: "Total number of graph runs",
		},
		[]string{"graph", "status"}, // status: success, error, step_limit
	)

	graphDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loanflow_graph_duration_seconds",
			Help:    "Graph run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"graph"},
	)

	nodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanflow_node_executions_total",
			Help: "Total number of graph node executions",
		},
		[]string{"graph", "node", "status"}, // status: success, error
	)

	nodeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loanflow_node_duration_seconds",
			Help:    "Graph node execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"graph", "node"},
	)
)

// =============================================================================
// ORACLE METRICS
// =============================================================================

var (
	oracleCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanflow_oracle_calls_total",
			Help: "Total number of decision oracle calls",
		},
		[]string{"worker", "status"}, // status: success, error
	)

	oracleDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loanflow_oracle_duration_seconds",
			Help:    "Decision oracle call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"worker"},
	)
)

// =============================================================================
// TOOL METRICS
// =============================================================================

var (
	toolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanflow_tool_invocations_total",
			Help: "Total number of tool invocations",
		},
		[]string{"tool", "status"}, // status: success, error, timeout, not_found
	)

	toolDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loanflow_tool_duration_seconds",
			Help:    "Tool invocation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"tool"},
	)
)

// =============================================================================
// SESSION METRICS
// =============================================================================

var (
	sessionTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanflow_session_turns_total",
			Help: "Total conversation turns processed",
		},
		[]string{"status"}, // status: success, error, turn_limit
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loanflow_active_sessions",
			Help: "Number of sessions currently held in the store",
		},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordGraphRun records graph run metrics.
// This should be called after a graph run completes.
func RecordGraphRun(graph string, status string, durationMS int) {
	graphRunsTotal.WithLabelValues(graph, status).Inc()
	graphDurationSeconds.WithLabelValues(graph).Observe(float64(durationMS) / 1000.0)
}

// RecordNodeExecution records node execution metrics.
// This should be called after node execution completes.
func RecordNodeExecution(graph string, node string, status string, durationMS int) {
	nodeExecutionsTotal.WithLabelValues(graph, node, status).Inc()
	nodeDurationSeconds.WithLabelValues(graph, node).Observe(float64(durationMS) / 1000.0)
}

// RecordOracleCall records decision oracle call metrics.
// This should be called after oracle decision completes.
func RecordOracleCall(worker string, status string, durationMS int) {
	oracleCallsTotal.WithLabelValues(worker, status).Inc()
	oracleDurationSeconds.WithLabelValues(worker).Observe(float64(durationMS) / 1000.0)
}

// RecordToolInvocation records tool invocation metrics.
// This should be called after tool execution completes.
func RecordToolInvocation(tool string, status string, durationMS int) {
	toolInvocationsTotal.WithLabelValues(tool, status).Inc()
	toolDurationSeconds.WithLabelValues(tool).Observe(float64(durationMS) / 1000.0)
}

// RecordSessionTurn records the outcome of one conversation turn.
func RecordSessionTurn(status string) {
	sessionTurnsTotal.WithLabelValues(status).Inc()
}

// SetActiveSessions updates the active session gauge.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}
