package workers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nbfc-labs/loanflow/coreengine/graph"
	"github.com/nbfc-labs/loanflow/coreengine/observability"
	"github.com/nbfc-labs/loanflow/coreengine/oracle"
	"github.com/nbfc-labs/loanflow/coreengine/state"
	"github.com/nbfc-labs/loanflow/coreengine/tools"
	"github.com/nbfc-labs/loanflow/eventbus"
)

// Failure kinds a loop can end with. Empty string means a clean finish.
const (
	failureOracle    = "oracle_unavailable"
	failureLoopBound = "loop_bound_exceeded"
)

// oracleFailureMarker prefixes the assistant message recorded when the
// decision oracle could not be reached. classifyFailure keys off it.
const oracleFailureMarker = "[decision unavailable] "

// loopSpec describes one tool-calling worker: the oracle proposes tool
// calls, the loop executes them and feeds results back, and finalize
// turns the scratchpad into typed state once the oracle stops calling
// tools or the round bound is hit.
type loopSpec struct {
	worker  string
	channel state.Channel

	// instruction builds the task instruction from the working state.
	instruction func(s *state.Session) string

	// prepare optionally runs before the loop (e.g. fetching a credit
	// score). Its update is applied before the first oracle decision.
	prepare graph.NodeFunc

	// finalize converts the loop outcome into a state update. failure is
	// one of the failure kinds above, or "".
	finalize func(s *state.Session, failure string) *state.Update
}

// buildToolLoop compiles the decide/execute/finalize loop for a spec.
func buildToolLoop(spec loopSpec, d Deps) (*graph.CompiledGraph, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	maxRounds := d.maxToolRounds()

	b := graph.New(spec.worker).
		WithLogger(d.Logger).
		WithMaxSteps(2*maxRounds + 4)

	b.AddNode("begin", spec.beginNode(d))
	b.AddNode("decide", spec.decideNode(d))
	b.AddNode("execute_tools", spec.executeNode(d))
	b.AddNode("finalize", spec.finalizeNode(d))

	if spec.prepare != nil {
		b.AddNode("prepare", spec.prepare)
		b.AddEdge(graph.Start, "prepare")
		b.AddEdge("prepare", "begin")
	} else {
		b.AddEdge(graph.Start, "begin")
	}
	b.AddEdge("begin", "decide")
	b.AddConditionalEdges("decide", spec.router(maxRounds), map[string]string{
		"execute_tools": "execute_tools",
		"finalize":      "finalize",
	})
	b.AddEdge("execute_tools", "decide")
	b.AddEdge("finalize", graph.End)

	return b.Compile()
}

// beginNode opens a task: it announces the worker and appends the task
// instruction to the scratchpad as a user message.
func (spec loopSpec) beginNode(d Deps) graph.NodeFunc {
	return func(ctx context.Context, s *state.Session) (*state.Update, error) {
		d.publish(ctx, &eventbus.WorkerStarted{Worker: spec.worker, SessionID: s.SessionID})
		u := &state.Update{}
		u.Append(spec.channel, state.UserMessage(spec.instruction(s)))
		return u, nil
	}
}

// decideNode asks the oracle for the next scratchpad message.
func (spec loopSpec) decideNode(d Deps) graph.NodeFunc {
	return func(ctx context.Context, s *state.Session) (*state.Update, error) {
		instruction := spec.instruction(s)
		started := time.Now()
		msg, err := d.Decide(ctx, s.Scratchpad(spec.channel), instruction)
		durMS := int(time.Since(started).Milliseconds())

		u := &state.Update{}
		if err != nil {
			observability.RecordOracleCall(spec.worker, "error", durMS)
			d.warn("oracle_decision_failed", "worker", spec.worker, "session_id", s.SessionID, "error", err.Error())
			u.Append(spec.channel, state.AssistantMessage(spec.worker, oracleFailureMarker+err.Error()))
			return u, nil
		}

		observability.RecordOracleCall(spec.worker, "success", durMS)
		if msg.Role == "" {
			msg.Role = state.RoleAssistant
		}
		if msg.Name == "" {
			msg.Name = spec.worker
		}
		u.Append(spec.channel, msg)
		return u, nil
	}
}

// router decides between another tool round and finalization. The round
// count is derived from the scratchpad, so a compiled loop stays
// reusable across sessions.
func (spec loopSpec) router(maxRounds int) graph.RouterFunc {
	return func(s *state.Session) string {
		msgs := s.Scratchpad(spec.channel)
		if len(msgs) == 0 {
			return "finalize"
		}
		last := msgs[len(msgs)-1]
		if !last.HasToolCalls() {
			return "finalize"
		}
		if roundsSinceTaskStart(msgs) > maxRounds {
			return "finalize"
		}
		return "execute_tools"
	}
}

// executeNode runs every tool call from the newest scratchpad message and
// appends one tool message per call. Tool failures become error payloads
// in the scratchpad rather than aborting the loop.
func (spec loopSpec) executeNode(d Deps) graph.NodeFunc {
	return func(ctx context.Context, s *state.Session) (*state.Update, error) {
		last := s.LastMessage(spec.channel)
		if last == nil || !last.HasToolCalls() {
			return nil, nil
		}

		u := &state.Update{}
		for _, call := range last.ToolCalls {
			result, err := d.Tools.Invoke(ctx, call.Tool, call.Arguments)

			var content string
			status := "success"
			if err != nil {
				status = tools.Kind(err)
				content = encodeToolError(err)
				d.warn("worker_tool_failed", "worker", spec.worker, "tool", call.Tool, "error", err.Error())
			} else {
				content = encodeToolResult(result)
				d.debug("worker_tool_completed", "worker", spec.worker, "tool", call.Tool)
			}

			u.Append(spec.channel, state.ToolMessage(call.Tool, content))
			d.publish(ctx, &eventbus.ToolInvoked{
				Tool:      call.Tool,
				Worker:    spec.worker,
				SessionID: s.SessionID,
				Status:    status,
			})
		}
		return u, nil
	}
}

// finalizeNode hands off to the worker's finalize hook with the detected failure
// kind and reports completion on the bus.
func (spec loopSpec) finalizeNode(d Deps) graph.NodeFunc {
	return func(ctx context.Context, s *state.Session) (*state.Update, error) {
		failure := classifyFailure(s.Scratchpad(spec.channel))
		if failure != "" {
			d.warn("worker_degraded", "worker", spec.worker, "session_id", s.SessionID, "failure", failure)
		}

		u := spec.finalize(s, failure)

		status := "success"
		if failure != "" {
			status = "failed"
		}
		d.publish(ctx, &eventbus.WorkerCompleted{
			Worker:    spec.worker,
			SessionID: s.SessionID,
			Status:    status,
			Detail:    failure,
		})
		return u, nil
	}
}

// ===== SCRATCHPAD INSPECTION =====

// roundsSinceTaskStart counts tool-requesting assistant messages since
// the last user (task instruction) message.
func roundsSinceTaskStart(msgs []state.Message) int {
	rounds := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == state.RoleUser {
			break
		}
		if msgs[i].Role == state.RoleAssistant && msgs[i].HasToolCalls() {
			rounds++
		}
	}
	return rounds
}

// classifyFailure inspects the scratchpad tail for a degraded ending:
// pending tool calls mean the round bound was hit, the oracle failure
// marker means the oracle was unreachable.
func classifyFailure(msgs []state.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == state.RoleUser {
			return ""
		}
		if m.Role != state.RoleAssistant {
			continue
		}
		if m.HasToolCalls() {
			return failureLoopBound
		}
		if strings.HasPrefix(m.Content, oracleFailureMarker) {
			return failureOracle
		}
		return ""
	}
	return ""
}

// latestToolResult returns the newest parsed result for the named tool
// since the task started, or nil. An empty tool name matches any tool.
func latestToolResult(msgs []state.Message, tool string) *state.ToolCallResult {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == state.RoleUser {
			return nil
		}
		if m.Role != state.RoleTool {
			continue
		}
		if tool != "" && m.Name != tool {
			continue
		}
		res := parseToolMessage(m)
		return &res
	}
	return nil
}

// latestToolArguments returns the arguments of the newest request for the
// named tool since the task started, or nil.
func latestToolArguments(msgs []state.Message, tool string) map[string]any {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == state.RoleUser {
			return nil
		}
		for _, call := range m.ToolCalls {
			if call.Tool == tool {
				return call.Arguments
			}
		}
	}
	return nil
}

// parseToolMessage decodes a tool message body. Undecodable content is
// preserved under "raw" and flagged as a malformed result.
func parseToolMessage(m state.Message) state.ToolCallResult {
	res := state.ToolCallResult{Tool: m.Name}
	obj, err := oracle.ExtractJSON(m.Content)
	if err != nil {
		res.Payload = map[string]any{"raw": m.Content}
		res.Error = "malformed_result"
		return res
	}
	if status, _ := obj["status"].(string); status == "ok" {
		if inner, ok := obj["result"].(map[string]any); ok {
			res.Payload = inner
		} else {
			res.Payload = obj
		}
		return res
	}
	if msg, ok := obj["error"].(string); ok && msg != "" {
		res.Error = msg
	} else {
		res.Error = "error"
	}
	if kind, ok := obj["kind"].(string); ok && kind != "" {
		res.Error = kind
	}
	res.Payload = obj
	return res
}

func encodeToolResult(result map[string]any) string {
	data, err := json.Marshal(map[string]any{"status": "ok", "result": result})
	if err != nil {
		return `{"status":"error","error":"unencodable result"}`
	}
	return string(data)
}

func encodeToolError(err error) string {
	data, encErr := json.Marshal(map[string]any{
		"status": "error",
		"kind":   tools.Kind(err),
		"error":  err.Error(),
	})
	if encErr != nil {
		return `{"status":"error","error":"unencodable error"}`
	}
	return string(data)
}
