package state

// ===== MESSAGE MODEL =====

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRequest is a single tool invocation proposed by a decision oracle.
type ToolCallRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallResult is the parsed outcome of a tool invocation. Payload holds
// the decoded result body; Error carries the failure kind when the call
// did not succeed.
type ToolCallResult struct {
	Tool    string         `json:"tool"`
	Payload map[string]any `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Message is one entry in a conversation channel. Tool messages carry the
// raw serialized tool output in Content and name the tool in Name.
// Assistant messages may carry pending ToolCalls; such a message requests
// tool execution before the conversation can continue.
type Message struct {
	Role      Role              `json:"role"`
	Name      string            `json:"name,omitempty"`
	Content   string            `json:"content"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
}

// UserMessage builds a user-authored message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message attributed to the named
// speaker (the master orchestrator or a worker).
func AssistantMessage(name, content string) Message {
	return Message{Role: RoleAssistant, Name: name, Content: content}
}

// ToolMessage builds a tool-result message for the named tool.
func ToolMessage(tool, content string) Message {
	return Message{Role: RoleTool, Name: tool, Content: content}
}

// HasToolCalls reports whether the message requests tool execution.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCallRequest, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = ToolCallRequest{Tool: tc.Tool, Arguments: deepCopyAnyMap(tc.Arguments)}
		}
	}
	return out
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
