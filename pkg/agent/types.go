package agent

import "encoding/json"

// Request is one turn sent to the conversational agent service
type Request struct {
	SessionID   string            `json:"session_id"`
	Transcript  string            `json:"transcript"`
	Context     map[string]string `json:"context,omitempty"`
	ToolResults []ToolResult      `json:"tool_results,omitempty"`
}

// ToolCall is one action the agent wants executed before it finishes the turn
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult reports one tool execution back to the agent
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

// Response is the agent's reply for one turn. A response with tool calls is
// intermediate; the orchestrator executes them and asks again.
type Response struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	EndCall   bool       `json:"end_call,omitempty"`
}
