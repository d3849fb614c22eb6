// Package llm defines a protocol-neutral representation of tool-use
// conversations and the backends that speak concrete vendor wire formats.
package llm

import "context"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Stop reasons reported by a completed turn.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Property describes one JSON-schema property of a tool parameter.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Schema is the JSON-schema object describing a tool's parameters.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition declares one callable tool. Definitions are static for
// the process lifetime; backends translate them into their wire form.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      Schema
}

// ToolCall is a model-issued invocation of a declared tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult correlates an execution result back to its call.
type ToolResult struct {
	CallID  string
	Content string
}

// Message is one entry of the canonical conversation. The populated
// fields determine its kind: user or assistant text, an assistant turn
// carrying tool calls, or a batch of tool results.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Request is a single completion request against a backend.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// Turn is the model's reply: final text, tool calls in issue order, and
// the reported stop reason.
type Turn struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
}

// Backend completes conversations over one concrete wire protocol.
// Implementations are stateless with respect to conversations: all state
// travels in the Request.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Turn, error)
}

// UserMessage builds a plain user text message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// AssistantTurn converts a completed turn into a conversation message.
func AssistantTurn(turn *Turn) Message {
	return Message{Role: RoleAssistant, Text: turn.Text, ToolCalls: turn.ToolCalls}
}

// ToolResults bundles execution results into a conversation message.
func ToolResults(results []ToolResult) Message {
	return Message{Role: RoleTool, ToolResults: results}
}
