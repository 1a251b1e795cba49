// Package session holds the conversation model shared by the completion
// backends and the agent loop.
package session

// Role of a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model. ID is opaque and
// must be echoed back on the matching tool message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON object
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Assistant messages only.
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Reasoning    string     `json:"reasoning,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`

	// Tool messages only.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// ToolResult returns the tool message answering the given call.
func ToolResult(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, ToolName: call.Name}
}

// History is the ordered, append-only message log of one agent run.
// It is owned by a single loop and is not safe for concurrent use.
type History struct {
	messages []Message
}

// Append adds messages to the end of the history.
func (h *History) Append(msgs ...Message) {
	h.messages = append(h.messages, msgs...)
}

// Messages returns a copy of the history so callers can't mutate it.
func (h *History) Messages() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages.
func (h *History) Len() int { return len(h.messages) }

// Last returns the final message, if any.
func (h *History) Last() (Message, bool) {
	if len(h.messages) == 0 {
		return Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}

// Reset discards every message.
func (h *History) Reset() { h.messages = nil }
