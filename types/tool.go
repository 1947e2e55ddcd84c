package types

import "time"

// ToolResult represents the result of a tool execution. A failed tool call
// is surfaced as Success=false with the error text in Content; it is never
// propagated as a Go error out of the invocation boundary.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Name       string        `json:"name"`
	Content    string        `json:"content"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// ToMessage converts ToolResult to a tool-role message for the log.
func (tr ToolResult) ToMessage() Message {
	return NewToolMessage(tr.ToolCallID, tr.Name, tr.Content)
}

// IsError returns true if the tool execution failed.
func (tr ToolResult) IsError() bool {
	return !tr.Success
}
