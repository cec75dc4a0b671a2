// Package transcript reads session transcripts incrementally. A
// per-session cursor remembers the byte offset of the last complete
// line processed, so repeated invocations only ever see new events and
// a partially written trailing line is picked up on the next call.
package transcript

import "time"

// Role identifies the speaker of a transcript event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is a tool invocation observed inside an assistant event.
type ToolCall struct {
	// Name is the tool name (e.g. "Bash", "Edit").
	Name string `json:"name"`

	// Params holds the stringified invocation parameters.
	Params map[string]string `json:"params,omitempty"`

	// Result is the tool output when the transcript carried one.
	Result string `json:"result,omitempty"`
}

// Event is one structured transcript message.
type Event struct {
	// SessionID identifies the session; falls back to the transcript
	// file name when the line carries none.
	SessionID string `json:"session_id"`

	// EventID is the transcript line's UUID.
	EventID string `json:"event_id"`

	// ParentID links to the preceding event in the thread.
	ParentID string `json:"parent_id,omitempty"`

	// Timestamp is when the event was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Role is who produced the event.
	Role Role `json:"role"`

	// Text is the concatenated text content of the event.
	Text string `json:"text,omitempty"`

	// ToolCalls are the tool invocations the event carried.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// WorkDir is the working directory recorded on the line.
	WorkDir string `json:"work_dir,omitempty"`

	// GitBranch is the branch recorded on the line.
	GitBranch string `json:"git_branch,omitempty"`
}

// ParseError records one malformed transcript line.
type ParseError struct {
	Line  int
	Error string
}
