package agent

import "github.com/54b3r/kbai-go/internal/tools"

// Role tags a conversation turn.
type Role string

const (
	// RoleUser marks a message written by the employee.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the assistant.
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation as the caller stores it. The last
// message passed to Execute is the new prompt; the rest are history.
type Message struct {
	// Role is either RoleUser or RoleAssistant.
	Role Role `json:"role"`
	// Content is the plain text of the turn.
	Content string `json:"content"`
}

// ToolCall records one tool invocation made during a turn.
type ToolCall struct {
	// Name is the tool the model called.
	Name string `json:"name"`
	// Args holds the decoded JSON arguments, or an empty object when the
	// model sent something that is not a JSON object.
	Args map[string]any `json:"args"`
	// Result is the tool output, truncated to maxRecordedResult characters.
	Result string `json:"result"`
}

// Result is the outcome of a single chat turn.
type Result struct {
	// Answer is the final assistant text.
	Answer string `json:"answer"`
	// ToolCalls lists every tool invocation in the order it ran.
	ToolCalls []ToolCall `json:"tool_calls"`
	// Sources are the citations parsed from knowledge-base search results.
	Sources []tools.Source `json:"sources"`
	// Model is the configured model or deployment name, when known.
	Model string `json:"model,omitempty"`
	// LatencyMS is the wall-clock duration of the turn.
	LatencyMS int64 `json:"latency_ms"`
}

// State names the phases of a turn. It is only used for logging.
type State string

const (
	StateValidating      State = "validating"
	StateAwaitingModel   State = "awaiting_model"
	StateToolLoop        State = "tool_loop"
	StateCompleted       State = "completed"
	StateRejected        State = "rejected"
	StateContentFiltered State = "content_filtered"
)
