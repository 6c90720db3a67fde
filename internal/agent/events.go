// Package agent defines the Agent subprocess boundary: the interface the
// Phase Executor consumes, and a ClaudeAgent implementation that spawns the
// agent CLI and parses its streaming JSON-lines output. Grounded directly
// on the teacher's cmd/ao/stream_events.go (StreamEvent, EventType*
// constants) and cmd/ao/stream_parser.go (the buffered line reader and
// event-to-progress state machine) — the wire format (Claude Code's
// --output-format stream-json) is unchanged between the teacher's use case
// and this one.
package agent

import "encoding/json"

// Event type constants for the agent's streaming JSON output.
const (
	EventTypeSystem    = "system"
	EventTypeAssistant = "assistant"
	EventTypeUser      = "user"
	EventTypeResult    = "result"
)

// Result subtypes, per spec.md §6.
const (
	ResultSuccess              = "success"
	ResultErrorMaxTurns        = "error_max_turns"
	ResultErrorDuringExecution = "error_during_execution"
	ResultErrorMaxBudgetUSD    = "error_max_budget_usd"
)

// InitSubtype is the subtype of the system message carrying a session_id.
const InitSubtype = "init"

// StreamEvent is the top-level envelope for every JSON line emitted by the
// agent subprocess. The Type field determines which payload fields are
// populated.
type StreamEvent struct {
	// Type is one of the EventType* constants.
	Type string `json:"type"`

	// Subtype further classifies within a type: "init" for system events,
	// one of the Result* constants for result events.
	Subtype string `json:"subtype,omitempty"`

	// SessionID is the session identifier (present on system/init events).
	SessionID string `json:"session_id,omitempty"`

	// Model is the model identifier (present on system/init events).
	Model string `json:"model,omitempty"`

	// Message holds the accumulated text content for assistant and result
	// events.
	Message string `json:"message,omitempty"`

	// ToolName is the tool being invoked, for assistant tool-use events.
	ToolName string `json:"tool_name,omitempty"`

	// ToolInput holds the raw JSON input for a tool call.
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// CostUSD is the cumulative cost reported in result events.
	CostUSD float64 `json:"cost_usd,omitempty"`

	// DurationMS is the total duration reported in result events.
	DurationMS float64 `json:"duration_ms,omitempty"`

	// IsError indicates whether a result event represents a failure.
	IsError bool `json:"is_error,omitempty"`

	// Errors carries free-form error strings on a failing result event.
	Errors []string `json:"errors,omitempty"`

	// NumTurns is the number of conversation turns in a result event.
	NumTurns int `json:"num_turns,omitempty"`
}

// ParseStreamEvent unmarshals a single JSON line into a StreamEvent.
// Unknown fields are silently ignored (permissive parsing, matching the
// teacher's ParseStreamEvent).
func ParseStreamEvent(data []byte) (StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return StreamEvent{}, err
	}
	return ev, nil
}
