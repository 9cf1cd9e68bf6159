// Package oracle provides the reasoning oracle client. A completion is
// issued with a set of declared tool schemas; the oracle either calls
// exactly one tool with typed arguments or answers in free text. Both
// outcomes are valid and every call site must handle both.
package oracle

import "context"

// ToolDefinition declares one callable function to the oracle.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a structured decision returned by the oracle.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Decision is the outcome of one completion: either a tool call or free
// text, never both. A zero Decision (no call, empty text) can occur when
// the provider returns an empty message and is treated as free text.
type Decision struct {
	Call *ToolCall
	Text string
}

// IsCall reports whether the oracle produced a structured tool call.
func (d Decision) IsCall() bool {
	return d.Call != nil
}

// Provider is the reasoning oracle contract.
type Provider interface {
	// Complete issues one completion. tools may be nil for plain text
	// generation.
	Complete(ctx context.Context, systemPrompt, userPrompt string, tools []ToolDefinition) (Decision, error)

	ModelName() string

	Close() error
}
