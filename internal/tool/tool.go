// Package tool implements the Tool Registry & Dispatcher (§4.2): tool
// registration, confirmation policy, and concurrent execution with shared
// cancellation.
package tool

import (
	"context"
	"encoding/json"
)

// Tool is a single callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON Schema (draft 2020-12) describing the tool's
	// input, generated via invopop/jsonschema and closed with
	// additionalProperties:false so every dialect's strict mode accepts it.
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Result is a tool's outcome before it is wrapped into a models.ToolResult
// tool message.
type Result struct {
	Content string
	IsError bool
}
