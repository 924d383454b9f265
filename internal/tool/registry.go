package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func stringsReader(b json.RawMessage) io.Reader {
	return bytes.NewReader(b)
}

const (
	// MaxToolNameLength bounds a tool name before registry lookup, matching
	// the teacher's resource-exhaustion guard.
	MaxToolNameLength = 256
	// MaxArgsSize bounds a tool call's argument payload (10MB).
	MaxArgsSize = 10 << 20
)

// Registry is a thread-safe lookup of tools by name.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), schemas: make(map[string]*jsonschema.Schema)}
}

// Register adds or replaces a tool. Its advertised Schema() is compiled
// once up front so a malformed schema fails at registration time rather
// than on the first tool call; a tool whose schema fails to compile is
// still registered but runs without argument validation, matching the
// teacher's "best effort schema, never block execution on it" posture.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	delete(r.schemas, t.Name())

	compiler := jsonschema.NewCompiler()
	url := "mem://" + t.Name()
	if err := compiler.AddResource(url, stringsReader(t.Schema())); err == nil {
		if schema, err := compiler.Compile(url); err == nil {
			r.schemas[t.Name()] = schema
		}
	}
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools, for building the provider-facing tool
// schema list.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Execute looks up name and runs it, returning a structured error Result
// rather than a Go error for anything the caller should turn into a tool
// message (unknown tool, oversized input) instead of aborting the turn.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	if len(name) > MaxToolNameLength {
		return &Result{Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength), IsError: true}, nil
	}
	if len(args) > MaxArgsSize {
		return &Result{Content: fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxArgsSize), IsError: true}, nil
	}
	t, ok := r.Get(name)
	if !ok {
		return &Result{Content: "tool not found: " + name, IsError: true}, nil
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if schema, ok := r.schema(name); ok {
		var v any
		if err := json.Unmarshal(args, &v); err != nil {
			return &Result{Content: "tool arguments are not valid JSON: " + err.Error(), IsError: true}, nil
		}
		if err := schema.Validate(v); err != nil {
			return &Result{Content: "tool arguments failed schema validation: " + err.Error(), IsError: true}, nil
		}
	}
	return t.Execute(ctx, args)
}

func (r *Registry) schema(name string) (*jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}
