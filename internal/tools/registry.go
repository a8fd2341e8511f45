// Package tools defines the tool registry the plan executor and agent loop
// dispatch actions through, plus the builtin research and file tools.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result is the uniform action outcome. Fields carries action-specific
// payload (file contents, search hits, extracted text).
type Result struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Ok builds a successful result with the given payload fields.
func Ok(fields map[string]any) Result {
	return Result{Success: true, Fields: fields}
}

// Fail builds a failed result.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Tool executes one named action.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params map[string]any) Result
}

// Registry maps action names to tools. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool; duplicate names are an error.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already exists: %s", name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute dispatches an action. An unknown name is a failed result, not a
// panic; the planner may hallucinate tool names.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) Result {
	tool, ok := r.Get(name)
	if !ok {
		return Fail("unknown tool: %s", name)
	}
	return tool.Execute(ctx, params)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StringParam extracts a required string parameter.
func StringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	return s, nil
}
