// Package llm defines the completion-provider port and the HTTP clients
// for the local llama.cpp server and the paid remote API.
package llm

import (
	"context"
	"time"
)

// CompletionRequest is one inference request.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// CompletionResponse is the uniform result shape every provider returns.
// Provider failures surface as Success=false with Error set; the transport
// error is returned alongside so retry classification still works.
type CompletionResponse struct {
	Text         string
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Duration     time.Duration
	Success      bool
	Error        string
}

// Provider is the completion capability the router consumes.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Name() string
	Model() string
	// Available reports whether the provider can currently serve requests.
	Available(ctx context.Context) bool
}
