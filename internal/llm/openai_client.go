package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"archi/internal/config"
	archierrors "archi/internal/errors"
	"archi/internal/jsonx"
	"archi/internal/logging"
)

// openAIClient speaks the OpenAI-compatible chat completions API. Both the
// remote provider and the local llama.cpp server use this wire format.
type openAIClient struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  logging.Logger
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(name string, cfg config.ProviderConfig, timeout time.Duration) Provider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &openAIClient{
		name:    name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
		logger:  logging.NewLLMLogger(name),
	}
}

// NewLlamaCppClient creates a client for the local llama.cpp server. It is
// the same OpenAI-compatible transport with provider name "local" and no
// API key.
func NewLlamaCppClient(cfg config.ProviderConfig, timeout time.Duration) Provider {
	cfg.APIKey = ""
	return NewOpenAIClient("local", cfg, timeout)
}

func (c *openAIClient) Name() string  { return c.name }
func (c *openAIClient) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete issues one chat completion. Transport and HTTP-level failures
// return (response with Success=false, classified error) so the retry
// wrapper can decide whether to try again.
func (c *openAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	fail := func(err error) (*CompletionResponse, error) {
		return &CompletionResponse{
			Model:    c.model,
			Provider: c.name,
			Duration: time.Since(start),
			Success:  false,
			Error:    err.Error(),
		}, err
	}

	body, err := jsonx.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	})
	if err != nil {
		return fail(archierrors.NewPermanentError(err, "request marshal failed"))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fail(archierrors.NewPermanentError(err, "request build failed"))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fail(err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("%s returned status %d: %s", c.name, resp.StatusCode, truncate(string(data), 300))
		if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > 0 {
			return fail(&archierrors.TransientError{Err: apiErr, StatusCode: resp.StatusCode, RetryAfter: retryAfter})
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fail(&archierrors.TransientError{Err: apiErr, StatusCode: resp.StatusCode})
		}
		return fail(&archierrors.PermanentError{Err: apiErr, StatusCode: resp.StatusCode})
	}

	var parsed chatResponse
	if err := jsonx.Unmarshal(data, &parsed); err != nil {
		return fail(archierrors.NewTransientError(err, "response parse failed"))
	}
	if parsed.Error != nil {
		return fail(archierrors.NewPermanentError(fmt.Errorf("%s", parsed.Error.Message), parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return fail(archierrors.NewTransientError(fmt.Errorf("empty choices"), "provider returned no choices"))
	}

	out := &CompletionResponse{
		Text:         parsed.Choices[0].Message.Content,
		Model:        c.model,
		Provider:     c.name,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		Duration:     time.Since(start),
		Success:      true,
	}
	c.logger.Debug("%s completion: %d in / %d out tokens in %v", c.name, out.InputTokens, out.OutputTokens, out.Duration)
	return out, nil
}

// Available probes the models endpoint with a short deadline.
func (c *openAIClient) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 500
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return secs
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
