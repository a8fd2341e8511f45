package llm

import (
	"context"
	"time"

	archierrors "archi/internal/errors"
	"archi/internal/logging"
)

// retryClient wraps a Provider with retry logic and a circuit breaker.
// Only the remote provider is wrapped; the local model either answers or
// it does not, and hammering a loaded GGUF server helps nobody.
type retryClient struct {
	underlying     Provider
	retryConfig    archierrors.RetryConfig
	circuitBreaker *archierrors.CircuitBreaker
	logger         logging.Logger
}

// NewRetryClient wraps a provider with retry and circuit breaker logic.
func NewRetryClient(p Provider, retryConfig archierrors.RetryConfig, breaker *archierrors.CircuitBreaker) Provider {
	if breaker == nil {
		breaker = archierrors.NewCircuitBreaker(p.Name(), archierrors.DefaultCircuitBreakerConfig())
	}
	return &retryClient{
		underlying:     p,
		retryConfig:    retryConfig,
		circuitBreaker: breaker,
		logger:         logging.NewLLMLogger("retry"),
	}
}

func (c *retryClient) Name() string  { return c.underlying.Name() }
func (c *retryClient) Model() string { return c.underlying.Model() }

func (c *retryClient) Available(ctx context.Context) bool {
	if c.circuitBreaker != nil && c.circuitBreaker.State() == archierrors.StateOpen {
		return false
	}
	return c.underlying.Available(ctx)
}

func (c *retryClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := archierrors.RetryWithResultAndLog(ctx, c.retryConfig, func(ctx context.Context) (*CompletionResponse, error) {
		return archierrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (*CompletionResponse, error) {
			inner, innerErr := c.underlying.Complete(ctx, req)
			if innerErr != nil {
				return inner, innerErr
			}
			return inner, nil
		})
	}, c.logger)

	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("%s request failed after retries (took %v): %v", c.Name(), duration, err)
		if resp == nil {
			resp = &CompletionResponse{
				Model:    c.Model(),
				Provider: c.Name(),
				Duration: duration,
				Success:  false,
				Error:    err.Error(),
			}
		}
		return resp, err
	}
	return resp, nil
}
