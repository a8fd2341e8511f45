// Package router decides, per request, whether the free local model or the
// paid remote API serves a completion. It consults the response cache
// before any provider and the budget ledger before any paid call.
package router

import (
	"context"
	"errors"
	"strings"
	"time"

	"archi/internal/budget"
	"archi/internal/config"
	"archi/internal/llm"
	"archi/internal/llm/cache"
	"archi/internal/logging"
	"archi/internal/metrics"
)

// ChatTurn is one prior exchange in the conversation history.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries a structured prompt plus routing flags. Complexity
// classification always runs on UserTurn, never on the scaffolding.
type Request struct {
	System   string
	History  []ChatTurn
	UserTurn string

	MaxTokens   int
	Temperature float64

	PreferLocal   bool // always try local first, keep any non-empty local answer
	ForceRemote   bool // skip local entirely
	SkipWebSearch bool // caller already injected search results
	UseReasoning  bool // complexity hint from the caller
}

// Result is the uniform routing outcome. Blocked and provider failures are
// reported here, not raised.
type Result struct {
	Text         string  `json:"text"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Confidence   float64 `json:"confidence,omitempty"`
	Complexity   string  `json:"complexity,omitempty"`
	Cached       bool    `json:"cached"`
	Blocked      bool    `json:"blocked"`
	Success      bool    `json:"success"`
	Error        string  `json:"error,omitempty"`

	elapsed time.Duration
}

// Router routes completion requests between providers.
type Router struct {
	local  llm.Provider // may be nil
	remote llm.Provider // may be nil
	cache  *cache.ResponseCache
	ledger *budget.Ledger

	confidenceThreshold float64
	shortQueryThreshold float64
	budgetWarnPct       float64
	defaultMaxTokens    int

	logger logging.Logger
}

// New creates a Router.
func New(local, remote llm.Provider, respCache *cache.ResponseCache, ledger *budget.Ledger, cfg config.RouterConfig, warnPct float64, logger logging.Logger) *Router {
	r := &Router{
		local:               local,
		remote:              remote,
		cache:               respCache,
		ledger:              ledger,
		confidenceThreshold: cfg.ConfidenceThreshold,
		shortQueryThreshold: cfg.ShortQueryThreshold,
		budgetWarnPct:       warnPct,
		defaultMaxTokens:    1024,
		logger:              logging.OrNop(logger),
	}
	if r.confidenceThreshold <= 0 {
		r.confidenceThreshold = 0.7
	}
	if r.shortQueryThreshold <= 0 {
		r.shortQueryThreshold = 0.5
	}
	if r.budgetWarnPct <= 0 {
		r.budgetWarnPct = 0.8
	}
	return r
}

// Cache exposes the underlying response cache (stats, clear).
func (r *Router) Cache() *cache.ResponseCache { return r.cache }

// GeneratePrompt routes a flat prompt, treating all of it as the user turn.
func (r *Router) GeneratePrompt(ctx context.Context, prompt string, maxTokens int, temperature float64) *Result {
	return r.Generate(ctx, Request{UserTurn: prompt, MaxTokens: maxTokens, Temperature: temperature})
}

// routeError carries a structured routing failure (blocked, provider
// errors) through the single-flight group so every waiter sees the same
// outcome. Failures are never cached.
type routeError struct{ res *Result }

func (e *routeError) Error() string { return e.res.Error }

// Generate runs the full routing decision tree for one request. The
// cache's single-flight fill collapses concurrent identical requests into
// one provider call; waiters receive the filled entry as a cache hit.
func (r *Router) Generate(ctx context.Context, req Request) *Result {
	prompt := canonicalPrompt(req)

	if r.cache == nil {
		return r.route(ctx, req, prompt)
	}

	var routed *Result
	entry, _, err := r.cache.GetOrFill(cache.Fingerprint(prompt), func() (cache.Entry, error) {
		routed = r.route(ctx, req, prompt)
		if !routed.Success {
			return cache.Entry{}, &routeError{res: routed}
		}
		return cache.Entry{
			Text:         routed.Text,
			Provider:     routed.Provider,
			Model:        routed.Model,
			InputTokens:  routed.InputTokens,
			OutputTokens: routed.OutputTokens,
		}, nil
	})
	if routed != nil {
		metrics.CacheMisses.Inc()
		return routed
	}
	if err != nil {
		var re *routeError
		if errors.As(err, &re) {
			dup := *re.res
			return &dup
		}
		return failure(ClassifyComplexity(req.UserTurn), err.Error())
	}
	metrics.CacheHits.Inc()
	return &Result{
		Text:         entry.Text,
		Provider:     entry.Provider,
		Model:        entry.Model,
		InputTokens:  entry.InputTokens,
		OutputTokens: entry.OutputTokens,
		CostUSD:      0,
		Cached:       true,
		Success:      true,
	}
}

// route is the decision tree proper: local vs remote, confidence bars,
// the budget gate, fallbacks.
func (r *Router) route(ctx context.Context, req Request, prompt string) *Result {
	complexity := ClassifyComplexity(req.UserTurn)
	if req.UseReasoning && complexity != ComplexityComplex {
		complexity = ComplexityComplex
	}
	webSearch := !req.SkipWebSearch && NeedsWebSearch(req.UserTurn)

	var localResult *Result
	tryLocal := !req.ForceRemote && r.local != nil &&
		(req.PreferLocal || (complexity != ComplexityComplex && !webSearch)) &&
		r.local.Available(ctx)

	if tryLocal {
		localResult = r.completeWith(ctx, r.local, req, prompt, complexity)
		if localResult.Success {
			confidence := EstimateConfidence(localResult.Text, true, localResult.elapsed)
			localResult.Confidence = confidence

			if req.PreferLocal {
				if strings.TrimSpace(localResult.Text) != "" {
					return r.accept(localResult, "prefer_local")
				}
			} else if confidence >= r.thresholdFor(req.UserTurn, webSearch) {
				return r.accept(localResult, "confident_local")
			} else if r.ledger != nil && r.ledger.DailyBudgetFraction() >= r.budgetWarnPct &&
				complexity == ComplexitySimple && !webSearch {
				// Near the daily cap, a simple query is not worth paid
				// escalation.
				return r.accept(localResult, "budget_warning_keep_local")
			}
			r.logger.Debug("Local confidence %.2f below threshold, escalating", confidence)
		}
	}

	if r.remote == nil {
		if localResult != nil && localResult.Success {
			return r.accept(localResult, "no_remote_keep_local")
		}
		return failure(complexity, "no provider available")
	}

	// Budget gate. Never reached for cache hits or accepted local answers.
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = r.defaultMaxTokens
	}
	estCost := 0.0
	if r.ledger != nil {
		estCost = r.ledger.EstimateCost(r.remote.Name(), r.remote.Model(), EstimateTokens(prompt), maxTokens)
		if decision := r.ledger.Check(estCost); !decision.Permitted {
			metrics.BudgetBlocked.Inc()
			if localResult != nil && localResult.Success {
				return r.accept(localResult, "budget_blocked_keep_local")
			}
			r.logger.Warn("Remote call blocked: %s", decision.Reason)
			res := failure(complexity, "remote request blocked: "+decision.Reason)
			res.Blocked = true
			return res
		}
	}

	remoteResult := r.completeWith(ctx, r.remote, req, prompt, complexity)
	if !remoteResult.Success {
		if localResult != nil && localResult.Success {
			return r.accept(localResult, "remote_failed_keep_local")
		}
		if !req.ForceRemote && r.local != nil && localResult == nil && r.local.Available(ctx) {
			if fallback := r.completeWith(ctx, r.local, req, prompt, complexity); fallback.Success {
				fallback.Confidence = EstimateConfidence(fallback.Text, true, 0)
				return r.accept(fallback, "remote_failed_local_fallback")
			}
		}
		return remoteResult
	}

	if r.ledger != nil {
		cost := r.ledger.Record(r.remote.Name(), r.remote.Model(), remoteResult.InputTokens, remoteResult.OutputTokens)
		remoteResult.CostUSD = cost
		metrics.SpendUSD.Add(cost)
	}
	return r.accept(remoteResult, "remote")
}

// thresholdFor picks the confidence bar: short conversational queries get
// the lower one.
func (r *Router) thresholdFor(userTurn string, webSearch bool) float64 {
	if len(strings.Fields(userTurn)) <= 15 && !webSearch {
		return r.shortQueryThreshold
	}
	return r.confidenceThreshold
}

func (r *Router) completeWith(ctx context.Context, provider llm.Provider, req Request, prompt string, complexity Complexity) *Result {
	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	res := &Result{
		Provider:   provider.Name(),
		Model:      provider.Model(),
		Complexity: complexity.String(),
	}
	if resp != nil {
		res.Text = resp.Text
		res.InputTokens = resp.InputTokens
		res.OutputTokens = resp.OutputTokens
		res.Success = resp.Success
		res.Error = resp.Error
		res.elapsed = resp.Duration
	}
	if err != nil && res.Error == "" {
		res.Error = err.Error()
	}
	if err != nil {
		res.Success = false
	}
	return res
}

// accept records the routing decision. Caching happens in Generate's
// single-flight fill.
func (r *Router) accept(res *Result, reason string) *Result {
	metrics.RouterDecisions.WithLabelValues(res.Provider, reason).Inc()
	if res.Provider == "local" && r.ledger != nil {
		// Zero-cost usage is still recorded for telemetry.
		r.ledger.RecordCost(res.Provider, res.Model, res.InputTokens, res.OutputTokens, 0)
	}
	return res
}

func failure(complexity Complexity, msg string) *Result {
	return &Result{
		Complexity: complexity.String(),
		Success:    false,
		Error:      msg,
	}
}

// canonicalPrompt renders the structured request into the provider prompt.
// The rendering is deterministic so identical requests share a fingerprint.
func canonicalPrompt(req Request) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString("### System\n")
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	for _, turn := range req.History {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	if len(req.History) > 0 {
		b.WriteString("\n")
	}
	b.WriteString(req.UserTurn)
	return b.String()
}
