package router

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archi/internal/budget"
	"archi/internal/config"
	"archi/internal/llm"
	"archi/internal/llm/cache"
)

// fakeProvider scripts provider behavior for routing tests.
type fakeProvider struct {
	name      string
	model     string
	text      string
	fail      bool
	offline   bool
	calls     int
	inTokens  int
	outTokens int
}

func (f *fakeProvider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	if f.fail {
		return &llm.CompletionResponse{Provider: f.name, Model: f.model, Success: false, Error: "scripted failure"}, nil
	}
	in, out := f.inTokens, f.outTokens
	if in == 0 {
		in = 10
	}
	if out == 0 {
		out = 20
	}
	return &llm.CompletionResponse{
		Text:         f.text,
		Provider:     f.name,
		Model:        f.model,
		InputTokens:  in,
		OutputTokens: out,
		Duration:     50 * time.Millisecond,
		Success:      true,
	}, nil
}

func (f *fakeProvider) Name() string                     { return f.name }
func (f *fakeProvider) Model() string                    { return f.model }
func (f *fakeProvider) Available(_ context.Context) bool { return !f.offline }

func confidentText() string {
	// Mid-length, no uncertainty phrasing: scores 0.8.
	return "The capital of France is Paris, which sits on the Seine river."
}

func unsureText() string {
	// Uncertainty phrasing drops the score to 0.55.
	return "I'm not sure, but I think the answer could be Paris or maybe Lyon."
}

func newTestRouter(local, remote llm.Provider, ledger *budget.Ledger) *Router {
	return New(local, remote, cache.New(cache.Config{MaxSize: 32, TTL: time.Hour}, nil), ledger, config.RouterConfig{
		ConfidenceThreshold: 0.7,
		ShortQueryThreshold: 0.5,
	}, 0.8, nil)
}

func newTestLedger(t *testing.T, dailyUSD float64) *budget.Ledger {
	t.Helper()
	return budget.NewLedger(config.BudgetConfig{
		DailyHardStopUSD: dailyUSD,
		Prices: map[string]config.ModelPrice{
			"remote/gpt-test": {InputPerMTok: 1000, OutputPerMTok: 1000},
		},
	}, t.TempDir(), nil)
}

func TestGenerateConfidentLocalStaysLocal(t *testing.T) {
	local := &fakeProvider{name: "local", model: "gguf", text: confidentText()}
	remote := &fakeProvider{name: "remote", model: "gpt-test", text: "remote answer"}
	r := newTestRouter(local, remote, newTestLedger(t, 100))

	res := r.Generate(context.Background(), Request{UserTurn: "explain how rivers form over geological time periods please"})
	require.True(t, res.Success)
	assert.Equal(t, "local", res.Provider)
	assert.Zero(t, res.CostUSD)
	assert.Zero(t, remote.calls)
}

// longQuery is over 15 words so the full 0.7 confidence bar applies,
// with no complexity or web-search keywords.
const longQuery = "please explain to me in a careful and friendly way how rivers form across long stretches of geological history"

func TestGenerateLowConfidenceEscalates(t *testing.T) {
	local := &fakeProvider{name: "local", model: "gguf", text: unsureText()}
	remote := &fakeProvider{name: "remote", model: "gpt-test", text: "remote answer"}
	r := newTestRouter(local, remote, newTestLedger(t, 100))

	res := r.Generate(context.Background(), Request{UserTurn: longQuery})
	require.True(t, res.Success)
	assert.Equal(t, "remote", res.Provider)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 1, remote.calls)
	assert.Greater(t, res.CostUSD, 0.0)
}

func TestGenerateShortQueryUsesLowerThreshold(t *testing.T) {
	// 0.55 confidence: below 0.7 but above the 0.5 short-query bar.
	local := &fakeProvider{name: "local", model: "gguf", text: unsureText()}
	remote := &fakeProvider{name: "remote", model: "gpt-test", text: "remote answer"}
	r := newTestRouter(local, remote, newTestLedger(t, 100))

	res := r.Generate(context.Background(), Request{UserTurn: "capital of France?"})
	require.True(t, res.Success)
	assert.Equal(t, "local", res.Provider)
	assert.Zero(t, remote.calls)
}

func TestGenerateComplexSkipsLocal(t *testing.T) {
	local := &fakeProvider{name: "local", model: "gguf", text: confidentText()}
	remote := &fakeProvider{name: "remote", model: "gpt-test", text: "deep analysis"}
	r := newTestRouter(local, remote, newTestLedger(t, 100))

	res := r.Generate(context.Background(), Request{UserTurn: "analyze the trade-offs of this architecture in depth"})
	require.True(t, res.Success)
	assert.Equal(t, "remote", res.Provider)
	assert.Zero(t, local.calls)
}

func TestGenerateWebSearchQuerySkipsLocal(t *testing.T) {
	local := &fakeProvider{name: "local", model: "gguf", text: confidentText()}
	remote := &fakeProvider{name: "remote", model: "gpt-test", text: "it is sunny"}
	r := newTestRouter(local, remote, newTestLedger(t, 100))

	res := r.Generate(context.Background(), Request{UserTurn: "what's the weather today"})
	require.True(t, res.Success)
	assert.Equal(t, "remote", res.Provider)
	assert.Zero(t, local.calls)
}

func TestGenerateCacheHitIsFree(t *testing.T) {
	local := &fakeProvider{name: "local", model: "gguf", text: confidentText()}
	r := newTestRouter(local, nil, newTestLedger(t, 100))
	req := Request{UserTurn: "explain how rivers form over geological time periods please"}

	first := r.Generate(context.Background(), req)
	require.True(t, first.Success)
	assert.False(t, first.Cached)

	second := r.Generate(context.Background(), req)
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Zero(t, second.CostUSD)
	assert.Equal(t, 1, local.calls)
}

func TestGenerateBudgetBlockedKeepsLocal(t *testing.T) {
	ledger := newTestLedger(t, 1.00)
	ledger.RecordCost("remote", "gpt-test", 0, 0, 0.999)

	local := &fakeProvider{name: "local", model: "gguf", text: unsureText()}
	remote := &fakeProvider{name: "remote", model: "gpt-test", text: "remote answer"}
	r := newTestRouter(local, remote, ledger)

	res := r.Generate(context.Background(), Request{UserTurn: longQuery})
	require.True(t, res.Success)
	assert.Equal(t, "local", res.Provider)
	assert.False(t, res.Blocked)
	assert.Zero(t, remote.calls)
}

func TestGenerateForceRemoteBlockedReturnsStructuredResult(t *testing.T) {
	ledger := newTestLedger(t, 1.00)
	ledger.RecordCost("remote", "gpt-test", 0, 0, 0.999)

	local := &fakeProvider{name: "local", model: "gguf", text: confidentText()}
	remote := &fakeProvider{name: "remote", model: "gpt-test", text: "remote answer"}
	r := newTestRouter(local, remote, ledger)

	res := r.Generate(context.Background(), Request{UserTurn: "summarize my day", ForceRemote: true})
	assert.False(t, res.Success)
	assert.True(t, res.Blocked)
	assert.Zero(t, res.CostUSD)
	assert.Contains(t, res.Error, "blocked")
	assert.Zero(t, local.calls)
	assert.Zero(t, remote.calls)
}

func TestGenerateBudgetWarningKeepsSimpleLocal(t *testing.T) {
	ledger := newTestLedger(t, 1.00)
	ledger.RecordCost("remote", "gpt-test", 0, 0, 0.85) // past the 80% warning

	// Low-ish confidence so escalation would normally be considered for a
	// longer query; keep the turn simple and >15 words to dodge the
	// short-query threshold.
	local := &fakeProvider{name: "local", model: "gguf", text: unsureText()}
	remote := &fakeProvider{name: "remote", model: "gpt-test", text: "remote answer"}
	r := newTestRouter(local, remote, ledger)

	res := r.Generate(context.Background(), Request{
		UserTurn: "hello there friend how are you doing on this very fine morning I hope that all is quite well",
	})
	require.True(t, res.Success)
	assert.Equal(t, "local", res.Provider)
	assert.Zero(t, remote.calls)
}

func TestGenerateRemoteFailureFallsBackToLocal(t *testing.T) {
	local := &fakeProvider{name: "local", model: "gguf", text: confidentText()}
	remote := &fakeProvider{name: "remote", model: "gpt-test", fail: true}
	r := newTestRouter(local, remote, newTestLedger(t, 100))

	res := r.Generate(context.Background(), Request{UserTurn: "analyze the trade-offs of this architecture in depth"})
	require.True(t, res.Success)
	assert.Equal(t, "local", res.Provider)
	assert.Equal(t, 1, remote.calls)
}

func TestGenerateLocalOfflineGoesRemote(t *testing.T) {
	local := &fakeProvider{name: "local", model: "gguf", text: confidentText(), offline: true}
	remote := &fakeProvider{name: "remote", model: "gpt-test", text: "remote answer"}
	r := newTestRouter(local, remote, newTestLedger(t, 100))

	res := r.Generate(context.Background(), Request{UserTurn: "capital of France?"})
	require.True(t, res.Success)
	assert.Equal(t, "remote", res.Provider)
	assert.Zero(t, local.calls)
}

func TestGenerateNoProviders(t *testing.T) {
	r := newTestRouter(nil, nil, nil)
	res := r.Generate(context.Background(), Request{UserTurn: "hello"})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestGeneratePreferLocalAcceptsAnyAnswer(t *testing.T) {
	local := &fakeProvider{name: "local", model: "gguf", text: unsureText()}
	remote := &fakeProvider{name: "remote", model: "gpt-test", text: "remote answer"}
	r := newTestRouter(local, remote, newTestLedger(t, 100))

	res := r.Generate(context.Background(), Request{
		UserTurn:    "explain how rivers form over geological time periods please",
		PreferLocal: true,
	})
	require.True(t, res.Success)
	assert.Equal(t, "local", res.Provider)
	assert.Zero(t, remote.calls)
}

// slowProvider counts calls atomically and holds each completion long
// enough for concurrent callers to pile up on the same fingerprint.
type slowProvider struct {
	delay time.Duration
	calls atomic.Int64
}

func (s *slowProvider) Name() string                     { return "local" }
func (s *slowProvider) Model() string                    { return "gguf" }
func (s *slowProvider) Available(_ context.Context) bool { return true }

func (s *slowProvider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return &llm.CompletionResponse{
		Text:         confidentText(),
		Provider:     "local",
		Model:        "gguf",
		InputTokens:  10,
		OutputTokens: 20,
		Duration:     50 * time.Millisecond,
		Success:      true,
	}, nil
}

func TestGenerateConcurrentIdenticalRequestsShareOneCall(t *testing.T) {
	local := &slowProvider{delay: 150 * time.Millisecond}
	r := newTestRouter(local, nil, newTestLedger(t, 100))

	results := make([]*Result, 4)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.GeneratePrompt(context.Background(), "capital of France?", 0, 0)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), local.calls.Load(), "in-flight identical requests share one provider call")
	for _, res := range results {
		require.True(t, res.Success)
		assert.Contains(t, res.Text, "Paris")
		assert.Zero(t, res.CostUSD)
	}
}

func TestCanonicalPromptDeterministic(t *testing.T) {
	req := Request{
		System:   "be helpful",
		History:  []ChatTurn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
		UserTurn: "next question",
	}
	a := canonicalPrompt(req)
	b := canonicalPrompt(req)
	assert.Equal(t, a, b)
	assert.True(t, strings.Contains(a, "be helpful"))
	assert.True(t, strings.HasSuffix(a, "next question"))
}
