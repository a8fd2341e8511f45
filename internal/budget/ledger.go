// Package budget tracks per-provider LLM usage and enforces daily and
// monthly spend caps. The ledger is the single authority a caller must
// consult before committing a paid request.
package budget

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"archi/internal/config"
	"archi/internal/jsonx"
	"archi/internal/logging"
)

const snapshotFile = "cost_usage.json"

// ModelUsage accumulates usage for one provider/model pair.
type ModelUsage struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Decision is the result of a budget check. A negative decision is a
// gate, not an error; callers substitute the local provider or refuse.
type Decision struct {
	Permitted    bool    `json:"permitted"`
	Reason       string  `json:"reason,omitempty"`
	DailySpent   float64 `json:"daily_spent"`
	DailyLimit   float64 `json:"daily_limit"`
	MonthlySpent float64 `json:"monthly_spent"`
	MonthlyLimit float64 `json:"monthly_limit"`
}

// Summary aggregates usage over a period.
type Summary struct {
	Period       string                `json:"period"`
	TotalCalls   int                   `json:"total_calls"`
	InputTokens  int64                 `json:"input_tokens"`
	OutputTokens int64                 `json:"output_tokens"`
	TotalCost    float64               `json:"total_cost"`
	ByModel      map[string]ModelUsage `json:"by_model,omitempty"`
}

// snapshot is the on-disk shape of the ledger.
type snapshot struct {
	Version     int                   `json:"version"`
	ByModel     map[string]ModelUsage `json:"by_model"`
	DailySpend  map[string]float64    `json:"daily_spend"`  // "2026-08-24" -> USD
	MonthSpend  map[string]float64    `json:"month_spend"`  // "2026-08" -> USD
	DailyUsage  map[string]ModelUsage `json:"daily_usage"`  // day -> aggregate
	LastUpdated time.Time             `json:"last_updated"`
}

// Ledger is the persistent budget record. Safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	snap   snapshot
	prices map[string]config.ModelPrice

	dailyLimit   float64
	monthlyLimit float64

	dataDir       string
	flushInterval time.Duration
	lastFlush     time.Time
	dirty         bool

	now    func() time.Time
	logger logging.Logger
}

// NewLedger creates a ledger, loading any prior snapshot from dataDir.
func NewLedger(cfg config.BudgetConfig, dataDir string, logger logging.Logger) *Ledger {
	l := &Ledger{
		snap: snapshot{
			Version:    1,
			ByModel:    map[string]ModelUsage{},
			DailySpend: map[string]float64{},
			MonthSpend: map[string]float64{},
			DailyUsage: map[string]ModelUsage{},
		},
		prices:        cfg.Prices,
		dailyLimit:    cfg.DailyHardStopUSD,
		monthlyLimit:  cfg.MonthlyHardStopUSD,
		dataDir:       dataDir,
		flushInterval: cfg.FlushInterval,
		now:           time.Now,
		logger:        logging.OrNop(logger),
	}
	if l.flushInterval <= 0 {
		l.flushInterval = 30 * time.Second
	}
	l.load()
	return l
}

// SetClock replaces the clock (tests).
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// EstimateCost prices a hypothetical call from the price table.
func (l *Ledger) EstimateCost(provider, model string, inputTokens, outputTokens int) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.price(provider, model, inputTokens, outputTokens)
}

func (l *Ledger) price(provider, model string, inputTokens, outputTokens int) float64 {
	p, ok := l.prices[provider+"/"+model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}

// Record adds a call priced from the table.
func (l *Ledger) Record(provider, model string, inputTokens, outputTokens int) float64 {
	l.mu.Lock()
	cost := l.price(provider, model, inputTokens, outputTokens)
	l.recordLocked(provider, model, inputTokens, outputTokens, cost)
	l.mu.Unlock()
	return cost
}

// RecordCost adds a call with a caller-supplied cost override.
func (l *Ledger) RecordCost(provider, model string, inputTokens, outputTokens int, cost float64) {
	l.mu.Lock()
	l.recordLocked(provider, model, inputTokens, outputTokens, cost)
	l.mu.Unlock()
}

func (l *Ledger) recordLocked(provider, model string, inputTokens, outputTokens int, cost float64) {
	key := provider + "/" + model
	u := l.snap.ByModel[key]
	u.Calls++
	u.InputTokens += int64(inputTokens)
	u.OutputTokens += int64(outputTokens)
	u.CostUSD += cost
	l.snap.ByModel[key] = u

	now := l.now()
	day := dayKey(now)
	du := l.snap.DailyUsage[day]
	du.Calls++
	du.InputTokens += int64(inputTokens)
	du.OutputTokens += int64(outputTokens)
	du.CostUSD += cost
	l.snap.DailyUsage[day] = du

	if cost > 0 {
		l.snap.DailySpend[day] += cost
		l.snap.MonthSpend[monthKey(now)] += cost
	}
	l.snap.LastUpdated = now
	l.dirty = true

	if now.Sub(l.lastFlush) >= l.flushInterval {
		l.flushLocked()
	}
}

// Check reports whether a request costing estimatedCost keeps both the
// daily and monthly spend within limits. A zero or negative limit means
// the corresponding cap is disabled.
func (l *Ledger) Check(estimatedCost float64) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	d := Decision{
		Permitted:    true,
		DailySpent:   l.snap.DailySpend[dayKey(now)],
		DailyLimit:   l.dailyLimit,
		MonthlySpent: l.snap.MonthSpend[monthKey(now)],
		MonthlyLimit: l.monthlyLimit,
	}
	if l.dailyLimit > 0 && d.DailySpent+estimatedCost > l.dailyLimit {
		d.Permitted = false
		d.Reason = fmt.Sprintf("daily budget exceeded: $%.4f spent + $%.4f projected > $%.4f limit",
			d.DailySpent, estimatedCost, l.dailyLimit)
		return d
	}
	if l.monthlyLimit > 0 && d.MonthlySpent+estimatedCost > l.monthlyLimit {
		d.Permitted = false
		d.Reason = fmt.Sprintf("monthly budget exceeded: $%.4f spent + $%.4f projected > $%.4f limit",
			d.MonthlySpent, estimatedCost, l.monthlyLimit)
	}
	return d
}

// DailyBudgetFraction returns today's spend as a fraction of the daily
// limit, or 0 when no limit is configured.
func (l *Ledger) DailyBudgetFraction() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dailyLimit <= 0 {
		return 0
	}
	return l.snap.DailySpend[dayKey(l.now())] / l.dailyLimit
}

// GetSummary returns usage totals for "today", "month", or "all".
func (l *Ledger) GetSummary(period string) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	switch period {
	case "today":
		day := dayKey(now)
		u := l.snap.DailyUsage[day]
		return Summary{
			Period:       day,
			TotalCalls:   u.Calls,
			InputTokens:  u.InputTokens,
			OutputTokens: u.OutputTokens,
			TotalCost:    l.snap.DailySpend[day],
		}
	case "month":
		return Summary{
			Period:    monthKey(now),
			TotalCost: l.snap.MonthSpend[monthKey(now)],
		}
	default:
		s := Summary{Period: "all", ByModel: map[string]ModelUsage{}}
		for key, u := range l.snap.ByModel {
			s.TotalCalls += u.Calls
			s.InputTokens += u.InputTokens
			s.OutputTokens += u.OutputTokens
			s.TotalCost += u.CostUSD
			s.ByModel[key] = u
		}
		return s
	}
}

// Flush writes the snapshot to disk immediately.
func (l *Ledger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
}

func (l *Ledger) flushLocked() {
	l.lastFlush = l.now()
	if !l.dirty || l.dataDir == "" {
		return
	}
	data, err := jsonx.MarshalIndent(l.snap, "", "  ")
	if err != nil {
		l.logger.Warn("Budget snapshot marshal failed: %v", err)
		return
	}
	path := filepath.Join(l.dataDir, snapshotFile)
	tmp := path + ".tmp"
	if err := os.MkdirAll(l.dataDir, 0o755); err != nil {
		l.logger.Warn("Budget snapshot dir failed: %v", err)
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		l.logger.Warn("Budget snapshot write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		l.logger.Warn("Budget snapshot rename failed: %v", err)
		return
	}
	l.dirty = false
}

func (l *Ledger) load() {
	if l.dataDir == "" {
		return
	}
	path := filepath.Join(l.dataDir, snapshotFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("Budget snapshot unreadable: %v", err)
		}
		return
	}
	var snap snapshot
	if err := jsonx.Unmarshal(data, &snap); err != nil {
		l.logger.Warn("Budget snapshot corrupt, starting fresh: %v", err)
		return
	}
	if snap.ByModel == nil {
		snap.ByModel = map[string]ModelUsage{}
	}
	if snap.DailySpend == nil {
		snap.DailySpend = map[string]float64{}
	}
	if snap.MonthSpend == nil {
		snap.MonthSpend = map[string]float64{}
	}
	if snap.DailyUsage == nil {
		snap.DailyUsage = map[string]ModelUsage{}
	}
	l.snap = snap
}

func dayKey(t time.Time) string   { return t.Format("2006-01-02") }
func monthKey(t time.Time) string { return t.Format("2006-01") }
