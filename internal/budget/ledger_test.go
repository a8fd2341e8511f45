package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archi/internal/config"
)

func testBudgetConfig() config.BudgetConfig {
	return config.BudgetConfig{
		DailyHardStopUSD:   1.00,
		MonthlyHardStopUSD: 20.00,
		WarningPct:         0.8,
		FlushInterval:      time.Hour,
		Prices: map[string]config.ModelPrice{
			"remote/gpt-4o-mini": {InputPerMTok: 0.15, OutputPerMTok: 0.60},
		},
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLedgerRecordPricesFromTable(t *testing.T) {
	l := NewLedger(testBudgetConfig(), t.TempDir(), nil)

	cost := l.Record("remote", "gpt-4o-mini", 1_000_000, 1_000_000)
	assert.InDelta(t, 0.75, cost, 1e-9)

	s := l.GetSummary("all")
	assert.Equal(t, 1, s.TotalCalls)
	assert.InDelta(t, 0.75, s.TotalCost, 1e-9)
}

func TestLedgerUnknownModelIsFree(t *testing.T) {
	l := NewLedger(testBudgetConfig(), t.TempDir(), nil)
	assert.Zero(t, l.Record("local", "local-gguf", 5000, 5000))
	assert.Zero(t, l.GetSummary("today").TotalCost)
}

func TestLedgerCheckDailyLimit(t *testing.T) {
	l := NewLedger(testBudgetConfig(), t.TempDir(), nil)

	d := l.Check(0.50)
	assert.True(t, d.Permitted)

	l.RecordCost("remote", "gpt-4o-mini", 100, 100, 0.90)

	d = l.Check(0.05)
	assert.True(t, d.Permitted)

	d = l.Check(0.20)
	assert.False(t, d.Permitted)
	assert.Contains(t, d.Reason, "daily budget exceeded")
	assert.InDelta(t, 0.90, d.DailySpent, 1e-9)
}

func TestLedgerCheckMonthlyLimit(t *testing.T) {
	cfg := testBudgetConfig()
	cfg.DailyHardStopUSD = 0 // disabled
	cfg.MonthlyHardStopUSD = 1.00
	l := NewLedger(cfg, t.TempDir(), nil)

	l.RecordCost("remote", "gpt-4o-mini", 0, 0, 0.95)
	d := l.Check(0.10)
	assert.False(t, d.Permitted)
	assert.Contains(t, d.Reason, "monthly budget exceeded")
}

func TestLedgerDisabledLimits(t *testing.T) {
	cfg := testBudgetConfig()
	cfg.DailyHardStopUSD = 0
	cfg.MonthlyHardStopUSD = 0
	l := NewLedger(cfg, t.TempDir(), nil)

	l.RecordCost("remote", "gpt-4o-mini", 0, 0, 999)
	assert.True(t, l.Check(999).Permitted)
	assert.Zero(t, l.DailyBudgetFraction())
}

func TestLedgerDailyRollover(t *testing.T) {
	l := NewLedger(testBudgetConfig(), t.TempDir(), nil)
	day1 := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	l.SetClock(fixedClock(day1))

	l.RecordCost("remote", "gpt-4o-mini", 0, 0, 0.99)
	assert.False(t, l.Check(0.05).Permitted)

	// Next day: daily counter resets, monthly carries over.
	l.SetClock(fixedClock(day1.Add(24 * time.Hour)))
	d := l.Check(0.05)
	assert.True(t, d.Permitted)
	assert.Zero(t, d.DailySpent)
	assert.InDelta(t, 0.99, d.MonthlySpent, 1e-9)
}

func TestLedgerDailyBudgetFraction(t *testing.T) {
	l := NewLedger(testBudgetConfig(), t.TempDir(), nil)
	l.RecordCost("remote", "gpt-4o-mini", 0, 0, 0.80)
	assert.InDelta(t, 0.80, l.DailyBudgetFraction(), 1e-9)
}

func TestLedgerPersistence(t *testing.T) {
	dir := t.TempDir()

	l := NewLedger(testBudgetConfig(), dir, nil)
	l.RecordCost("remote", "gpt-4o-mini", 10, 20, 0.42)
	l.Flush()

	reloaded := NewLedger(testBudgetConfig(), dir, nil)
	s := reloaded.GetSummary("all")
	require.Equal(t, 1, s.TotalCalls)
	assert.InDelta(t, 0.42, s.TotalCost, 1e-9)
	assert.Equal(t, int64(10), s.InputTokens)
	assert.Equal(t, int64(20), s.OutputTokens)
}

func TestLedgerEstimateCost(t *testing.T) {
	l := NewLedger(testBudgetConfig(), "", nil)
	est := l.EstimateCost("remote", "gpt-4o-mini", 2_000_000, 500_000)
	assert.InDelta(t, 0.30+0.30, est, 1e-9)
	assert.Zero(t, l.EstimateCost("remote", "unknown", 1000, 1000))
}
