package router

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyComplexity(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Complexity
	}{
		{"short greeting", "hello", ComplexitySimple},
		{"short question", "capital of France?", ComplexitySimple},
		{"medium length", strings.Repeat("word ", 20), ComplexityMedium},
		{"long text", strings.Repeat("word ", 60), ComplexityComplex},
		{"complex keyword promotes short", "analyze this function", ComplexityComplex},
		{"refactor keyword", "refactor the parser please", ComplexityComplex},
		{"simple keyword demotes medium", "what is " + strings.Repeat("generally speaking about things ", 5), ComplexitySimple},
		{"complex beats simple keyword", "what is the best way to architecture this", ComplexityComplex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyComplexity(tt.in))
		})
	}
}

func TestNeedsWebSearch(t *testing.T) {
	assert.True(t, NeedsWebSearch("what's the weather today"))
	assert.True(t, NeedsWebSearch("latest news about Go"))
	assert.True(t, NeedsWebSearch("bitcoin price"))
	assert.False(t, NeedsWebSearch("explain goroutines"))
	assert.False(t, NeedsWebSearch("write a haiku"))
}

func TestEstimateConfidence(t *testing.T) {
	t.Run("failure scores zero", func(t *testing.T) {
		assert.Zero(t, EstimateConfidence("anything", false, 0))
	})

	t.Run("empty response", func(t *testing.T) {
		assert.InDelta(t, 0.3, EstimateConfidence("   ", true, 0), 1e-9)
	})

	t.Run("single confident word", func(t *testing.T) {
		assert.InDelta(t, 0.85, EstimateConfidence("Paris", true, 0), 1e-9)
	})

	t.Run("normal answer", func(t *testing.T) {
		got := EstimateConfidence("The capital of France is Paris, a city on the Seine.", true, time.Second)
		assert.InDelta(t, 0.8, got, 1e-9)
	})

	t.Run("uncertainty penalized", func(t *testing.T) {
		sure := EstimateConfidence("The answer is definitely forty two units.", true, 0)
		unsure := EstimateConfidence("I'm not sure, but the answer might be forty two.", true, 0)
		assert.Greater(t, sure, unsure)
		assert.InDelta(t, 0.25, sure-unsure, 1e-9)
	})

	t.Run("slow response penalized", func(t *testing.T) {
		fast := EstimateConfidence("A reasonable multi word answer here.", true, time.Second)
		slow := EstimateConfidence("A reasonable multi word answer here.", true, 2*time.Minute)
		assert.InDelta(t, 0.1, fast-slow, 1e-9)
	})

	t.Run("very long rambling", func(t *testing.T) {
		long := strings.Repeat("many words flow on and on ", 50)
		assert.InDelta(t, 0.55, EstimateConfidence(long, true, 0), 1e-9)
	})

	t.Run("clamped to zero", func(t *testing.T) {
		got := EstimateConfidence("maybe", true, 2*time.Minute)
		assert.GreaterOrEqual(t, got, 0.0)
	})
}
