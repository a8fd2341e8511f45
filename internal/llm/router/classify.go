package router

import (
	"strings"
	"time"
)

// Complexity buckets a user query for provider selection.
type Complexity int

const (
	ComplexitySimple Complexity = iota
	ComplexityMedium
	ComplexityComplex
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityComplex:
		return "complex"
	default:
		return "medium"
	}
}

// Keyword sets tune the word-count heuristic. Matching is on the lowered
// user turn; phrase entries match as substrings, single words as tokens.
var (
	complexKeywords = []string{
		"analyze", "analyse", "compare", "evaluate", "synthesize",
		"architecture", "implement", "refactor", "optimize", "design",
		"prove", "derive", "step by step", "trade-off", "tradeoff",
		"pros and cons", "in depth", "comprehensive",
	}
	simpleKeywords = []string{
		"what is", "what's", "define", "who is", "when is", "where is",
		"hello", "hi", "hey", "thanks", "thank you", "good morning",
		"good night", "how are you",
	}
	webSearchKeywords = []string{
		"today", "tonight", "current", "currently", "latest", "right now",
		"this week", "this month", "news", "weather", "forecast",
		"stock", "price of", "market", "exchange rate", "bitcoin",
		"gold price", "oil price", "score", "schedule",
	}
	uncertaintyPhrases = []string{
		"i'm not sure", "i am not sure", "i don't know", "i do not know",
		"maybe", "perhaps", "i think", "possibly", "i cannot", "i can't",
		"as an ai", "i'm unable", "i am unable",
	}
)

// ClassifyComplexity buckets the user turn by word count, with keyword
// promotion and demotion.
func ClassifyComplexity(userTurn string) Complexity {
	lowered := strings.ToLower(strings.TrimSpace(userTurn))
	words := len(strings.Fields(lowered))

	complexity := ComplexityMedium
	switch {
	case words < 10:
		complexity = ComplexitySimple
	case words > 50:
		complexity = ComplexityComplex
	}

	for _, kw := range complexKeywords {
		if strings.Contains(lowered, kw) {
			return ComplexityComplex
		}
	}
	for _, kw := range simpleKeywords {
		if strings.Contains(lowered, kw) {
			return ComplexitySimple
		}
	}
	return complexity
}

// NeedsWebSearch reports whether the user turn looks time-sensitive.
func NeedsWebSearch(userTurn string) bool {
	lowered := strings.ToLower(userTurn)
	for _, kw := range webSearchKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// EstimateConfidence scores a local-model response in [0,1] from the
// success flag, output length, uncertainty phrasing, and elapsed time.
func EstimateConfidence(text string, success bool, elapsed time.Duration) float64 {
	if !success {
		return 0.0
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0.3
	}

	lowered := strings.ToLower(trimmed)
	words := len(strings.Fields(trimmed))

	uncertain := false
	for _, phrase := range uncertaintyPhrases {
		if strings.Contains(lowered, phrase) {
			uncertain = true
			break
		}
	}

	if words == 1 && !uncertain {
		return 0.85
	}

	score := 0.75
	switch {
	case words < 3:
		score = 0.6
	case words <= 60:
		score = 0.8
	case words <= 200:
		score = 0.7
	default:
		score = 0.55
	}

	if uncertain {
		score -= 0.25
	}
	// A response that took very long on the local model suggests the
	// query was at the edge of its capability.
	if elapsed > 60*time.Second {
		score -= 0.1
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
