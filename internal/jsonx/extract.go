package jsonx

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Model output frequently wraps JSON in prose, markdown fences, or
// reasoning scratchpads. Extraction order: bare JSON, fenced code block,
// first balanced object/array, jsonrepair. Callers that expect a string
// array get a final numbered/bulleted list fallback.

var (
	scratchpadPattern = regexp.MustCompile(`(?s)<think(?:ing)?>.*?</think(?:ing)?>`)
	openScratchpad    = regexp.MustCompile(`(?s)<think(?:ing)?>.*\z`)
	fencePattern      = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	listItemPattern   = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+(.*)$`)
)

// StripScratchpad removes reasoning-model scratchpad sections from text.
// Applied before persistence and before any JSON parse of model output.
func StripScratchpad(text string) string {
	text = scratchpadPattern.ReplaceAllString(text, "")
	// An unterminated tag swallows the rest of the output.
	text = openScratchpad.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ExtractObject unmarshals the first JSON object found in text into v.
func ExtractObject(text string, v any) error {
	return extract(text, v, '{', '}')
}

// ExtractArray unmarshals the first JSON array found in text into v.
func ExtractArray(text string, v any) error {
	return extract(text, v, '[', ']')
}

func extract(text string, v any, open, close byte) error {
	text = StripScratchpad(text)

	// 1. Bare JSON.
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 0 && trimmed[0] == open {
		if err := Unmarshal([]byte(trimmed), v); err == nil {
			return nil
		}
	}

	// 2. Fenced code block.
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		inner := strings.TrimSpace(m[1])
		if len(inner) > 0 && inner[0] == open {
			if err := Unmarshal([]byte(inner), v); err == nil {
				return nil
			}
		}
	}

	// 3. First balanced region.
	if region, ok := balancedRegion(text, open, close); ok {
		if err := Unmarshal([]byte(region), v); err == nil {
			return nil
		}
		// 4. Repair the balanced region before giving up on it.
		if fixed, rerr := jsonrepair.JSONRepair(region); rerr == nil {
			if err := Unmarshal([]byte(fixed), v); err == nil {
				return nil
			}
		}
	}

	// 5. Repair the whole text.
	if fixed, rerr := jsonrepair.JSONRepair(trimmed); rerr == nil {
		fixed = strings.TrimSpace(fixed)
		if len(fixed) > 0 && fixed[0] == open {
			if err := Unmarshal([]byte(fixed), v); err == nil {
				return nil
			}
		}
	}

	return fmt.Errorf("jsonx: no parseable JSON %c...%c in text", open, close)
}

// balancedRegion returns the first balanced open..close region, respecting
// string literals and escapes.
func balancedRegion(text string, open, close byte) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if start >= 0 {
				inString = true
			}
		case open:
			if start < 0 {
				start = i
			}
			depth++
		case close:
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// ExtractStringList parses a string array from model output, falling back
// to a numbered or bulleted prose list when no JSON array parses.
func ExtractStringList(text string) []string {
	var items []string
	if err := ExtractArray(text, &items); err == nil && len(items) > 0 {
		return items
	}

	var out []string
	for _, line := range strings.Split(StripScratchpad(text), "\n") {
		if m := listItemPattern.FindStringSubmatch(line); m != nil {
			item := strings.TrimSpace(m[1])
			if item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}
