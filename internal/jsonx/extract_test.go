package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripScratchpad(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no scratchpad", "plain answer", "plain answer"},
		{"think block", "<think>internal musing</think>the answer", "the answer"},
		{"thinking block", "<thinking>hmm</thinking>42", "42"},
		{"multiline", "<think>line one\nline two</think>\nresult", "result"},
		{"unterminated tag swallows rest", "prefix <think>never closed", "prefix"},
		{"multiple blocks", "<think>a</think>x<think>b</think>y", "xy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripScratchpad(tt.in))
		})
	}
}

func TestExtractObject(t *testing.T) {
	type action struct {
		Action string `json:"action"`
		Value  int    `json:"value"`
	}

	tests := []struct {
		name string
		in   string
		want action
	}{
		{"bare", `{"action":"done","value":3}`, action{"done", 3}},
		{"fenced", "Here you go:\n```json\n{\"action\":\"think\",\"value\":1}\n```\n", action{"think", 1}},
		{"fence without language", "```\n{\"action\":\"go\",\"value\":2}\n```", action{"go", 2}},
		{"embedded in prose", `Sure! The plan is {"action":"run","value":7} as requested.`, action{"run", 7}},
		{"braces inside strings", `{"action":"say {hi}","value":5}`, action{"say {hi}", 5}},
		{"after scratchpad", `<think>{"action":"wrong"}</think>{"action":"right","value":9}`, action{"right", 9}},
		{"repairable trailing comma", `{"action":"fix","value":4,}`, action{"fix", 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got action
			require.NoError(t, ExtractObject(tt.in, &got))
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("no json at all", func(t *testing.T) {
		var got action
		assert.Error(t, ExtractObject("just words, nothing else", &got))
	})
}

func TestExtractArray(t *testing.T) {
	var items []map[string]any
	err := ExtractArray(`The tasks are: [{"description":"a"},{"description":"b"}] done`, &items)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0]["description"])
}

func TestExtractStringList(t *testing.T) {
	t.Run("json array", func(t *testing.T) {
		got := ExtractStringList(`["first", "second"]`)
		assert.Equal(t, []string{"first", "second"}, got)
	})

	t.Run("numbered list fallback", func(t *testing.T) {
		got := ExtractStringList("Here is a plan:\n1. research the topic\n2) write the summary\n- polish it\n")
		assert.Equal(t, []string{"research the topic", "write the summary", "polish it"}, got)
	})

	t.Run("nothing parseable", func(t *testing.T) {
		assert.Empty(t, ExtractStringList("no list here"))
	})
}
