package extract

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractProseWrapped(t *testing.T) {
	// Prose around a clean object must yield the same result as parsing
	// the isolated substring directly.
	raw := `Sure! {"response":[{"type":"text","content":"ok"}]} Hope that helps!`
	got := Extract(raw)
	require.NotNil(t, got)

	var want map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{"response":[{"type":"text","content":"ok"}]}`), &want))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("extracted object mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractEmptyInput(t *testing.T) {
	assert.Nil(t, Extract(""))
	assert.Nil(t, Extract("   \n\t  "))
	assert.Nil(t, Extract("no json here at all"))
}

func TestExtractRepairs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		key  string
		want interface{}
	}{
		{
			name: "typographic_quotes",
			in:   `{“mood”: “happy”}`,
			key:  "mood",
			want: "happy",
		},
		{
			name: "bare_keys",
			in:   `{mood: "happy"}`,
			key:  "mood",
			want: "happy",
		},
		{
			name: "single_quoted_keys_and_values",
			in:   `{'mood': 'happy'}`,
			key:  "mood",
			want: "happy",
		},
		{
			name: "leading_plus_number",
			in:   `{"delta": +3}`,
			key:  "delta",
			want: float64(3),
		},
		{
			name: "trailing_comma",
			in:   `{"mood": "happy",}`,
			key:  "mood",
			want: "happy",
		},
		{
			name: "braces_inside_string",
			in:   `{"content": "use {curly} braces"}`,
			key:  "content",
			want: "use {curly} braces",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.in)
			require.NotNil(t, got, "Extract returned nil")
			assert.Equal(t, tt.want, got[tt.key])
		})
	}
}

func TestExtractByteOrderMark(t *testing.T) {
	got := Extract("\uFEFF{\"mood\": \"calm\"}")
	require.NotNil(t, got)
	assert.Equal(t, "calm", got["mood"])
	assert.NotContains(t, StripControlChars("\uFEFFabc\uFEFF"), "\uFEFF")
}

func TestExtractAdjacentObjects(t *testing.T) {
	got := ExtractValue(`[{"a":1}{"b":2}]`)
	require.NotNil(t, got)
	arr, ok := got.([]interface{})
	require.True(t, ok)
	assert.Len(t, arr, 2)
}

func TestExtractInteriorQuotes(t *testing.T) {
	got := Extract(`{"content": "she said "hi" to me"}`)
	require.NotNil(t, got)
	assert.Equal(t, `she said "hi" to me`, got["content"])
}

func TestRepairStagesIdempotent(t *testing.T) {
	clean := `{"response":[{"type":"text","content":"a b"}],"n":1}`
	stages := map[string]func(string) string{
		"NormalizeTypography":       NormalizeTypography,
		"StripControlChars":         StripControlChars,
		"InsertMissingCommas":       InsertMissingCommas,
		"QuoteBareKeys":             QuoteBareKeys,
		"RewriteSingleQuotedKeys":   RewriteSingleQuotedKeys,
		"RewriteSingleQuotedValues": RewriteSingleQuotedValues,
		"StripLeadingPlus":          StripLeadingPlus,
		"StripTrailingCommas":       StripTrailingCommas,
		"EscapeInteriorQuotes":      EscapeInteriorQuotes,
	}
	for name, stage := range stages {
		assert.Equal(t, clean, stage(clean), "stage %s modified clean input", name)
	}
}

func TestFindJSONSpan(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"wrapped", `before {"a":1} after`, `{"a":1}`},
		{"nested", `x {"a":{"b":2}} y`, `{"a":{"b":2}}`},
		{"array", `see [1,2,3] there`, `[1,2,3]`},
		{"brace_in_string", `{"a":"}"}`, `{"a":"}"}`},
		{"none", `nothing here`, ``},
		{"truncated_greedy", `{"a": {"b": 1}`, `{"a": {"b": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindJSONSpan(tt.in))
		})
	}
}

func TestDecodeReply(t *testing.T) {
	raw := `{"response":[{"type":"text","content":"hello"}],
		"relationship_adjustment":{"source_char_name":"Bot","target_char_name":"User","score_change":1,"reason":"friendly greeting"}}`
	reply := DecodeReply(raw)
	require.NotNil(t, reply)
	require.Len(t, reply.Actions, 1)
	assert.Equal(t, "text", reply.Actions[0].Type)
	assert.Equal(t, "hello", reply.Actions[0].Str("content"))

	require.Len(t, reply.Deltas, 1)
	assert.Equal(t, "Bot", reply.Deltas[0].Source)
	assert.Equal(t, "User", reply.Deltas[0].Target)
	assert.Equal(t, 1, reply.Deltas[0].Change)
}

func TestDecodeReplyPluralDeltas(t *testing.T) {
	raw := `{"response":[],"relationship_adjustments":[
		{"source_char_name":"A","target_char_name":"B","score_change":"+2"},
		{"source_char_name":"","target_char_name":"B","score_change":5}]}`
	reply := DecodeReply(raw)
	require.NotNil(t, reply)
	// The delta with an empty source is dropped, not fatal.
	require.Len(t, reply.Deltas, 1)
	assert.Equal(t, 2, reply.Deltas[0].Change)
}

func TestDecodeReplyGarbage(t *testing.T) {
	assert.Nil(t, DecodeReply("total nonsense"))
}

func TestDecodeReplySingleActionObject(t *testing.T) {
	reply := DecodeReply(`{"response":{"type":"text","content":"solo"}}`)
	require.NotNil(t, reply)
	require.Len(t, reply.Actions, 1)
	assert.Equal(t, "solo", reply.Actions[0].Str("content"))
}
