package articulation

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestFindJSONCandidates(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "simple",
			input: `prefix {"key": "value"} suffix`,
			want:  []string{`{"key": "value"}`},
		},
		{
			name:  "nested",
			input: `start {"a": {"b": "c"}} end`,
			want:  []string{`{"a": {"b": "c"}}`},
		},
		{
			name:  "largest_first",
			input: `obj1 {"id": 1} obj2 {"id": 22222}`,
			want:  []string{`{"id": 22222}`, `{"id": 1}`},
		},
		{
			name:  "equal_length_keeps_order",
			input: `{"id": 1} {"id": 2}`,
			want:  []string{`{"id": 1}`, `{"id": 2}`},
		},
		{
			name:  "string_with_braces",
			input: `{"key": "value with } inside"}`,
			want:  []string{`{"key": "value with } inside"}`},
		},
		{
			name:  "escaped_quote",
			input: `{"key": "value with \" inside"}`,
			want:  []string{`{"key": "value with \" inside"}`},
		},
		{
			name:  "incomplete",
			input: `prefix { incomplete`,
			want:  []string{},
		},
		{
			name:  "malformed_braces",
			input: `} { valid } {`,
			want:  []string{`{ valid }`},
		},
		{
			name:  "empty_object",
			input: `{}`,
			want:  []string{`{}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findJSONCandidates(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("findJSONCandidates(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRemoveSpans(t *testing.T) {
	in := `before {"a": 1} middle {"b": 2} after`
	got := removeSpans(in, findJSONSpans(in))
	if strings.Contains(got, "{") || !strings.Contains(got, "middle") || !strings.Contains(got, "after") {
		t.Errorf("removeSpans = %q", got)
	}
}

func TestRepairTruncated(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{
			name:  "open_string_in_array",
			input: `{"responses": ["a", "b`,
			want:  `{"responses": ["a", "b"]}`,
			ok:    true,
		},
		{
			name:  "dangling_comma",
			input: `{"responses": ["a",`,
			want:  `{"responses": ["a"]}`,
			ok:    true,
		},
		{
			name:  "cut_in_later_field",
			input: `{"responses": ["a"], "reasoning": "long thought that got cu`,
			want:  `{"responses": ["a"], "reasoning": "long thought that got cu"}`,
			ok:    true,
		},
		{
			name:  "dangling_key",
			input: `{"responses": ["a"], "reasoning":`,
			want:  `{"responses": ["a"]}`,
			ok:    true,
		},
		{
			name:  "already_complete",
			input: `{"a": 1} trailing`,
			want:  `{"a": 1}`,
			ok:    true,
		},
		{
			name:  "not_an_opener",
			input: `hello`,
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := repairTruncated(tt.input, 0)
			if ok != tt.ok {
				t.Fatalf("repairTruncated(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if !ok {
				return
			}
			if got != tt.want {
				t.Errorf("repairTruncated(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if !json.Valid([]byte(got)) {
				t.Errorf("repaired document is not valid JSON: %q", got)
			}
		})
	}
}

func TestMatchingBracket(t *testing.T) {
	in := `x ['a', "b]", 'c]'] y`
	end := matchingBracket(in, 2)
	if end != strings.LastIndex(in, "]") {
		t.Errorf("matchingBracket = %d, want %d", end, strings.LastIndex(in, "]"))
	}
	if got := matchingBracket(`['open`, 0); got != -1 {
		t.Errorf("unterminated list should return -1, got %d", got)
	}
}

// BenchmarkFindJSONCandidates measures the scanner on a large mixed payload.
func BenchmarkFindJSONCandidates(b *testing.B) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString(`noise noise {"responses": ["I feel a bit warm", "since yesterday"], "confidence": 0.8} `)
	}
	input := sb.String()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		findJSONCandidates(input)
	}
}
