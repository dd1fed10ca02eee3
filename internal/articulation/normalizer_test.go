package articulation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patientsim/internal/types"
)

func TestNormalize_Strict(t *testing.T) {
	n := NewNormalizer(DefaultOptions())
	raw := `{"reasoning": "patient stays on topic", "classification_label": "NORMAL",
	  "confidence": 0.8, "responses": ["I feel warm", "Since this morning", "A little dizzy"],
	  "dialogue_context": "fever_inquiry"}`

	res, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, ParseStrict, res.Method)
	assert.Equal(t, []string{"I feel warm", "Since this morning", "A little dizzy"}, res.Turn.Responses)
	assert.Equal(t, "patient stays on topic", res.Turn.Reasoning)
	assert.Equal(t, "NORMAL", res.Turn.ClassificationLabel)
	assert.InDelta(t, 0.8, res.Turn.Confidence, 1e-9)
	assert.Equal(t, "fever_inquiry", res.Turn.ContextLabel)
	assert.Equal(t, types.StateNormal, res.Turn.State)
	assert.Equal(t, "strict", res.Turn.ParseMethod)
}

func TestNormalize_FencedWithTrailingGarbage(t *testing.T) {
	n := NewNormalizer(DefaultOptions())
	raw := "```json\n{\"responses\": [\"ok\"]}\n```\nsome trailing garbage }{ ]"

	res, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"ok"}, res.Turn.Responses)
	// Absent fields carry the documented defaults.
	assert.Equal(t, "", res.Turn.Reasoning)
	assert.Equal(t, "unspecified", res.Turn.ClassificationLabel)
	assert.InDelta(t, 0.9, res.Turn.Confidence, 1e-9)
	assert.Equal(t, types.StateNormal, res.Turn.State)
	assert.Contains(t, res.Warnings, "markdown fence stripped")
}

func TestNormalize_UnclosedFence(t *testing.T) {
	n := NewNormalizer(DefaultOptions())
	res, err := n.Normalize("```json\n{\"responses\": [\"still here\"]}")
	require.NoError(t, err)
	assert.Equal(t, []string{"still here"}, res.Turn.Responses)
}

func TestNormalize_EmbeddedObject(t *testing.T) {
	n := NewNormalizer(DefaultOptions())
	raw := `Sure! Here is the JSON: {"responses": ["I'm not sure"], "state": "confused"} hope it helps`

	res, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, ParseSalvagedBraces, res.Method)
	assert.Equal(t, []string{"I'm not sure"}, res.Turn.Responses)
	// Label falls back to the state field.
	assert.Equal(t, "confused", res.Turn.ClassificationLabel)
	assert.Equal(t, types.StateConfused, res.Turn.State)
}

func TestNormalize_TruncatedObject(t *testing.T) {
	n := NewNormalizer(DefaultOptions())
	raw := `{"reasoning": "cut off", "confidence": "0.7", "responses": ["one", "two", "thr`

	res, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, ParseSalvagedBraces, res.Method)
	assert.Equal(t, []string{"one", "two", "thr"}, res.Turn.Responses)
	assert.Equal(t, "cut off", res.Turn.Reasoning)
	assert.InDelta(t, 0.7, res.Turn.Confidence, 1e-9)
	assert.Contains(t, res.Warnings, "truncated JSON repaired")
}

func TestNormalize_FragmentFromErrorText(t *testing.T) {
	n := NewNormalizer(DefaultOptions())
	raw := `ValueError: malformed node at line 3: 'responses': ['I feel hot', 'Since yesterday'], 'classification_label': 'NORMAL' }`

	res, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, ParseSalvagedBraces, res.Method)
	assert.Equal(t, []string{"I feel hot", "Since yesterday"}, res.Turn.Responses)
	assert.Equal(t, "NORMAL", res.Turn.ClassificationLabel)
}

func TestNormalize_FlattensEncodedArrays(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"json_string_inside_array", `{"responses": ["[\"a\", \"b\"]"]}`, []string{"a", "b"}},
		{"python_repr_string", `{"responses": "['x', 'y']"}`, []string{"x", "y"}},
		{"nested_arrays", `{"responses": [["a", "b"], ["c"]]}`, []string{"a", "b", "c"}},
		{"single_string", `{"responses": "just one"}`, []string{"just one"}},
		{"objects_and_numbers", `{"responses": [{"text": "a"}, {"response": "b"}, 3]}`, []string{"a", "b", "3"}},
		{"alias_key", `{"replies": ["r1", "  ", "r2"]}`, []string{"r1", "r2"}},
		{"bare_array", `["p", "q"]`, []string{"p", "q"}},
	}

	n := NewNormalizer(DefaultOptions())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := n.Normalize(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Turn.Responses)
		})
	}
}

func TestNormalize_TruncatesToFive(t *testing.T) {
	n := NewNormalizer(DefaultOptions())
	res, err := n.Normalize(`{"responses": ["1", "2", "3", "4", "5", "6", "7"]}`)
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, res.Turn.Responses)
	assert.Contains(t, strings.Join(res.Warnings, "|"), "responses truncated from 7 to 5")
}

func TestNormalize_ListSalvage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "numbered_with_preamble",
			raw:  "Here are my replies:\n1. I feel fine.\n2. A bit tired.\n3) Not really",
			want: []string{"I feel fine.", "A bit tired.", "Not really"},
		},
		{
			name: "bullets",
			raw:  "- yes\n- no",
			want: []string{"yes", "no"},
		},
		{
			name: "chinese_numbering",
			raw:  "1、我還是有點發燒\n2、從昨天開始的",
			want: []string{"我還是有點發燒", "從昨天開始的"},
		},
		{
			name: "paragraphs",
			raw:  "I feel okay today.\n\nMaybe a little tired.",
			want: []string{"I feel okay today.", "Maybe a little tired."},
		},
		{
			name: "plain_line",
			raw:  "I'm fine, thanks.",
			want: []string{"I'm fine, thanks."},
		},
		{
			name: "broken_array_lines",
			raw:  "\"reasoning\": \"oops\",\n\"I have a headache\",\n\"It started today\",",
			want: []string{"I have a headache", "It started today"},
		},
	}

	n := NewNormalizer(DefaultOptions())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := n.Normalize(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, ParseSalvagedList, res.Method)
			assert.Equal(t, tt.want, res.Turn.Responses)
		})
	}
}

func TestNormalize_Unparseable(t *testing.T) {
	inputs := []string{
		"",
		"   \n\t ",
		"\uFEFF",
		"```json\n```",
		`{"reasoning": "only reasoning, no replies"}`,
		"{}[],,,",
	}

	n := NewNormalizer(DefaultOptions())
	for _, raw := range inputs {
		res, err := n.Normalize(raw)
		assert.Nil(t, res, "input %q", raw)
		require.Error(t, err, "input %q", raw)
		assert.True(t, errors.Is(err, ErrUnparseable), "input %q: %v", raw, err)
	}
}

func TestNormalize_ErrorTextIsNotAReply(t *testing.T) {
	inputs := []string{
		"Error: 503 Service Unavailable",
		"HTTP/1.1 429 Too Many Requests\nRetry-After: 20",
		"Traceback (most recent call last):\n  File \"gen.py\", line 3",
		"openai.RateLimitError: rate limit reached for requests",
		"upstream returned 502 Bad Gateway",
	}

	n := NewNormalizer(DefaultOptions())
	for _, raw := range inputs {
		res, err := n.Normalize(raw)
		assert.Nil(t, res, "input %q", raw)
		require.Error(t, err, "input %q", raw)
		assert.True(t, errors.Is(err, ErrUnparseable), "input %q: %v", raw, err)
	}
	assert.Equal(t, int64(len(inputs)), n.Stats().Failed)

	// A recoverable responses fragment inside error text still wins.
	res, err := n.Normalize(`Error: bad token near 'responses': ['I feel hot'] }`)
	require.NoError(t, err)
	assert.Equal(t, []string{"I feel hot"}, res.Turn.Responses)
}

func TestNormalize_StripsInvisibleCharacters(t *testing.T) {
	n := NewNormalizer(DefaultOptions())
	res, err := n.Normalize("\uFEFF{\"responses\": [\"a\u200b\", \"b\x07\"]}")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Turn.Responses)
	assert.Equal(t, ParseStrict, res.Method)
}

func TestNormalize_Confidence(t *testing.T) {
	tests := map[string]float64{
		`{"responses": ["a"], "confidence": "85%"}`: 0.85,
		`{"responses": ["a"], "confidence": 1.5}`:   1.0,
		`{"responses": ["a"], "confidence": -2}`:    0.0,
		`{"responses": ["a"], "confidence": "abc"}`: 0.9,
	}
	n := NewNormalizer(DefaultOptions())
	for raw, want := range tests {
		res, err := n.Normalize(raw)
		require.NoError(t, err)
		assert.InDelta(t, want, res.Turn.Confidence, 1e-9, raw)
	}
}

// Every input either yields 1..5 candidates or fails with ErrUnparseable.
func TestNormalize_BoundedOutput(t *testing.T) {
	inputs := []string{
		`{"responses": []}`,
		`{"responses": ["` + strings.Repeat("x", 10) + `"]}`,
		`[[[["deep"]]]]`,
		"1.\n2.\n3.",
		"```\nnot json at all\n```",
		`{"responses": ["a","b","c","d","e","f","g","h"]`,
		"{\"responses\": [\"\", \"\", \"\"]}",
		strings.Repeat("- item\n", 20),
		`'responses': ['unterminated`,
	}
	n := NewNormalizer(DefaultOptions())
	for _, raw := range inputs {
		res, err := n.Normalize(raw)
		if err != nil {
			assert.ErrorIs(t, err, ErrUnparseable, raw)
			continue
		}
		assert.GreaterOrEqual(t, len(res.Turn.Responses), types.MinResponses, raw)
		assert.LessOrEqual(t, len(res.Turn.Responses), types.MaxResponses, raw)
	}
}

func TestNormalizer_Stats(t *testing.T) {
	n := NewNormalizer(Options{})
	_, _ = n.Normalize(`{"responses": ["a"]}`)
	_, _ = n.Normalize(`prefix {"responses": ["a"]} suffix`)
	_, _ = n.Normalize("- a\n- b")
	_, _ = n.Normalize("")

	assert.Equal(t, Stats{Total: 4, Strict: 1, SalvagedBraces: 1, SalvagedList: 1, Failed: 1}, n.Stats())

	n.ResetStats()
	assert.Equal(t, Stats{}, n.Stats())
}

func TestNewNormalizer_ClampsOptions(t *testing.T) {
	n := NewNormalizer(Options{MaxResponses: 2, DefaultConfidence: 5})
	res, err := n.Normalize(`["a", "b", "c"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Turn.Responses)
	assert.InDelta(t, types.DefaultConfidence, res.Turn.Confidence, 1e-9)
}
