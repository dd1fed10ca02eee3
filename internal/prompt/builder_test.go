package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patientsim/internal/types"
)

func TestDetectContext(t *testing.T) {
	b, err := NewBuilder(Options{})
	require.NoError(t, err)

	tests := []struct {
		input string
		want  string
	}{
		{"Do you have a fever?", "symptom_inquiry"},
		{"Hello, good morning", "first_contact"},
		{"Let me check the wound", "physical_assessment"},
		{"等一下要做檢查", "examination"},
		{"Nice day", "general_conversation"},
		{"", "general_conversation"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, b.DetectContext(tt.input))
		})
	}
}

func TestBuild(t *testing.T) {
	b, err := NewBuilder(Options{MaxResponses: 3})
	require.NoError(t, err)

	out, err := b.Build(Request{
		Character: Character{
			Name:      "Mr. Chen",
			Persona:   "quiet retired bus driver",
			Backstory: "two days after knee surgery",
			Goal:      "go home soon",
			Details:   map[string]string{"surgery": "left knee", "allergy": "penicillin"},
		},
		Input: "  Do you have a fever?  ",
		History: []types.Utterance{
			{Speaker: types.SpeakerCaregiver, Text: "Good morning"},
			{Speaker: types.SpeakerPatient, Text: "Morning"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "You are Mr. Chen")
	assert.Contains(t, out, "Current dialogue state: NORMAL")
	assert.Contains(t, out, "Likely situation: symptom_inquiry")
	assert.Contains(t, out, "Caregiver: Good morning\nPatient: Morning")
	assert.Contains(t, out, "Caregiver: Do you have a fever?\n")
	assert.Contains(t, out, "up to 3 short replies")
	assert.Less(t, strings.Index(out, "- allergy: penicillin"), strings.Index(out, "- surgery: left knee"))
}

func TestBuild_NoHistoryOmitsSection(t *testing.T) {
	b, err := NewBuilder(Options{})
	require.NoError(t, err)

	out, err := b.Build(Request{Character: Character{Name: "A"}, State: types.StateConfused, Input: "hi"})
	require.NoError(t, err)
	assert.NotContains(t, out, "Conversation so far")
	assert.NotContains(t, out, "Medical details")
	assert.Contains(t, out, "Current dialogue state: CONFUSED")
}

func TestNewBuilder_CustomFiles(t *testing.T) {
	dir := t.TempDir()
	tmplPath := filepath.Join(dir, "p.tmpl")
	ctxPath := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(tmplPath, []byte("{{.Character.Name}}|{{.Context}}|{{.Input}}"), 0644))
	require.NoError(t, os.WriteFile(ctxPath, []byte("contexts:\n  - label: rounds\n    keywords: [rounds]\n"), 0644))

	b, err := NewBuilder(Options{TemplatePath: tmplPath, ContextsPath: ctxPath})
	require.NoError(t, err)
	assert.Equal(t, []string{"rounds"}, b.Labels())

	out, err := b.Build(Request{Character: Character{Name: "A"}, Input: "morning rounds"})
	require.NoError(t, err)
	assert.Equal(t, "A|rounds|morning rounds", out)

	out, err = b.Build(Request{Character: Character{Name: "A"}, Input: "x"})
	require.NoError(t, err)
	assert.Equal(t, "A|general_conversation|x", out)
}

func TestNewBuilder_Errors(t *testing.T) {
	_, err := NewBuilder(Options{TemplatePath: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.tmpl")
	require.NoError(t, os.WriteFile(bad, []byte("{{.Unclosed"), 0644))
	_, err = NewBuilder(Options{TemplatePath: bad})
	assert.Error(t, err)
}
