package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patientsim/internal/consistency"
	"patientsim/internal/types"
)

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		input string
		want  Intent
	}{
		{"How are you feeling today?", IntentFeeling},
		{"你今天感覺怎麼樣？", IntentFeeling},
		{"Do you have a fever?", IntentFever},
		{"有沒有發燒或不舒服？", IntentFever},
		{"Any other symptoms?", IntentSymptom},
		{"還有什麼症狀嗎？", IntentSymptom},
		{"We need a blood test this afternoon", IntentExam},
		{"等一下要做檢查", IntentExam},
		{"Good morning", IntentGeneric},
		{"   ", IntentGeneric},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyIntent(tt.input), tt.input)
	}
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, LangChinese, DetectLanguage("Hi 你好"))
	assert.Equal(t, LangEnglish, DetectLanguage("Hello"))
	assert.Equal(t, LangEnglish, DetectLanguage(""))
}

func TestRecover_AlwaysFiveTopicMatched(t *testing.T) {
	e := NewEngine(Options{})
	banks := DefaultBanks()

	got := e.Recover("Do you have a fever?", Trigger{Kind: TriggerDegradation, Risk: types.RiskCritical})
	require.Len(t, got, CandidateCount)
	assert.Equal(t, banks[LangEnglish][IntentFever], got)

	got = e.Recover("等一下要做檢查", Trigger{Kind: TriggerDegradation, Risk: types.RiskCritical})
	require.Len(t, got, CandidateCount)
	assert.Equal(t, banks[LangChinese][IntentExam], got)
}

func TestRecover_UnparseableForcesGeneric(t *testing.T) {
	e := NewEngine(Options{})
	got := e.Recover("Do you have a fever?", Trigger{Kind: TriggerUnparseable, Detail: "no candidates"})
	assert.Equal(t, DefaultBanks()[LangEnglish][IntentGeneric], got)

	got = e.Recover("", Trigger{Kind: TriggerDegradation})
	assert.Equal(t, DefaultBanks()[LangEnglish][IntentGeneric], got)
}

func TestRecover_SkipsRejected(t *testing.T) {
	e := NewEngine(Options{})
	bank := DefaultBanks()[LangEnglish][IntentExam]

	got := e.Recover("Is the scan ready?", Trigger{Kind: TriggerDegradation}, bank[0], "  "+bank[2]+" ")
	require.Len(t, got, CandidateCount)
	assert.NotContains(t, got, bank[0])
	assert.NotContains(t, got, bank[2])
	assert.Equal(t, bank[1], got[0])
}

// Recovered lines must never themselves leak or assert a symptom state.
func TestDefaultBanks_AreSafe(t *testing.T) {
	for lang, buckets := range DefaultBanks() {
		for intent, replies := range buckets {
			for _, r := range replies {
				assert.False(t, consistency.IsLeaky(r), "%s/%s: %q", lang, intent, r)
				assert.Empty(t, consistency.ExtractFacts(r), "%s/%s: %q", lang, intent, r)
				assert.Empty(t, consistency.Onsets(consistency.ExtractTimeline(r)), "%s/%s: %q", lang, intent, r)
			}
		}
	}
}

func TestRepair(t *testing.T) {
	e := NewEngine(Options{})

	kept, dropped, ok := e.Repair([]string{
		"I'm John, nice to meet you",
		"I have a fever now",
		"It's still the same as before",
		"How can I help you?",
	}, "I don't have a fever")

	require.True(t, ok)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, []string{"It's still the same as before"}, kept)

	_, _, ok = e.Repair([]string{"My name is John"}, "")
	assert.False(t, ok)
}

func TestResetPlan(t *testing.T) {
	e := NewEngine(Options{})
	plan := e.ResetPlan("degradation risk critical")
	assert.Equal(t, DefaultResetKeep, plan.KeepLast)

	h := types.NewConversationHistory(20)
	for i := 0; i < 10; i++ {
		h.Append(types.Utterance{Speaker: types.SpeakerCaregiver, Text: "q"})
	}
	plan.Apply(h)
	assert.Equal(t, 4, h.Len())

	assert.Equal(t, 2, NewEngine(Options{ResetKeep: 2}).ResetPlan("").KeepLast)
}

func TestParseBanks_Validation(t *testing.T) {
	_, err := ParseBanks([]byte("zh:\n  generic: [a, b, c, d, e]\n"))
	require.Error(t, err)

	_, err = ParseBanks([]byte("en:\n  generic: [a, b]\n"))
	require.Error(t, err)

	_, err = ParseBanks([]byte("en: [not, a, map"))
	require.Error(t, err)
}

func TestLoadBanksFile(t *testing.T) {
	doc := "en:\n"
	for _, intent := range AllIntents {
		doc += "  " + string(intent) + ": [one, two, three, four, five]\n"
	}
	path := filepath.Join(t.TempDir(), "banks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	banks, err := LoadBanksFile(path)
	require.NoError(t, err)

	e := NewEngine(Options{Banks: banks})
	assert.Equal(t, []string{"one", "two", "three", "four", "five"}, e.Recover("你好", Trigger{Kind: TriggerDegradation}))

	_, err = LoadBanksFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTrigger_Reason(t *testing.T) {
	res := consistency.NewChecker(nil).Check([]string{"I'm John"}, nil)
	assert.Equal(t, "degradation risk critical", Trigger{Kind: TriggerDegradation, Risk: types.RiskCritical}.Reason())
	assert.Equal(t, "consistency severity high (self_introduction)", Trigger{Kind: TriggerConsistency, Consistency: &res}.Reason())
	assert.Equal(t, "unparseable: empty", Trigger{Kind: TriggerUnparseable, Detail: "empty"}.Reason())
}
