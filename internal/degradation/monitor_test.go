package degradation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patientsim/internal/types"
)

func turn(contextLabel, reasoning string, responses ...string) types.TurnResult {
	return types.TurnResult{
		Reasoning:           reasoning,
		ClassificationLabel: "unspecified",
		Confidence:          0.9,
		Responses:           responses,
		State:               types.StateNormal,
		ContextLabel:        contextLabel,
	}
}

func TestAssess_SelfIntroductionIsCritical(t *testing.T) {
	m := NewMonitor(DefaultOptions())
	q := m.Assess(turn("ward_round", "The patient character is recovering after surgery and considering the condition.",
		"Hello, I'm John, nice to meet you",
		"The doctor said my wound is fine",
		"My condition is better today",
	), 1, AssessContext{})

	assert.True(t, q.SelfIntroduction)
	assert.Equal(t, types.RiskCritical, q.Risk)
	assert.Contains(t, q.Indicators(), "self_introduction")
}

func TestAssess_GenericIsCritical(t *testing.T) {
	m := NewMonitor(DefaultOptions())
	q := m.Assess(turn("", "", "How can I help you today?", "Okay", "Sure"), 1, AssessContext{})

	assert.True(t, q.GenericResponse)
	assert.Equal(t, types.RiskCritical, q.Risk)
}

func TestAssess_InCharacterTurnIsLow(t *testing.T) {
	m := NewMonitor(DefaultOptions())
	reasoning := "The patient character is two days after surgery; considering the condition and based on the history, " +
		"the reply should mention the doctor's round."
	q := m.Assess(turn("ward_round", reasoning,
		"The doctor came by this morning, my wound feels better",
		"I think the surgery went fine, doctor",
		"My condition is okay, just a little pain",
	), 1, AssessContext{})

	assert.InDelta(t, 1.0, q.CharacterConsistency, 1e-9)
	assert.InDelta(t, 1.0, q.ResponseRelevance, 1e-9)
	assert.InDelta(t, 0.9, q.ContextAppropriateness, 1e-9)
	assert.InDelta(t, 1.0, q.ReasoningQuality, 1e-9)
	assert.InDelta(t, 0.975, q.Overall, 1e-9)
	assert.Equal(t, types.RiskLow, q.Risk)
	assert.Empty(t, q.Indicators())
}

func TestAssess_FewResponsesPenalty(t *testing.T) {
	m := NewMonitor(DefaultOptions())

	full := m.Assess(turn("", "", "Okay", "Sure", "Alright"), 10, AssessContext{})
	short := m.Assess(turn("", "", "Okay", "Sure"), 10, AssessContext{})

	assert.InDelta(t, 0.675, full.Overall, 1e-9)
	assert.InDelta(t, 0.475, short.Overall, 1e-9)
	assert.True(t, full.ResponseCountNormal)
	assert.False(t, short.ResponseCountNormal)
	assert.Contains(t, short.Indicators(), "abnormal_response_count")
	assert.Equal(t, types.RiskMedium, full.Risk)
	assert.Equal(t, types.RiskHigh, short.Risk)
}

func TestAssess_RoleBreak(t *testing.T) {
	m := NewMonitor(DefaultOptions())
	q := m.Assess(turn("", "", "As an AI assistant, I cannot feel pain", "Okay", "Sure"), 10, AssessContext{})

	assert.True(t, q.RoleBreak)
	assert.InDelta(t, 0.5, q.CharacterConsistency, 1e-9)
	assert.Contains(t, q.Indicators(), "role_break")
}

func TestAssess_CharacterName(t *testing.T) {
	m := NewMonitor(DefaultOptions())
	ctx := AssessContext{CharacterName: "阿明"}

	intro := m.Assess(turn("", "", "我是病人阿明", "好", "嗯"), 10, ctx)
	mention := m.Assess(turn("", "", "阿明今天覺得還好", "好", "嗯"), 10, ctx)

	assert.Less(t, intro.CharacterConsistency, mention.CharacterConsistency)
	assert.InDelta(t, 0.5, intro.CharacterConsistency, 1e-9)
	assert.InDelta(t, 0.9, mention.CharacterConsistency, 1e-9)
}

func TestAssess_GenericContextLabel(t *testing.T) {
	m := NewMonitor(DefaultOptions())
	q := m.Assess(turn("一般問診對話", "", "好", "嗯", "對"), 2, AssessContext{})

	// -0.4 for the catch-all label, -0.2 for missing the round's expected context.
	assert.InDelta(t, 0.2, q.ContextAppropriateness, 1e-9)
}

func TestAssess_NoResponses(t *testing.T) {
	m := NewMonitor(DefaultOptions())
	q := m.Assess(turn("", ""), 1, AssessContext{})

	assert.Equal(t, 0.5, q.CharacterConsistency)
	assert.Equal(t, 0.0, q.ResponseRelevance)
	assert.False(t, q.ResponseCountNormal)
}

func TestAssess_FollowsCaregiverTopic(t *testing.T) {
	m := NewMonitor(DefaultOptions())
	h := types.HistoryFrom(types.DefaultHistoryWindow,
		types.Utterance{Speaker: types.SpeakerCaregiver, Text: "Do you have a fever?"})

	with := m.Assess(turn("", "", "I feel hot", "Okay", "Sure"), 10, AssessContext{History: h})
	without := m.Assess(turn("", "", "I feel hot", "Okay", "Sure"), 10, AssessContext{})

	assert.InDelta(t, 0.05, with.ResponseRelevance-without.ResponseRelevance, 1e-9)
}

func TestClassifyRisk_CriticalRoundRaisesRisk(t *testing.T) {
	m := NewMonitor(DefaultOptions())

	tests := []struct {
		overall float64
		early   types.DegradationRisk
		late    types.DegradationRisk
	}{
		{0.85, types.RiskLow, types.RiskLow},
		{0.65, types.RiskLow, types.RiskMedium},
		{0.50, types.RiskMedium, types.RiskHigh},
		{0.30, types.RiskCritical, types.RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.early, m.ClassifyRisk(tt.overall, 1, false, false), "round 1, %.2f", tt.overall)
		assert.Equal(t, tt.late, m.ClassifyRisk(tt.overall, 4, false, false), "round 4, %.2f", tt.overall)
		require.True(t, tt.late.AtLeast(tt.early))
	}
	assert.Equal(t, types.RiskCritical, m.ClassifyRisk(0.99, 1, true, false))
	assert.Equal(t, types.RiskCritical, m.ClassifyRisk(0.99, 1, false, true))
}

func TestReasoningQuality(t *testing.T) {
	assert.Equal(t, 0.3, reasoningQuality("  "))
	assert.InDelta(t, 0.2, reasoningQuality("short"), 1e-9)
	assert.InDelta(t, 0.25, reasoningQuality("patient is fine"), 1e-9)
}
