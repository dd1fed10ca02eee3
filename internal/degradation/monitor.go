// Package degradation scores each turn's reply set for in-character,
// on-topic behaviour and classifies how far the dialogue has degraded.
//
// Monitor is stateless; the per-session rolling history lives in Window,
// which the session owns. Trend data never feeds back into scoring.
package degradation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"patientsim/internal/consistency"
	"patientsim/internal/logging"
	"patientsim/internal/types"
)

// QualityMetrics is the assessment of one turn. Never mutated after creation.
type QualityMetrics struct {
	Round                  int                   `json:"round"`
	CharacterConsistency   float64               `json:"character_consistency"`
	ResponseRelevance      float64               `json:"response_relevance"`
	ContextAppropriateness float64               `json:"context_appropriateness"`
	ReasoningQuality       float64               `json:"reasoning_quality"`
	SelfIntroduction       bool                  `json:"self_introduction"`
	GenericResponse        bool                  `json:"generic_response"`
	RoleBreak              bool                  `json:"role_break"`
	ContextConfusion       bool                  `json:"context_confusion"`
	ResponseCountNormal    bool                  `json:"response_count_normal"`
	Overall                float64               `json:"overall"`
	Risk                   types.DegradationRisk `json:"risk"`
}

// Indicators names the degradation signals that fired.
func (q QualityMetrics) Indicators() []string {
	var out []string
	if q.SelfIntroduction {
		out = append(out, "self_introduction")
	}
	if q.GenericResponse {
		out = append(out, "generic_response")
	}
	if !q.ResponseCountNormal {
		out = append(out, "abnormal_response_count")
	}
	if q.RoleBreak {
		out = append(out, "role_break")
	}
	if q.ContextConfusion {
		out = append(out, "context_confusion")
	}
	return out
}

// Weights combine the four sub-scores into the base overall score.
type Weights struct {
	CharacterConsistency   float64 `yaml:"character_consistency" json:"character_consistency"`
	ResponseRelevance      float64 `yaml:"response_relevance" json:"response_relevance"`
	ContextAppropriateness float64 `yaml:"context_appropriateness" json:"context_appropriateness"`
	ReasoningQuality       float64 `yaml:"reasoning_quality" json:"reasoning_quality"`
}

// Penalties are fixed deductions from the overall score.
type Penalties struct {
	SelfIntroduction float64 `yaml:"self_introduction" json:"self_introduction"`
	GenericResponse  float64 `yaml:"generic_response" json:"generic_response"`
	AbnormalCount    float64 `yaml:"abnormal_response_count" json:"abnormal_response_count"`
}

// Thresholds map the overall score to a risk level. From CriticalRound on,
// the same score is read one level riskier.
type Thresholds struct {
	Low           float64 `yaml:"low" json:"low"`
	Medium        float64 `yaml:"medium" json:"medium"`
	High          float64 `yaml:"high" json:"high"`
	CriticalRound int     `yaml:"critical_round" json:"critical_round"`
	MinResponses  int     `yaml:"min_responses" json:"min_responses"`
}

// Options holds every tunable of the monitor.
type Options struct {
	Weights    Weights    `yaml:"weights" json:"weights"`
	Penalties  Penalties  `yaml:"penalties" json:"penalties"`
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
}

// DefaultOptions returns the stock heuristic constants.
func DefaultOptions() Options {
	return Options{
		Weights: Weights{
			CharacterConsistency:   0.30,
			ResponseRelevance:      0.25,
			ContextAppropriateness: 0.25,
			ReasoningQuality:       0.20,
		},
		Penalties: Penalties{
			SelfIntroduction: 0.4,
			GenericResponse:  0.3,
			AbnormalCount:    0.2,
		},
		Thresholds: Thresholds{
			Low:           0.8,
			Medium:        0.6,
			High:          0.4,
			CriticalRound: 3,
			MinResponses:  3,
		},
	}
}

// AssessContext is what the monitor may know about the conversation.
type AssessContext struct {
	History       *types.ConversationHistory
	CharacterName string
}

// Monitor scores turns. It holds only configuration.
type Monitor struct {
	opts Options
}

// NewMonitor creates a monitor with the given options.
func NewMonitor(opts Options) *Monitor {
	return &Monitor{opts: opts}
}

// Options returns the tunables in use.
func (m *Monitor) Options() Options { return m.opts }

// Assess scores one turn.
func (m *Monitor) Assess(turn types.TurnResult, round int, ctx AssessContext) QualityMetrics {
	responses := turn.Responses

	q := QualityMetrics{
		Round:               round,
		SelfIntroduction:    anyResponse(responses, consistency.DetectSelfIntroduction),
		GenericResponse:     anyResponse(responses, consistency.DetectGenericResponse),
		RoleBreak:           anyResponse(responses, func(s string) bool { return matchesAny(roleBreakPatterns, s) }),
		ContextConfusion:    matchesAny(contextConfusionPatterns, turn.ContextLabel) || matchesAny(contextConfusionPatterns, turn.Reasoning),
		ResponseCountNormal: len(responses) >= m.opts.Thresholds.MinResponses,
	}

	q.CharacterConsistency = characterConsistency(responses, ctx.CharacterName, turn.Reasoning, q.RoleBreak)
	q.ResponseRelevance = responseRelevance(responses, turn.ContextLabel, ctx.History)
	q.ContextAppropriateness = contextAppropriateness(turn.ContextLabel, round, q.ContextConfusion)
	q.ReasoningQuality = reasoningQuality(turn.Reasoning)

	q.Overall = m.overall(q)
	q.Risk = m.ClassifyRisk(q.Overall, round, q.SelfIntroduction, q.GenericResponse)

	if q.Risk.AtLeast(types.RiskHigh) {
		logging.DegradationWarn("round %d risk %s (overall %.2f, indicators %v)", round, q.Risk, q.Overall, q.Indicators())
	} else {
		logging.Get(logging.CategoryDegradation).Debug("round %d risk %s (overall %.2f)", round, q.Risk, q.Overall)
	}
	return q
}

func (m *Monitor) overall(q QualityMetrics) float64 {
	w := m.opts.Weights
	score := q.CharacterConsistency*w.CharacterConsistency +
		q.ResponseRelevance*w.ResponseRelevance +
		q.ContextAppropriateness*w.ContextAppropriateness +
		q.ReasoningQuality*w.ReasoningQuality

	p := m.opts.Penalties
	if q.SelfIntroduction {
		score -= p.SelfIntroduction
	}
	if q.GenericResponse {
		score -= p.GenericResponse
	}
	if !q.ResponseCountNormal {
		score -= p.AbnormalCount
	}
	return clamp01(score)
}

// ClassifyRisk maps a score to a risk level. Self-introduction or generic
// text is always critical. From the critical round on, the medium and high
// bands each read one level riskier.
func (m *Monitor) ClassifyRisk(overall float64, round int, selfIntro, generic bool) types.DegradationRisk {
	if selfIntro || generic {
		return types.RiskCritical
	}
	t := m.opts.Thresholds
	critical := round >= t.CriticalRound
	switch {
	case overall >= t.Low:
		return types.RiskLow
	case overall >= t.Medium:
		if critical {
			return types.RiskMedium
		}
		return types.RiskLow
	case overall >= t.High:
		if critical {
			return types.RiskHigh
		}
		return types.RiskMedium
	default:
		return types.RiskCritical
	}
}

// =============================================================================
// SCORERS
// =============================================================================

func characterConsistency(responses []string, name, reasoning string, roleBreak bool) float64 {
	if len(responses) == 0 {
		return 0.5
	}
	score := 0.8

	if name != "" {
		intro := introFormFor(name)
		for _, r := range responses {
			if !strings.Contains(r, name) {
				continue
			}
			if intro.MatchString(r) {
				score -= 0.3
			} else {
				score += 0.1
			}
		}
	}

	if containsAny(reasoning, []string{"角色", "character", "role"}) {
		score += 0.1
	}
	for _, r := range responses {
		if containsAny(r, patientIndicators) {
			score += 0.05
		}
	}
	if roleBreak {
		score -= 0.3
	}
	return clamp01(score)
}

// introFormFor matches the speaker naming itself.
func introFormFor(name string) *regexp.Regexp {
	q := regexp.QuoteMeta(name)
	return regexp.MustCompile(`我是.*` + q + `|(?i)\bI(?:'m| am) ` + q + `|(?i)\bmy name is ` + q)
}

func responseRelevance(responses []string, contextLabel string, history *types.ConversationHistory) float64 {
	if len(responses) == 0 {
		return 0
	}
	score := 0.7

	if contextLabel != "" {
		for _, ck := range contextKeywordTable {
			if !containsFold(contextLabel, ck.context) {
				continue
			}
			for _, r := range responses {
				if containsAny(r, ck.keywords) {
					score += 0.1
				}
			}
			break
		}
	}

	for _, r := range responses {
		if containsAny(r, medicalTerms) {
			score += 0.05
		}
	}

	// A reply that picks up the topic of the caregiver's last question.
	if last, ok := history.Last(types.SpeakerCaregiver); ok {
		for _, ck := range contextKeywordTable {
			if !containsAny(last.Text, ck.keywords) {
				continue
			}
			if anyResponse(responses, func(r string) bool { return containsAny(r, ck.keywords) }) {
				score += 0.05
				break
			}
		}
	}
	return clamp01(score)
}

func contextAppropriateness(contextLabel string, round int, confusion bool) float64 {
	score := 0.8
	if containsAny(contextLabel, genericContextLabels) {
		score -= 0.4
	}
	if expected, ok := expectedContexts[round]; ok {
		if contextLabel != "" && containsAny(contextLabel, expected) {
			score += 0.1
		} else {
			score -= 0.2
		}
	}
	if confusion {
		score -= 0.2
	}
	return clamp01(score)
}

func reasoningQuality(reasoning string) float64 {
	if strings.TrimSpace(reasoning) == "" {
		return 0.3
	}
	score := 0.5
	switch n := utf8.RuneCountInString(reasoning); {
	case n > 100:
		score += 0.2
	case n < 30:
		score -= 0.3
	}
	score += 0.05 * float64(countContained(reasoning, reasoningIndicators))
	for _, p := range reasoningPatterns {
		if p.MatchString(reasoning) {
			score += 0.1
		}
	}
	return clamp01(score)
}

func anyResponse(responses []string, pred func(string) bool) bool {
	for _, r := range responses {
		if pred(r) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
