package consistency

import (
	"fmt"
	"strings"

	"patientsim/internal/logging"
	"patientsim/internal/types"
)

// Result is the outcome of one consistency check.
type Result struct {
	Score          float64         `json:"score"`
	Contradictions []Contradiction `json:"contradictions"`
	Severity       types.Severity  `json:"severity"`
	Previous       MedicalFacts    `json:"previous_facts,omitempty"`
	Current        MedicalFacts    `json:"current_facts,omitempty"`
	Ambiguous      []FactKey       `json:"ambiguous,omitempty"`
	Timeline       []TimelineEvent `json:"timeline,omitempty"`
}

// HasContradictions reports whether anything was found.
func (r Result) HasContradictions() bool {
	return len(r.Contradictions) > 0
}

// Has reports whether a contradiction of kind is present.
func (r Result) Has(kind Kind) bool {
	for _, c := range r.Contradictions {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// Kinds lists the contradiction kinds found, in detection order.
func (r Result) Kinds() []string {
	out := make([]string, 0, len(r.Contradictions))
	for _, c := range r.Contradictions {
		out = append(out, string(c.Kind))
	}
	return out
}

// Summary is the slice of the result carried on a TurnResult.
func (r Result) Summary() *types.ConsistencySummary {
	return &types.ConsistencySummary{
		Score:               r.Score,
		ContradictionsCount: len(r.Contradictions),
		Severity:            r.Severity,
		Kinds:               r.Kinds(),
	}
}

// Checker compares a new reply set against the conversation so far.
// It holds only configuration and is safe for concurrent use.
type Checker struct {
	weights Weights
}

// NewChecker creates a checker. Missing kinds fall back to the default
// weight; negative weights are treated as zero so adding a contradiction
// can never raise the score.
func NewChecker(weights Weights) *Checker {
	w := DefaultWeights()
	for k, v := range weights {
		if v < 0 {
			v = 0
		}
		w[k] = v
	}
	return &Checker{weights: w}
}

// Weights returns a copy of the penalty table in use.
func (c *Checker) Weights() Weights {
	out := make(Weights, len(c.weights))
	for k, v := range c.weights {
		out[k] = v
	}
	return out
}

// Check runs fact-flip, timeline and leakage detection. The reference is
// the most recent patient line in history; facts come from it and from the
// primary (first) candidate, while leakage is scanned on every candidate.
func (c *Checker) Check(responses []string, history *types.ConversationHistory) Result {
	var previousText, primary string
	if last, ok := history.Last(types.SpeakerPatient); ok {
		previousText = last.Text
	}
	if len(responses) > 0 {
		primary = responses[0]
	}

	prev := ExtractFactsDetailed(previousText)
	cur := ExtractFactsDetailed(primary)

	found := make([]Contradiction, 0, 4)
	found = append(found, CompareFacts(prev.Facts, cur.Facts)...)

	timeline := append(ExtractTimeline(previousText), ExtractTimeline(primary)...)
	if tc, ok := timelineConflict(timeline); ok {
		found = append(found, tc)
	}

	found = append(found, detectLeakage(responses)...)

	res := Result{
		Score:          Score(found, c.weights),
		Contradictions: found,
		Severity:       AggregateSeverity(found),
		Previous:       prev.Facts,
		Current:        cur.Facts,
		Ambiguous:      cur.Ambiguous,
		Timeline:       timeline,
	}

	for _, ct := range found {
		logging.ConsistencyDebug("contradiction %s (%s): %s [%s]", ct.Kind, ct.Severity, ct.Description, ct.Evidence)
	}
	return res
}

// CandidateConflicts lists what a single candidate contradicts or leaks,
// measured against the previous patient line alone.
func CandidateConflicts(candidate, previous string) []Contradiction {
	out := CompareFacts(ExtractFacts(previous), ExtractFacts(candidate))
	if tc, ok := timelineConflict(append(ExtractTimeline(previous), ExtractTimeline(candidate)...)); ok {
		out = append(out, tc)
	}
	return append(out, detectLeakage([]string{candidate})...)
}

// timelineConflict fires when onset claims land in both the recent band
// and the yesterday band.
func timelineConflict(events []TimelineEvent) (Contradiction, bool) {
	onsets := Onsets(events)
	if len(onsets) < 2 {
		return Contradiction{}, false
	}
	var recent, yesterday []string
	for _, e := range onsets {
		switch {
		case e.Recency >= recentOnsetMin:
			recent = append(recent, e.Phrase)
		case e.Recency >= yesterdayBandMin && e.Recency <= yesterdayBandMax:
			yesterday = append(yesterday, e.Phrase)
		}
	}
	if len(recent) == 0 || len(yesterday) == 0 {
		return Contradiction{}, false
	}
	return Contradiction{
		Kind:        KindTimeline,
		Severity:    kindSeverity[KindTimeline],
		Description: fmt.Sprintf("symptom onset given as both %q and %q", recent[0], yesterday[0]),
		Evidence:    strings.Join(append(recent, yesterday...), ", "),
	}, true
}

// Score computes 1 - min(1, sum of weights), floored at 0. Unknown kinds
// cost nothing.
func Score(contradictions []Contradiction, weights Weights) float64 {
	var penalty float64
	for _, c := range contradictions {
		if w := weights[c.Kind]; w > 0 {
			penalty += w
		}
	}
	if penalty > 1 {
		penalty = 1
	}
	score := 1 - penalty
	if score < 0 {
		score = 0
	}
	return score
}

// AggregateSeverity is the highest severity present, or low when empty.
func AggregateSeverity(contradictions []Contradiction) types.Severity {
	out := types.SeverityLow
	for _, c := range contradictions {
		if c.Severity.Rank() > out.Rank() {
			out = c.Severity
		}
	}
	return out
}
