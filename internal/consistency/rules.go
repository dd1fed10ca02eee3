package consistency

import (
	"regexp"
	"strconv"
	"strings"

	"patientsim/internal/types"
)

// Kind classifies a contradiction.
type Kind string

const (
	KindFeverFlip        Kind = "fever_state_flip"
	KindPainFlip         Kind = "pain_state_flip"
	KindTimeline         Kind = "timeline_inconsistency"
	KindSelfIntroduction Kind = "self_introduction"
	KindGenericResponse  Kind = "generic_response"
)

// AllKinds lists every contradiction kind.
var AllKinds = []Kind{KindFeverFlip, KindPainFlip, KindTimeline, KindSelfIntroduction, KindGenericResponse}

// Contradiction is one detected inconsistency. Produced fresh per check.
type Contradiction struct {
	Kind        Kind           `json:"kind"`
	Severity    types.Severity `json:"severity"`
	Description string         `json:"description"`
	Evidence    string         `json:"evidence"`
}

// kindSeverity fixes the severity of every kind.
var kindSeverity = map[Kind]types.Severity{
	KindFeverFlip:        types.SeverityHigh,
	KindPainFlip:         types.SeverityMedium,
	KindTimeline:         types.SeverityMedium,
	KindSelfIntroduction: types.SeverityHigh,
	KindGenericResponse:  types.SeverityMedium,
}

// SeverityOf returns the fixed severity for a kind.
func SeverityOf(kind Kind) types.Severity {
	if s, ok := kindSeverity[kind]; ok {
		return s
	}
	return types.SeverityLow
}

var flipKinds = map[FactKey]Kind{
	FactFever: KindFeverFlip,
	FactPain:  KindPainFlip,
}

// Weights are the score penalties per kind.
type Weights map[Kind]float64

// DefaultWeights returns the stock penalty table.
func DefaultWeights() Weights {
	return Weights{
		KindTimeline:         0.25,
		KindFeverFlip:        0.25,
		KindPainFlip:         0.15,
		KindSelfIntroduction: 0.25,
		KindGenericResponse:  0.10,
	}
}

// Timeline conflict bands: an onset claimed "today" or later against one
// claimed "yesterday".
const (
	recentOnsetMin   = 0.9
	yesterdayBandMin = 0.55
	yesterdayBandMax = 0.65
)

// =============================================================================
// LEAKAGE RULES
// =============================================================================

// leakageRule matches out-of-character phrasing in a reply candidate.
// When reject is set, a match whose first capture group (lowercased) is in
// reject is ignored; rejectPrefix does the same for captures starting with
// any listed prefix.
type leakageRule struct {
	kind         Kind
	pattern      *regexp.Regexp
	reject       map[string]bool
	rejectPrefix []string
}

// Capitalized words that follow "I'm" without being a name.
var notNames = wordSet("Sorry", "Fine", "Okay", "Ok", "Not", "Just", "So", "Still", "Really", "Very",
	"Feeling", "Having", "Here", "Afraid", "Worried", "Tired", "Good", "Better", "Worse", "Sure", "Glad", "Home")

// Openings of "我是..." clauses that carry a statement rather than a name.
var notNamesZh = []string{
	"說", "说", "覺得", "觉得", "不是", "真的", "有點", "有点", "很", "太", "在", "想", "怕",
	"因為", "因为", "今天", "昨天", "剛", "刚", "擔心", "担心", "還", "还", "也", "都", "比較", "比较", "不",
}

var leakageRules = []leakageRule{
	// Self-introduction: the patient presenting itself as if meeting for the first time.
	{kind: KindSelfIntroduction, pattern: regexp.MustCompile(`\bI(?:'m| am) (Patient[_ ]?\w*|[A-Z][a-z]+)\b`), reject: notNames},
	{kind: KindSelfIntroduction, pattern: regexp.MustCompile(`(?i)\bmy name is\b`)},
	{kind: KindSelfIntroduction, pattern: regexp.MustCompile(`(?i)\b(?:let me introduce myself|allow me to introduce myself)\b`)},
	{kind: KindSelfIntroduction, pattern: regexp.MustCompile(`我是\s*Patient`)},
	{kind: KindSelfIntroduction, pattern: regexp.MustCompile(`(?:您好|你好)[，,！!\s]*我是`)},
	{kind: KindSelfIntroduction, pattern: regexp.MustCompile(`我叫\S|我的名字是`)},
	{kind: KindSelfIntroduction, pattern: regexp.MustCompile(`我是([\p{Han}A-Za-z0-9_]{2,4})[，,。]`), rejectPrefix: notNamesZh},
	{kind: KindSelfIntroduction, pattern: regexp.MustCompile(`我是[^。！？!?]*(?:病患|病人)`)},

	// Generic fallback: template text the model produces when it loses the thread.
	{kind: KindGenericResponse, pattern: regexp.MustCompile(`(?i)\bI may not have (?:fully )?understood\b`)},
	{kind: KindGenericResponse, pattern: regexp.MustCompile(`(?i)\bcould you (?:please )?(?:rephrase|say that another way|explain (?:that )?(?:differently|another way))`)},
	{kind: KindGenericResponse, pattern: regexp.MustCompile(`(?i)\bhow (?:can|may) I (?:help|assist) you\b`)},
	{kind: KindGenericResponse, pattern: regexp.MustCompile(`(?i)\bI(?:'m| am) (?:sorry,? )?(?:not sure what you mean|unable to understand)`)},
	{kind: KindGenericResponse, pattern: regexp.MustCompile(`我可能沒有完全理解|我可能没有完全理解`)},
	{kind: KindGenericResponse, pattern: regexp.MustCompile(`能請您換個方式說明|能请您换个方式说明`)},
	{kind: KindGenericResponse, pattern: regexp.MustCompile(`您需要什麼幫助|您需要什么帮助`)},
	{kind: KindGenericResponse, pattern: regexp.MustCompile(`抱歉.*(?:沒法|没法|無法|无法).*理解`)},
	{kind: KindGenericResponse, pattern: regexp.MustCompile(`我理解您想了解`)},
}

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = true
	}
	return m
}

// matchLeak returns the matched evidence for the first rule of kind that
// fires on text, or "".
func matchLeak(kind Kind, text string) string {
	text = normalizeApostrophes(text)
	for _, r := range leakageRules {
		if r.kind != kind {
			continue
		}
		for _, m := range r.pattern.FindAllStringSubmatch(text, -1) {
			if r.reject != nil && len(m) > 1 && r.reject[strings.ToLower(m[1])] {
				continue
			}
			if len(m) > 1 && hasAnyPrefix(m[1], r.rejectPrefix) {
				continue
			}
			return m[0]
		}
	}
	return ""
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// DetectSelfIntroduction reports whether text introduces the speaker.
func DetectSelfIntroduction(text string) bool {
	return matchLeak(KindSelfIntroduction, text) != ""
}

// DetectGenericResponse reports whether text is template fallback phrasing.
func DetectGenericResponse(text string) bool {
	return matchLeak(KindGenericResponse, text) != ""
}

// IsLeaky reports whether a single candidate trips any leakage rule.
func IsLeaky(text string) bool {
	return DetectSelfIntroduction(text) || DetectGenericResponse(text)
}

// detectLeakage yields at most one contradiction per leakage kind,
// however many candidates match.
func detectLeakage(responses []string) []Contradiction {
	var out []Contradiction
	for _, kind := range []Kind{KindSelfIntroduction, KindGenericResponse} {
		for i, r := range responses {
			if ev := matchLeak(kind, r); ev != "" {
				out = append(out, Contradiction{
					Kind:        kind,
					Severity:    kindSeverity[kind],
					Description: leakDescription(kind, i),
					Evidence:    ev,
				})
				break
			}
		}
	}
	return out
}

func leakDescription(kind Kind, index int) string {
	switch kind {
	case KindSelfIntroduction:
		return "candidate " + strconv.Itoa(index) + " introduces the speaker"
	default:
		return "candidate " + strconv.Itoa(index) + " is template fallback text"
	}
}
