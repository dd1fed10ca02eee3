// Package consistency extracts medical facts and timeline phrases from
// patient lines and detects contradictions between a new reply set and
// what the patient already said.
//
// All rules are data tables of patterns; every function here is pure.
package consistency

import (
	"regexp"
	"sort"
	"strings"
)

// FactKey names a binary medical-state fact.
type FactKey string

const (
	FactFever FactKey = "fever"
	FactPain  FactKey = "pain"
)

// FactKeys lists every tracked fact in a stable order.
var FactKeys = []FactKey{FactFever, FactPain}

// MedicalFacts maps a fact to its known value. A missing key is unknown.
type MedicalFacts map[FactKey]bool

// Get returns the value and whether it is known.
func (m MedicalFacts) Get(key FactKey) (value, known bool) {
	value, known = m[key]
	return value, known
}

// Extraction is a fact snapshot plus the keys that were mentioned only in
// questions or hedged sentences and were therefore left unknown.
type Extraction struct {
	Facts     MedicalFacts
	Ambiguous []FactKey
}

// factRule holds the pattern sets for one fact. Negative patterns are
// always tested before positive ones: a negated phrase also contains the
// positive keyword.
type factRule struct {
	key      FactKey
	negative []*regexp.Regexp
	positive []*regexp.Regexp
}

// Negation words followed by at most three words before the symptom term.
// The gap never crosses a comma, colon, semicolon or dash, so "No, I have a
// fever" keeps its fever.
const negationLead = `(?i)\b(?:no|no longer|not|never|without|free of|don't|do not|didn't|did not|haven't|have not|hasn't|has not|hadn't|doesn't|does not|isn't|is not|wasn't|was not|ain't)\b(?:[^\w,，;；:：—–-]+\w+){0,3}?[^\w,，;；:：—–-]+`

var factRules = []factRule{
	{
		key: FactFever,
		negative: []*regexp.Regexp{
			regexp.MustCompile(negationLead + `(?:fever|feverish|febrile|temperature)\b`),
			regexp.MustCompile(`(?i)\bfever[- ]free\b`),
			regexp.MustCompile(`(?i)\btemperature (?:is |was |has been |seems )?(?:normal|fine|down)\b`),
			regexp.MustCompile(`沒有發燒|沒發燒|不發燒|沒有發熱|沒發熱|不發熱|退燒了`),
			regexp.MustCompile(`没有发烧|没发烧|不发烧|没有发热|没发热|不发热|退烧了`),
		},
		positive: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:fever|feverish|febrile|running a temperature|high temperature)\b`),
			regexp.MustCompile(`(?i)\btemperature (?:is |was |has been )?(?:high|up|raised|elevated)\b`),
			regexp.MustCompile(`發燒|發熱|體溫(?:有)?升高|很熱`),
			regexp.MustCompile(`发烧|发热|体温(?:有)?升高|很热`),
		},
	},
	{
		key: FactPain,
		negative: []*regexp.Regexp{
			regexp.MustCompile(negationLead + `(?:pain|painful|hurt|hurts|hurting|sore|\w*aches?|aching)\b`),
			regexp.MustCompile(`(?i)\bpain[- ]free\b`),
			regexp.MustCompile(`不痛|沒有痛|沒痛|不疼|沒有疼|沒疼|不會痛`),
			regexp.MustCompile(`没有痛|没痛|没有疼|没疼|不会痛`),
		},
		positive: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:pain|painful|hurt|hurts|hurting|sore)\b|(?:ache|aches|aching)\b`),
			regexp.MustCompile(`痛|疼|酸痛|不舒服`),
		},
	},
}

var (
	// Hedged sentences do not establish a fact either way.
	hedgePattern = regexp.MustCompile(`(?i)\b(?:maybe|perhaps|might|possibly|not sure|unsure|i wonder)\b|好像|不確定|不确定|也許|也许|可能`)
	// Sentence-final particles that mark a question.
	questionSuffix = regexp.MustCompile(`(?:嗎|吗|呢)\s*$`)
	// "not just pain" intensifies rather than negates.
	notJustPattern = regexp.MustCompile(`(?i)\bnot (?:just|only|merely|simply)\b`)
)

// sentence is a clause of a line along with whether it asserts anything.
type sentence struct {
	text      string
	ambiguous bool
}

// splitSentences cuts text after sentence terminators. A clause ending in a
// question mark or question particle, or containing hedging, is ambiguous.
func splitSentences(text string) []sentence {
	var out []sentence
	var cur strings.Builder
	flush := func(question bool) {
		s := strings.TrimSpace(cur.String())
		cur.Reset()
		if s == "" {
			return
		}
		amb := question || questionSuffix.MatchString(s) || hedgePattern.MatchString(s)
		out = append(out, sentence{text: s, ambiguous: amb})
	}
	for _, r := range text {
		switch r {
		case '?', '？':
			flush(true)
		case '.', '!', '。', '！', ';', '；', '\n':
			flush(false)
		default:
			cur.WriteRune(r)
		}
	}
	flush(false)
	return out
}

// normalizeApostrophes maps typographic apostrophes to ASCII so "don’t"
// matches the same rules as "don't".
func normalizeApostrophes(s string) string {
	return strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'").Replace(s)
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// ExtractFacts derives a fact snapshot from one line of text.
func ExtractFacts(text string) MedicalFacts {
	return ExtractFactsDetailed(text).Facts
}

// ExtractFactsDetailed derives a fact snapshot and reports ambiguous keys.
// Within a clause a negative match wins over a positive one; across
// clauses any negative assertion wins, so the snapshot never claims a
// symptom the patient also denied.
func ExtractFactsDetailed(text string) Extraction {
	ex := Extraction{Facts: MedicalFacts{}}
	sentences := splitSentences(normalizeApostrophes(text))

	for _, rule := range factRules {
		var negative, positive, ambiguous bool
		for _, s := range sentences {
			text := notJustPattern.ReplaceAllString(s.text, "")
			isNeg := anyMatch(rule.negative, text)
			isPos := !isNeg && anyMatch(rule.positive, text)
			if !isNeg && !isPos {
				continue
			}
			if s.ambiguous {
				ambiguous = true
				continue
			}
			if isNeg {
				negative = true
			} else {
				positive = true
			}
		}
		switch {
		case negative:
			ex.Facts[rule.key] = false
		case positive:
			ex.Facts[rule.key] = true
		case ambiguous:
			ex.Ambiguous = append(ex.Ambiguous, rule.key)
		}
	}
	return ex
}

// CompareFacts reports a flip for every key known in both snapshots whose
// values differ, in FactKeys order.
func CompareFacts(previous, current MedicalFacts) []Contradiction {
	var out []Contradiction
	for _, key := range FactKeys {
		prev, ok1 := previous.Get(key)
		cur, ok2 := current.Get(key)
		if !ok1 || !ok2 || prev == cur {
			continue
		}
		kind := flipKinds[key]
		out = append(out, Contradiction{
			Kind:        kind,
			Severity:    kindSeverity[kind],
			Description: flipDescription(key, prev, cur),
			Evidence:    string(key),
		})
	}
	return out
}

func flipDescription(key FactKey, prev, cur bool) string {
	state := func(v bool) string {
		if v {
			return "present"
		}
		return "absent"
	}
	return string(key) + " changed from " + state(prev) + " to " + state(cur)
}

// Keys returns the known keys in sorted order.
func (m MedicalFacts) Keys() []FactKey {
	keys := make([]FactKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
