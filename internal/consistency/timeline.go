package consistency

import (
	"regexp"
	"sort"
)

// EventKind distinguishes onset claims from plain time references.
type EventKind string

const (
	EventSymptomStart EventKind = "symptom_start"
	EventContextTime  EventKind = "context_time"
)

// TimelineEvent is one time phrase found in a line. Recency is 1.0 for
// "now" and decreases toward older references.
type TimelineEvent struct {
	Kind    EventKind `json:"kind"`
	Phrase  string    `json:"phrase"`
	Recency float64   `json:"recency"`
}

// timePhrase binds a pattern to a recency score. Order matters only to
// break ties between equally long matches at the same position.
type timePhrase struct {
	pattern *regexp.Regexp
	recency float64
}

var timePhrases = []timePhrase{
	{regexp.MustCompile(`(?i)\b(?:right now|now|currently|at the moment|at present|just now)\b|現在|现在|目前|剛剛|剛才|刚刚|刚才`), 1.0},
	{regexp.MustCompile(`(?i)\b(?:today|this morning|this afternoon|this evening|tonight|earlier today)\b|今天早上|今天|今早|今晚`), 0.9},
	{regexp.MustCompile(`(?i)\b(?:\d+|an|one|two|three|a few|few|several|a couple of|couple of) hours? ago\b|幾個小時前|几个小时前|數小時前|数小时前|\d+\s*(?:個|个)?小時前|\d+\s*(?:個|个)?小时前`), 0.8},
	{regexp.MustCompile(`(?i)\b(?:the day before yesterday|two days ago|2 days ago)\b|前天`), 0.5},
	{regexp.MustCompile(`(?i)\b(?:yesterday|last night)\b|昨天|昨晚`), 0.6},
	{regexp.MustCompile(`(?i)\b(?:\d+|three|four|five|six|a few|few|several) days ago\b|幾天前|几天前|\d+\s*天前`), 0.4},
	{regexp.MustCompile(`(?i)\b(?:last week|a week ago|\d+ weeks? ago)\b|上週|上周|上個禮拜|上个礼拜|一週前|一周前`), 0.2},
}

// onsetPattern marks a clause that claims when a symptom began.
var onsetPattern = regexp.MustCompile(`(?i)\b(?:began|begun|begin|beginning|started|starts|start|since|onset|came on)\b|開始|开始`)

type phraseMatch struct {
	start, end int
	order      int
}

// ExtractTimeline returns every non-overlapping time phrase in text, in
// order of appearance. Longer matches win overlaps ("the day before
// yesterday" over "yesterday"). Events in a clause that makes an onset
// claim are tagged EventSymptomStart.
func ExtractTimeline(text string) []TimelineEvent {
	var events []TimelineEvent
	for _, s := range splitSentences(normalizeApostrophes(text)) {
		kind := EventContextTime
		if onsetPattern.MatchString(s.text) {
			kind = EventSymptomStart
		}
		for _, m := range selectPhrases(s.text) {
			events = append(events, TimelineEvent{
				Kind:    kind,
				Phrase:  s.text[m.start:m.end],
				Recency: timePhrases[m.order].recency,
			})
		}
	}
	return events
}

func selectPhrases(text string) []phraseMatch {
	var all []phraseMatch
	for i, tp := range timePhrases {
		for _, loc := range tp.pattern.FindAllStringIndex(text, -1) {
			all = append(all, phraseMatch{start: loc[0], end: loc[1], order: i})
		}
	}
	// Longest first, then earliest, then table order; greedily keep
	// whatever does not overlap an already kept match.
	sort.Slice(all, func(i, j int) bool {
		li, lj := all[i].end-all[i].start, all[j].end-all[j].start
		if li != lj {
			return li > lj
		}
		if all[i].start != all[j].start {
			return all[i].start < all[j].start
		}
		return all[i].order < all[j].order
	})
	var kept []phraseMatch
	for _, m := range all {
		overlaps := false
		for _, k := range kept {
			if m.start < k.end && k.start < m.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })
	return kept
}

// Onsets filters events down to symptom-onset claims.
func Onsets(events []TimelineEvent) []TimelineEvent {
	var out []TimelineEvent
	for _, e := range events {
		if e.Kind == EventSymptomStart {
			out = append(out, e)
		}
	}
	return out
}
