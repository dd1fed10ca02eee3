package articulation

import (
	"regexp"
	"strings"
	"unicode"
)

// cleanText strips a BOM, zero-width characters and stray control
// characters (keeping newlines and tabs), normalizes line endings and trims.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\uFEFF', '\u200B', '\u200C', '\u200D', '\u2060':
			return -1
		case '\n', '\t':
			return r
		case '\r':
			return '\n'
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// errorText matches error output: exception headers, HTTP status lines and
// rate-limit notices.
var errorText = regexp.MustCompile(`(?i)^\s*(?:[\w.]*(?:error|exception)\b|traceback\b|panic:|fatal\b)|^\s*HTTP/\d|\b[45]\d\d\s+(?:service unavailable|bad gateway|gateway timeout|internal server error|too many requests|bad request|unauthorized|forbidden|not found)\b|\brate[- ]limit`)

func looksLikeErrorText(s string) bool {
	return errorText.MatchString(s)
}

var fenceTag = regexp.MustCompile(`^[A-Za-z0-9_+-]*$`)

// stripFences returns the body of the first markdown code fence. Anything
// after the closing fence is discarded; an unclosed fence runs to the end.
// The second return is false when s has no fence.
func stripFences(s string) (string, bool) {
	idx := strings.Index(s, "```")
	if idx < 0 {
		return s, false
	}
	after := s[idx+3:]
	if nl := strings.IndexByte(after, '\n'); nl >= 0 && fenceTag.MatchString(strings.TrimSpace(after[:nl])) {
		after = after[nl+1:]
	} else if fenceTag.MatchString(strings.TrimSpace(after)) {
		// "```json" with nothing after it.
		after = ""
	}
	if end := strings.Index(after, "```"); end >= 0 {
		after = after[:end]
	}
	return strings.TrimSpace(after), true
}

// dropFenceMarkers removes every ``` marker (and its language tag) but keeps
// the text around them.
func dropFenceMarkers(s string) string {
	return strings.TrimSpace(fenceMarker.ReplaceAllString(s, "\n"))
}

var fenceMarker = regexp.MustCompile("```[A-Za-z0-9_+-]*")

// responsesArrayStart finds a responses-like key followed by an opening bracket.
var responsesArrayStart = regexp.MustCompile(`["']?(?:responses|replies|options|candidates)["']?\s*[:：]\s*\[`)

// salvageResponsesFragment recovers the responses array from text whose
// enclosing object is broken beyond repair, e.g. a payload cut off in a
// later field or wrapped in prose from an error message.
func salvageResponsesFragment(text string) []string {
	loc := responsesArrayStart.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	open := loc[1] - 1
	if end := matchingBracket(text, open); end >= 0 {
		if items, ok := parseListLiteral(text[open : end+1]); ok {
			return flattenValue(items, 0)
		}
	}
	converted, _ := pythonToJSON(text[open:])
	doc, ok := repairTruncated(converted, 0)
	if !ok {
		return nil
	}
	items, ok := parseListLiteral(doc)
	if !ok {
		return nil
	}
	return flattenValue(items, 0)
}

var (
	// Numbered ("1.", "2)", "3、", "(4)") or bulleted ("-", "*", "•") list markers.
	listMarker = regexp.MustCompile(`^\s*(?:\d{1,2}\s*[.)、:：]|[(（]\d{1,2}[)）]|[-*•·])\s*`)
	// A quoted key line left over from broken JSON: "reasoning": ... or {"state": ...
	keyLine = regexp.MustCompile(`^\s*[{\[]?\s*["'][A-Za-z_]+["']\s*:`)
	// A bare heading for the list itself.
	listHeading = regexp.MustCompile(`(?i)^\s*(?:responses|replies|options|candidates)\s*[:：]?\s*$`)
)

// salvageList splits free text into reply candidates: one per list item
// when list markers are present, else one per blank-line-separated
// paragraph, else one per non-empty line. Preamble text before the first
// list item is not a candidate.
func salvageList(text string) []string {
	lines := strings.Split(text, "\n")

	hasMarkers := false
	for _, l := range lines {
		if listMarker.MatchString(l) && strings.TrimSpace(listMarker.ReplaceAllString(l, "")) != "" {
			hasMarkers = true
			break
		}
	}

	var items []string
	switch {
	case hasMarkers:
		var cur []string
		started := false
		flush := func() {
			if len(cur) > 0 {
				items = append(items, strings.Join(cur, " "))
			}
			cur = nil
		}
		for _, l := range lines {
			if loc := listMarker.FindStringIndex(l); loc != nil {
				flush()
				started = true
				if item := cleanItem(l[loc[1]:]); item != "" {
					cur = append(cur, item)
				}
				continue
			}
			if !started {
				continue
			}
			if strings.TrimSpace(l) == "" {
				flush()
				continue
			}
			if item := cleanItem(l); item != "" {
				cur = append(cur, item)
			}
		}
		flush()
	default:
		paragraphs := splitParagraphs(lines)
		if len(paragraphs) > 1 {
			for _, p := range paragraphs {
				if item := cleanItem(strings.Join(p, " ")); item != "" {
					items = append(items, item)
				}
			}
		} else {
			for _, l := range lines {
				if item := cleanItem(l); item != "" {
					items = append(items, item)
				}
			}
		}
	}
	return items
}

func splitParagraphs(lines []string) [][]string {
	var out [][]string
	var cur []string
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		if keyLine.MatchString(l) || listHeading.MatchString(l) || isPunctuationOnly(l) {
			continue
		}
		cur = append(cur, strings.TrimSpace(l))
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// cleanItem strips list punctuation and quoting from a single candidate.
// Lines that are structure rather than content come back empty.
func cleanItem(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || keyLine.MatchString(s) || listHeading.MatchString(s) || isPunctuationOnly(s) {
		return ""
	}
	s = strings.TrimRight(s, ",，")
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, `'`, "“", "”", "「", "」"} {
		s = strings.TrimPrefix(s, q)
		s = strings.TrimSuffix(s, q)
	}
	s = strings.TrimSpace(s)
	if isPunctuationOnly(s) {
		return ""
	}
	return s
}

func isPunctuationOnly(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
