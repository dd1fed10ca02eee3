package articulation

import (
	"encoding/json"
	"strings"
)

// span is a half-open byte range [start, end) into the scanned text.
type span struct {
	start, end int
}

// findJSONSpans scans the input for balanced top-level {...} objects.
// It handles nested braces and string escaping to correctly identify
// boundaries. Unbalanced openers at the end of input are ignored; use
// repairTruncated for those.
//
// It is safe to iterate bytes for ASCII delimiters ({, }, ", \) because
// UTF-8 guarantees ASCII bytes never appear inside a multi-byte sequence.
func findJSONSpans(s string) []span {
	var spans []span
	var depth int
	start := -1
	var inString, escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					spans = append(spans, span{start, i + 1})
					start = -1
				}
			}
		}
	}
	return spans
}

// findJSONCandidates returns the text of every balanced top-level object,
// largest first so the most complete payload is tried before fragments.
func findJSONCandidates(s string) []string {
	spans := findJSONSpans(s)
	out := make([]string, 0, len(spans))
	for _, sp := range spans {
		out = append(out, s[sp.start:sp.end])
	}
	// Stable insertion sort by length, descending; candidate lists are tiny.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && len(out[j]) > len(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// removeSpans returns s with the given spans cut out, each replaced by a newline.
func removeSpans(s string, spans []span) string {
	if len(spans) == 0 {
		return s
	}
	var b strings.Builder
	prev := 0
	for _, sp := range spans {
		b.WriteString(s[prev:sp.start])
		b.WriteByte('\n')
		prev = sp.end
	}
	b.WriteString(s[prev:])
	return b.String()
}

// cutPoint records a prefix length at which the document can be closed off,
// along with the closers needed at that point.
type cutPoint struct {
	at      int
	closers string
}

// maxCutPoints bounds how far back repairTruncated will walk.
const maxCutPoints = 64

// repairTruncated closes a JSON document that was cut off mid-stream, as
// happens when a generation hits its token limit. s[open] must be '{' or '['.
// It first tries closing the text as-is (terminating an open string), then
// walks back through earlier element boundaries until a valid document
// results. The returned text is always json.Valid when ok is true.
func repairTruncated(s string, open int) (string, bool) {
	if open < 0 || open >= len(s) || (s[open] != '{' && s[open] != '[') {
		return "", false
	}

	var stack []byte
	var cuts []cutPoint
	var inString, escape bool

	closersFor := func() string {
		b := make([]byte, len(stack))
		for i := range stack {
			b[i] = stack[len(stack)-1-i]
		}
		return string(b)
	}

	end := len(s)
	for i := open; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != b {
				// Mismatched closer: everything from here on is noise.
				end = i
				i = len(s)
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				doc := s[open : i+1]
				return doc, json.Valid([]byte(doc))
			}
			cuts = append(cuts, cutPoint{at: i + 1, closers: closersFor()})
		case ',':
			cuts = append(cuts, cutPoint{at: i, closers: closersFor()})
		}
		if len(cuts) > maxCutPoints {
			cuts = cuts[1:]
		}
	}

	tail := strings.TrimRightFunc(s[open:end], isSpaceOrControl)
	if inString && !escape {
		tail += `"`
	}
	if doc := tail + closersFor(); json.Valid([]byte(doc)) {
		return doc, true
	}

	for i := len(cuts) - 1; i >= 0; i-- {
		doc := s[open:cuts[i].at] + cuts[i].closers
		if json.Valid([]byte(doc)) {
			return doc, true
		}
	}
	return "", false
}

// matchingBracket returns the index of the ']' closing the '[' at open, or -1.
// Both double- and single-quoted strings are skipped so Python list literals
// scan correctly.
func matchingBracket(s string, open int) int {
	depth := 0
	var quote byte
	escape := false
	for i := open; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if quote != 0 {
			if b == '\\' {
				escape = true
			} else if b == quote {
				quote = 0
			}
			continue
		}
		switch b {
		case '"', '\'':
			quote = b
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isSpaceOrControl(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
