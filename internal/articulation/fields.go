package articulation

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Key aliases accepted from the generation service, in priority order.
var (
	responseKeys = []string{"responses", "replies", "options", "candidates"}
	contextKeys  = []string{"dialogue_context", "context_classification", "context_label"}
	// Keys inside a response object that carry its text.
	textKeys = []string{"text", "response", "content", "reply"}
)

// maxFlattenDepth bounds recursion through nested or re-encoded arrays.
const maxFlattenDepth = 4

// turnFields is what could be read from a payload. Nil pointers mean the
// field was absent and the default applies.
type turnFields struct {
	reasoning  *string
	label      *string
	state      *string
	context    *string
	confidence *float64
	responses  []string
}

func (f turnFields) merge(other turnFields) turnFields {
	if f.reasoning == nil {
		f.reasoning = other.reasoning
	}
	if f.label == nil {
		f.label = other.label
	}
	if f.state == nil {
		f.state = other.state
	}
	if f.context == nil {
		f.context = other.context
	}
	if f.confidence == nil {
		f.confidence = other.confidence
	}
	if len(f.responses) == 0 {
		f.responses = other.responses
	}
	return f
}

// decodeObject parses data as a JSON object with lazily-decoded members.
func decodeObject(data string) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// fieldsFromObject reads every known field leniently. Wrong-typed members
// are ignored rather than failing the whole payload.
func fieldsFromObject(obj map[string]json.RawMessage) turnFields {
	var f turnFields
	f.reasoning = stringMember(obj, "reasoning")
	f.label = stringMember(obj, "classification_label")
	f.state = stringMember(obj, "state")
	f.context = firstString(obj, contextKeys)
	if raw, ok := obj["confidence"]; ok {
		if v, ok := parseConfidence(raw); ok {
			f.confidence = &v
		}
	}
	for _, key := range responseKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if rs := flattenRaw(raw); len(rs) > 0 {
			f.responses = rs
			break
		}
	}
	return f
}

func stringMember(obj map[string]json.RawMessage, key string) *string {
	raw, ok := obj[key]
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	return &s
}

func firstString(obj map[string]json.RawMessage, keys []string) *string {
	for _, k := range keys {
		if s := stringMember(obj, k); s != nil && *s != "" {
			return s
		}
	}
	return nil
}

// parseConfidence accepts a number or numeric string. A string with a
// percent sign is read as a percentage; the result is clamped to [0,1].
func parseConfidence(raw json.RawMessage) (float64, bool) {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(s)
		percent := strings.HasSuffix(s, "%")
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, false
		}
		if percent {
			parsed /= 100
		}
		v = parsed
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v, true
}

// flattenRaw turns a responses member into plain strings.
func flattenRaw(raw json.RawMessage) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return flattenValue(v, 0)
}

// flattenValue collects reply strings from arbitrarily nested values.
// Strings that are themselves encoded arrays (JSON or Python repr) are
// decoded and flattened in place.
func flattenValue(v interface{}, depth int) []string {
	if depth > maxFlattenDepth {
		return nil
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
			if inner, ok := parseListLiteral(s); ok {
				return flattenValue(inner, depth+1)
			}
		}
		return []string{s}
	case []interface{}:
		var out []string
		for _, item := range t {
			out = append(out, flattenValue(item, depth+1)...)
		}
		return out
	case map[string]interface{}:
		for _, k := range textKeys {
			if inner, ok := t[k]; ok {
				return flattenValue(inner, depth+1)
			}
		}
		return nil
	case json.Number:
		return []string{t.String()}
	case float64:
		return []string{strconv.FormatFloat(t, 'f', -1, 64)}
	}
	return nil
}

// parseListLiteral decodes s as a JSON array, falling back to a Python
// list repr such as ['a', "b's"].
func parseListLiteral(s string) ([]interface{}, bool) {
	var out []interface{}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&out); err == nil {
		return out, true
	}
	converted, ok := pythonToJSON(s)
	if !ok {
		return nil, false
	}
	dec = json.NewDecoder(strings.NewReader(converted))
	dec.UseNumber()
	out = nil
	if err := dec.Decode(&out); err != nil {
		return nil, false
	}
	return out, true
}

// pythonToJSON rewrites a Python literal into JSON: single-quoted strings
// become double-quoted, True/False/None become true/false/null. An
// unterminated string is left open for repairTruncated to close.
func pythonToJSON(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s) + 8)
	changed := false

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '"' || c == '\'':
			quote := c
			if quote == '\'' {
				changed = true
			}
			b.WriteByte('"')
			i++
			for i < len(s) && s[i] != quote {
				ch := s[i]
				if ch == '\\' && i+1 < len(s) {
					next := s[i+1]
					if next == '\'' {
						b.WriteByte('\'')
					} else {
						b.WriteByte('\\')
						b.WriteByte(next)
					}
					i += 2
					continue
				}
				if ch == '"' {
					b.WriteString(`\"`)
				} else {
					b.WriteByte(ch)
				}
				i++
			}
			if i < len(s) {
				b.WriteByte('"')
				i++
			}
		case strings.HasPrefix(s[i:], "True"):
			b.WriteString("true")
			i += 4
			changed = true
		case strings.HasPrefix(s[i:], "False"):
			b.WriteString("false")
			i += 5
			changed = true
		case strings.HasPrefix(s[i:], "None"):
			b.WriteString("null")
			i += 4
			changed = true
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), changed
}

// scalarFieldPattern scrapes "key": value pairs out of text that no longer
// parses as a document. Only keys the payload actually carried are filled.
var scalarFieldPattern = regexp.MustCompile(
	`["'](reasoning|classification_label|state|dialogue_context|context_classification|context_label|confidence)["']\s*:\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|-?\d+(?:\.\d+)?)`)

// scrapeFields recovers scalar fields from error text.
func scrapeFields(text string) turnFields {
	obj := make(map[string]json.RawMessage)
	for _, m := range scalarFieldPattern.FindAllStringSubmatch(text, -1) {
		key, val := m[1], m[2]
		if _, seen := obj[key]; seen {
			continue
		}
		if strings.HasPrefix(val, "'") {
			converted, _ := pythonToJSON(val)
			val = converted
		}
		if json.Valid([]byte(val)) {
			obj[key] = json.RawMessage(val)
		}
	}
	f := fieldsFromObject(obj)
	f.responses = nil
	return f
}

// normalizeResponses trims, drops empties and caps the candidate list.
func normalizeResponses(in []string, max int) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}
