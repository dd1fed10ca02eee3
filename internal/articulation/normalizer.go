// Package articulation turns raw generation-service text into a validated
// TurnResult. Parsing degrades through explicit tiers (strict document,
// brace-scan salvage, list salvage) and reports which tier succeeded so
// callers can observe how far the model drifted from the output contract.
package articulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"patientsim/internal/logging"
	"patientsim/internal/types"
)

// ErrUnparseable is returned when no reply candidate can be recovered by
// any strategy. It is the only fatal normalization outcome.
var ErrUnparseable = errors.New("no response candidates recoverable")

// ParseMethod records which tier produced the turn.
type ParseMethod string

const (
	ParseStrict         ParseMethod = "strict"
	ParseSalvagedBraces ParseMethod = "salvaged_braces"
	ParseSalvagedList   ParseMethod = "salvaged_list"
	ParseFailed         ParseMethod = "failed"
)

// Result is the output of one normalization.
type Result struct {
	Turn     types.TurnResult
	Method   ParseMethod
	Warnings []string
}

// Options tunes the normalizer.
type Options struct {
	MaxResponses      int
	DefaultConfidence float64
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxResponses:      types.MaxResponses,
		DefaultConfidence: types.DefaultConfidence,
	}
}

// Stats counts normalizations by outcome.
type Stats struct {
	Total          int64 `json:"total"`
	Strict         int64 `json:"strict"`
	SalvagedBraces int64 `json:"salvaged_braces"`
	SalvagedList   int64 `json:"salvaged_list"`
	Failed         int64 `json:"failed"`
}

// Normalizer is safe for concurrent use; only the stats counters mutate.
type Normalizer struct {
	opts Options

	total, strict, braces, list, failed atomic.Int64
}

// NewNormalizer creates a normalizer. Zero-valued options take defaults.
func NewNormalizer(opts Options) *Normalizer {
	def := DefaultOptions()
	if opts.MaxResponses <= 0 || opts.MaxResponses > types.MaxResponses {
		opts.MaxResponses = def.MaxResponses
	}
	if opts.DefaultConfidence <= 0 || opts.DefaultConfidence > 1 {
		opts.DefaultConfidence = def.DefaultConfidence
	}
	return &Normalizer{opts: opts}
}

// Normalize parses raw model output into a TurnResult with 1..MaxResponses
// candidates. Absent fields are filled with defaults; field values are
// never invented beyond that.
func (n *Normalizer) Normalize(raw string) (*Result, error) {
	n.total.Add(1)
	timer := logging.StartTimer(logging.CategoryArticulation, "Normalize")
	defer timer.Stop()

	cleaned := cleanText(raw)
	if cleaned == "" {
		return n.fail("empty input")
	}

	var warnings []string
	attempts := []string{cleaned}
	if body, fenced := stripFences(cleaned); fenced {
		warnings = append(warnings, "markdown fence stripped")
		attempts = []string{body}
		if outer := dropFenceMarkers(cleaned); outer != body {
			attempts = append(attempts, outer)
		}
	}

	// Tier 1: the (fence-stripped) text is a document.
	var strictFields turnFields
	if f, ok := parseDocument(attempts[0]); ok {
		if len(f.responses) > 0 {
			return n.succeed(f, ParseStrict, warnings)
		}
		strictFields = f
		warnings = append(warnings, "document parsed but carried no responses")
	}

	// Tier 2a: a balanced object embedded in surrounding text.
	for _, text := range attempts {
		for _, candidate := range findJSONCandidates(text) {
			obj, ok := decodeObject(candidate)
			if !ok {
				continue
			}
			f := fieldsFromObject(obj)
			if len(f.responses) > 0 {
				warnings = append(warnings, "JSON extracted from mixed content")
				return n.succeed(f, ParseSalvagedBraces, warnings)
			}
			strictFields = strictFields.merge(f)
		}
	}

	// Tier 2b: a truncated object, closed off at the last complete element.
	for _, text := range attempts {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			continue
		}
		doc, ok := repairTruncated(text, open)
		if !ok {
			continue
		}
		if obj, ok := decodeObject(doc); ok {
			f := fieldsFromObject(obj)
			if len(f.responses) > 0 {
				warnings = append(warnings, "truncated JSON repaired")
				return n.succeed(f.merge(strictFields), ParseSalvagedBraces, warnings)
			}
		}
	}

	// Tier 2c: just the responses array, from text that will not parse at all.
	for _, text := range attempts {
		if rs := salvageResponsesFragment(text); len(rs) > 0 {
			f := turnFields{responses: rs}.merge(strictFields).merge(scrapeFields(text))
			warnings = append(warnings, "responses array recovered from fragment")
			return n.succeed(f, ParseSalvagedBraces, warnings)
		}
	}

	// Tier 3: free text split into list items. Parsed JSON objects are
	// structure, not replies, so they are cut out first. Error output from
	// the service or an SDK is never spoken as a reply.
	sawErrorText := false
	for _, text := range attempts {
		prose := removeSpans(text, findJSONSpans(text))
		if looksLikeErrorText(prose) {
			sawErrorText = true
			continue
		}
		if rs := salvageList(prose); len(rs) > 0 {
			f := turnFields{responses: rs}.merge(strictFields).merge(scrapeFields(text))
			warnings = append(warnings, "responses split from free text")
			return n.succeed(f, ParseSalvagedList, warnings)
		}
	}

	if sawErrorText {
		return n.fail("input is error output, not replies")
	}
	return n.fail("no strategy produced a reply candidate")
}

// parseDocument parses text as a whole JSON object, or a bare array of
// replies.
func parseDocument(text string) (turnFields, bool) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "[") {
		var items []interface{}
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return turnFields{}, false
		}
		return turnFields{responses: flattenValue(items, 0)}, true
	}
	obj, ok := decodeObject(trimmed)
	if !ok {
		return turnFields{}, false
	}
	return fieldsFromObject(obj), true
}

func (n *Normalizer) succeed(f turnFields, method ParseMethod, warnings []string) (*Result, error) {
	responses := normalizeResponses(f.responses, n.opts.MaxResponses)
	if len(responses) == 0 {
		return n.fail("all recovered candidates were empty")
	}

	turn := types.TurnResult{
		Reasoning:           types.DefaultReasoning,
		ClassificationLabel: types.DefaultClassificationLabel,
		Confidence:          n.opts.DefaultConfidence,
		Responses:           responses,
		State:               types.DefaultState,
		ParseMethod:         string(method),
	}
	if f.reasoning != nil {
		turn.Reasoning = *f.reasoning
	}
	if f.confidence != nil {
		turn.Confidence = *f.confidence
	}
	if f.context != nil {
		turn.ContextLabel = *f.context
	}
	switch {
	case f.label != nil && *f.label != "":
		turn.ClassificationLabel = *f.label
	case f.state != nil && *f.state != "":
		turn.ClassificationLabel = *f.state
	}
	if f.state != nil {
		if st, ok := types.ParseDialogueState(*f.state); ok {
			turn.State = st
		}
	}
	if len(f.responses) > len(responses) {
		warnings = append(warnings, fmt.Sprintf("responses truncated from %d to %d", len(f.responses), len(responses)))
	}

	switch method {
	case ParseStrict:
		n.strict.Add(1)
	case ParseSalvagedBraces:
		n.braces.Add(1)
		logging.Articulation("salvaged %d response(s) via %s: %s", len(responses), method, strings.Join(warnings, "; "))
	case ParseSalvagedList:
		n.list.Add(1)
		logging.Articulation("salvaged %d response(s) via %s: %s", len(responses), method, strings.Join(warnings, "; "))
	}

	return &Result{Turn: turn, Method: method, Warnings: warnings}, nil
}

func (n *Normalizer) fail(reason string) (*Result, error) {
	n.failed.Add(1)
	logging.Get(logging.CategoryArticulation).Warn("normalization failed: %s", reason)
	return nil, fmt.Errorf("%w: %s", ErrUnparseable, reason)
}

// Stats returns a snapshot of the counters.
func (n *Normalizer) Stats() Stats {
	return Stats{
		Total:          n.total.Load(),
		Strict:         n.strict.Load(),
		SalvagedBraces: n.braces.Load(),
		SalvagedList:   n.list.Load(),
		Failed:         n.failed.Load(),
	}
}

// ResetStats zeroes the counters.
func (n *Normalizer) ResetStats() {
	n.total.Store(0)
	n.strict.Store(0)
	n.braces.Store(0)
	n.list.Store(0)
	n.failed.Store(0)
}
