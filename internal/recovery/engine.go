// Package recovery replaces degraded or contradictory reply sets with safe,
// topic-matched fallback lines and recommends a context reset.
//
// Everything here is deterministic. The engine never calls the generation
// service, so it always succeeds.
package recovery

import (
	"fmt"
	"strings"

	"patientsim/internal/consistency"
	"patientsim/internal/logging"
	"patientsim/internal/types"
)

// CandidateCount is the size of every recovered reply set.
const CandidateCount = 5

// DefaultResetKeep is how many history entries a reset plan keeps.
const DefaultResetKeep = 4

// TriggerKind says why recovery ran.
type TriggerKind string

const (
	TriggerDegradation       TriggerKind = "degradation"
	TriggerConsistency       TriggerKind = "consistency"
	TriggerUnparseable       TriggerKind = "unparseable"
	TriggerGenerationFailure TriggerKind = "generation_failure"
)

// Trigger carries the signal that started recovery.
type Trigger struct {
	Kind        TriggerKind
	Risk        types.DegradationRisk
	Consistency *consistency.Result
	Detail      string
}

// Reason renders the trigger for logs and the turn result.
func (t Trigger) Reason() string {
	switch t.Kind {
	case TriggerDegradation:
		return fmt.Sprintf("degradation risk %s", t.Risk)
	case TriggerConsistency:
		if t.Consistency != nil {
			return fmt.Sprintf("consistency severity %s (%s)", t.Consistency.Severity, strings.Join(t.Consistency.Kinds(), ", "))
		}
		return "consistency"
	default:
		if t.Detail != "" {
			return string(t.Kind) + ": " + t.Detail
		}
		return string(t.Kind)
	}
}

// forcesGeneric reports whether the caregiver's topic cannot be trusted
// because nothing usable came back from generation.
func (t Trigger) forcesGeneric() bool {
	return t.Kind == TriggerUnparseable || t.Kind == TriggerGenerationFailure
}

// ContextResetPlan recommends truncating the conversation history. It is
// advice only; the session applies it.
type ContextResetPlan struct {
	KeepLast int    `json:"keep_last"`
	Reason   string `json:"reason"`
}

// Apply truncates h to the plan's window.
func (p ContextResetPlan) Apply(h *types.ConversationHistory) {
	if h == nil || p.KeepLast <= 0 {
		return
	}
	h.Truncate(p.KeepLast)
}

// Options configures the engine.
type Options struct {
	Banks     Banks
	ResetKeep int
}

// Engine selects fallback replies.
type Engine struct {
	banks     Banks
	resetKeep int
}

// NewEngine creates an engine. Empty banks fall back to the built-in set.
func NewEngine(opts Options) *Engine {
	banks := opts.Banks
	if len(banks) == 0 || banks.Validate() != nil {
		banks = DefaultBanks()
	}
	keep := opts.ResetKeep
	if keep <= 0 {
		keep = DefaultResetKeep
	}
	return &Engine{banks: banks, resetKeep: keep}
}

// Recover returns exactly CandidateCount replies for the caregiver input.
// Replies equal to any rejected line are skipped; the generic bucket fills
// any shortfall.
func (e *Engine) Recover(input string, trigger Trigger, rejected ...string) []string {
	intent := ClassifyIntent(input)
	if trigger.forcesGeneric() {
		intent = IntentGeneric
	}
	lang := DetectLanguage(input)

	skip := make(map[string]bool, len(rejected))
	for _, r := range rejected {
		skip[strings.TrimSpace(r)] = true
	}

	out := make([]string, 0, CandidateCount)
	seen := make(map[string]bool, CandidateCount)
	take := func(replies []string) {
		for _, r := range replies {
			if len(out) == CandidateCount {
				return
			}
			r = strings.TrimSpace(r)
			if r == "" || skip[r] || seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
	}
	take(e.banks.bucket(lang, intent))
	take(e.banks.bucket(lang, IntentGeneric))
	take(e.banks.bucket(LangEnglish, IntentGeneric))

	logging.RecoveryWarn("recovered %d replies (intent=%s lang=%s): %s", len(out), intent, lang, trigger.Reason())
	return out
}

// Repair drops the candidates that leak or contradict the previous patient
// line and keeps the rest in order. ok is false when nothing survives.
func (e *Engine) Repair(responses []string, previousPatientLine string) (kept []string, dropped int, ok bool) {
	kept = make([]string, 0, len(responses))
	for _, r := range responses {
		if conflicts := consistency.CandidateConflicts(r, previousPatientLine); len(conflicts) > 0 {
			logging.Get(logging.CategoryRecovery).Debug("dropping candidate %q: %s", r, conflicts[0].Description)
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	if dropped > 0 {
		logging.RecoveryWarn("repair dropped %d of %d candidates", dropped, len(responses))
	}
	return kept, dropped, len(kept) > 0
}

// ResetPlan returns the context reset recommended after a recovery.
func (e *Engine) ResetPlan(reason string) ContextResetPlan {
	return ContextResetPlan{KeepLast: e.resetKeep, Reason: reason}
}
