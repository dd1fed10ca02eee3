// Package types provides the value types shared by the dialogue engine packages.
// This package exists to break import cycles between articulation, consistency,
// degradation, recovery and session. Types here carry no behaviour beyond small
// helpers and have no dependencies outside the standard library.
package types

import "strings"

// =============================================================================
// DIALOGUE STATE
// =============================================================================

// DialogueState is the per-session state of the simulated patient.
type DialogueState string

const (
	StateNormal        DialogueState = "NORMAL"
	StateTransitioning DialogueState = "TRANSITIONING"
	StateConfused      DialogueState = "CONFUSED"
	StateTerminated    DialogueState = "TERMINATED" // only reachable by an external signal
)

// AllDialogueStates lists every state in declaration order.
var AllDialogueStates = []DialogueState{StateNormal, StateTransitioning, StateConfused, StateTerminated}

// ParseDialogueState parses a label case-insensitively.
// The second return is false for anything that is not one of the four states.
func ParseDialogueState(label string) (DialogueState, bool) {
	s := DialogueState(strings.ToUpper(strings.TrimSpace(label)))
	for _, known := range AllDialogueStates {
		if s == known {
			return s, true
		}
	}
	return "", false
}

// =============================================================================
// SEVERITY / RISK
// =============================================================================

// Severity grades a single contradiction or an aggregate consistency result.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities: low=1, medium=2, high=3. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity parses "low", "medium" or "high" (case-insensitive).
func ParseSeverity(v string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	if s.Rank() == 0 {
		return "", false
	}
	return s, true
}

// DegradationRisk grades how far a turn has drifted out of character.
type DegradationRisk string

const (
	RiskLow      DegradationRisk = "low"
	RiskMedium   DegradationRisk = "medium"
	RiskHigh     DegradationRisk = "high"
	RiskCritical DegradationRisk = "critical"
)

// Rank orders risks: low=1 .. critical=4. Unknown values rank 0.
func (r DegradationRisk) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

// AtLeast reports whether r is as risky as other.
func (r DegradationRisk) AtLeast(other DegradationRisk) bool {
	return r.Rank() >= other.Rank()
}

// ParseDegradationRisk parses "low", "medium", "high" or "critical".
func ParseDegradationRisk(v string) (DegradationRisk, bool) {
	r := DegradationRisk(strings.ToLower(strings.TrimSpace(v)))
	if r.Rank() == 0 {
		return "", false
	}
	return r, true
}
