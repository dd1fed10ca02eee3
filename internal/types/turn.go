package types

// Reply candidate bounds for a single turn.
const (
	MinResponses = 1
	MaxResponses = 5
)

// Defaults filled in when the generation service omits a field.
const (
	DefaultReasoning           = ""
	DefaultClassificationLabel = "unspecified"
	DefaultConfidence          = 0.9
	DefaultState               = StateNormal
)

// ConsistencySummary is the observability slice of a consistency check that
// travels with the turn result.
type ConsistencySummary struct {
	Score               float64  `json:"score"`
	ContradictionsCount int      `json:"contradictions_count"`
	Severity            Severity `json:"severity"`
	Kinds               []string `json:"kinds,omitempty"`
}

// TurnResult is the canonical structured output of one turn.
// Treat it as immutable once the orchestrator returns it.
type TurnResult struct {
	Reasoning           string        `json:"reasoning,omitempty"`
	ClassificationLabel string        `json:"classification_label"`
	Confidence          float64       `json:"confidence"`
	Responses           []string      `json:"responses"`
	State               DialogueState `json:"state"`
	ContextLabel        string        `json:"dialogue_context"`

	// Observability, filled by the orchestrator.
	Consistency     *ConsistencySummary `json:"consistency,omitempty"`
	Risk            DegradationRisk     `json:"risk,omitempty"`
	QualityScore    float64             `json:"quality_score,omitempty"`
	ParseMethod     string              `json:"parse_method,omitempty"`
	RecoveryApplied bool                `json:"recovery_applied,omitempty"`
	RecoveryReason  string              `json:"recovery_reason,omitempty"`
	Round           int                 `json:"round,omitempty"`
}

// Primary returns the first reply candidate, which stands for the turn in
// consistency checks and in the conversation history.
func (t TurnResult) Primary() string {
	if len(t.Responses) == 0 {
		return ""
	}
	return t.Responses[0]
}

// WithResponses returns a copy of t carrying a fresh copy of responses.
func (t TurnResult) WithResponses(responses []string) TurnResult {
	t.Responses = append([]string(nil), responses...)
	return t
}
