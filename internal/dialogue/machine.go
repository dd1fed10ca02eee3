// Package dialogue tracks the per-session dialogue state and the nested
// subtask depth of the conversation topic.
package dialogue

import (
	"errors"
	"fmt"
	"strings"

	"patientsim/internal/logging"
	"patientsim/internal/types"
)

var (
	// ErrClassificationUnknown marks a label that is not a dialogue state.
	// It is not fatal: the machine moves to CONFUSED.
	ErrClassificationUnknown = errors.New("unknown classification label")

	// ErrTerminated is returned for transitions attempted after Terminate.
	ErrTerminated = errors.New("dialogue terminated")
)

// unspecifiedLabel is what the normalizer fills in when the model gave no
// label. It maps to NORMAL.
const unspecifiedLabel = "unspecified"

// topicSeparator joins a topic and a refinement of it, e.g. "pain/wound".
const topicSeparator = "/"

// Transition is the outcome of one Transition call.
type Transition struct {
	From       types.DialogueState `json:"from"`
	To         types.DialogueState `json:"to"`
	Recognized bool                `json:"recognized"`
	Depth      []uint32            `json:"subtask_depth"`
	Err        error               `json:"-"`
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool { return t.From != t.To }

// Machine is the dialogue state machine for one session.
// Not safe for concurrent use; the session serializes turns.
type Machine struct {
	state  types.DialogueState
	depth  []uint32
	topics []string
}

// NewMachine starts in NORMAL with a single zero-depth entry.
func NewMachine() *Machine {
	return &Machine{state: types.StateNormal, depth: []uint32{0}}
}

// State returns the current dialogue state.
func (m *Machine) State() types.DialogueState { return m.state }

// Depth returns a copy of the subtask depth stack, outermost first.
func (m *Machine) Depth() []uint32 {
	out := make([]uint32, len(m.depth))
	copy(out, m.depth)
	return out
}

// Topic returns the innermost topic, or "" before any context label.
func (m *Machine) Topic() string {
	if len(m.topics) == 0 {
		return ""
	}
	return m.topics[len(m.topics)-1]
}

// Terminated reports whether the machine reached TERMINATED.
func (m *Machine) Terminated() bool { return m.state == types.StateTerminated }

// Transition applies a turn's classification and context labels.
//
// An absent label ("" or "unspecified") means NORMAL. A recognized state
// label is taken as-is, except TERMINATED, which only Terminate may set.
// Anything else moves to CONFUSED and reports ErrClassificationUnknown.
func (m *Machine) Transition(label, contextLabel string) Transition {
	from := m.state
	if m.Terminated() {
		return Transition{From: from, To: from, Depth: m.Depth(), Err: ErrTerminated}
	}

	to, recognized := resolveLabel(label)
	var err error
	if !recognized {
		err = fmt.Errorf("%w: %q", ErrClassificationUnknown, label)
		logging.Get(logging.CategoryDialogue).Warn("unrecognized classification label %q, moving to %s", label, to)
	}

	m.state = to
	m.advanceTopic(contextLabel)

	logging.DialogueDebug("transition %s -> %s (label=%q, context=%q, depth=%v)", from, to, label, contextLabel, m.depth)
	return Transition{From: from, To: to, Recognized: recognized, Depth: m.Depth(), Err: err}
}

// Terminate moves to TERMINATED. Later transitions are refused.
func (m *Machine) Terminate() Transition {
	from := m.state
	m.state = types.StateTerminated
	logging.DialogueDebug("transition %s -> %s (terminated)", from, m.state)
	return Transition{From: from, To: m.state, Recognized: true, Depth: m.Depth()}
}

// Clone returns an independent copy.
func (m *Machine) Clone() *Machine {
	return &Machine{
		state:  m.state,
		depth:  m.Depth(),
		topics: append([]string(nil), m.topics...),
	}
}

func resolveLabel(label string) (types.DialogueState, bool) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" || strings.EqualFold(trimmed, unspecifiedLabel) {
		return types.StateNormal, true
	}
	if s, ok := types.ParseDialogueState(trimmed); ok && s != types.StateTerminated {
		return s, true
	}
	return types.StateConfused, false
}

// advanceTopic updates the depth stack:
//   - same topic: the innermost counter increments
//   - a refinement ("topic/detail") of the current topic: push a zero entry
//   - an outer topic already on the stack: pop back to it and increment
//   - anything else: reset to a single zero entry
//
// An empty context label leaves the stack untouched.
func (m *Machine) advanceTopic(contextLabel string) {
	topic := normalizeTopic(contextLabel)
	if topic == "" {
		return
	}
	n := len(m.topics)
	switch {
	case n > 0 && topic == m.topics[n-1]:
		m.depth[len(m.depth)-1]++
	case n > 0 && strings.HasPrefix(topic, m.topics[n-1]+topicSeparator):
		m.topics = append(m.topics, topic)
		m.depth = append(m.depth, 0)
	default:
		for i := n - 2; i >= 0; i-- {
			if m.topics[i] == topic {
				m.topics = m.topics[:i+1]
				m.depth = m.depth[:i+1]
				m.depth[i]++
				return
			}
		}
		m.topics = []string{topic}
		m.depth = []uint32{0}
	}
}

func normalizeTopic(label string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(label)), topicSeparator)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, topicSeparator)
}
