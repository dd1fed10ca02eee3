// Package session runs the per-turn dialogue pipeline and keeps the
// per-session state it mutates.
//
// Pipeline (strictly in order, one turn at a time per session):
//
//	raw text → Normalize → Check → Assess → [Repair | Recover] → Transition → commit
//
// The orchestrator itself does no locking. Store serializes turns per
// session and evicts idle sessions.
package session

import (
	"time"

	"patientsim/internal/degradation"
	"patientsim/internal/dialogue"
	"patientsim/internal/types"
)

// State is everything the engine remembers about one session. Only the
// orchestrator mutates it, and only once a turn has fully completed.
type State struct {
	ID               string
	CreatedAt        time.Time
	LastContextLabel string
	Round            int
	History          *types.ConversationHistory
	Quality          *degradation.Window

	machine  *dialogue.Machine
	lastTurn *types.TurnResult
}

// NewState creates a fresh session in NORMAL with empty history.
func NewState(id string, historyWindow, qualityWindow int) *State {
	return &State{
		ID:        id,
		CreatedAt: time.Now(),
		History:   types.NewConversationHistory(historyWindow),
		Quality:   degradation.NewWindow(qualityWindow),
		machine:   dialogue.NewMachine(),
	}
}

// DialogueState returns the current dialogue state.
func (s *State) DialogueState() types.DialogueState { return s.machine.State() }

// SubtaskDepth returns a copy of the nested topic depth counters.
func (s *State) SubtaskDepth() []uint32 { return s.machine.Depth() }

// LastTurn returns the result of the most recent turn.
func (s *State) LastTurn() (types.TurnResult, bool) {
	if s.lastTurn == nil {
		return types.TurnResult{}, false
	}
	return s.lastTurn.WithResponses(s.lastTurn.Responses), true
}

// Terminate ends the dialogue. Later turns keep the TERMINATED state.
func (s *State) Terminate() dialogue.Transition {
	return s.machine.Terminate()
}

// Snapshot is the read-only view exposed to history/debug endpoints.
type Snapshot struct {
	ID                  string              `json:"session_id"`
	DialogueState       types.DialogueState `json:"dialogue_state"`
	SubtaskDepth        []uint32            `json:"subtask_depth"`
	ConversationHistory []string            `json:"conversation_history"`
	LastContextLabel    string              `json:"last_context_label,omitempty"`
	Round               int                 `json:"round"`
	Quality             degradation.Summary `json:"quality"`
	CreatedAt           time.Time           `json:"created_at"`
}

// Snapshot copies out the externally visible fields.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		ID:                  s.ID,
		DialogueState:       s.DialogueState(),
		SubtaskDepth:        s.SubtaskDepth(),
		ConversationHistory: s.History.Lines(),
		LastContextLabel:    s.LastContextLabel,
		Round:               s.Round,
		Quality:             s.Quality.Summary(),
		CreatedAt:           s.CreatedAt,
	}
}

// draft is a working copy of the mutable parts of State. A turn edits the
// draft and commits it in one step, so a reader never sees half a turn.
type draft struct {
	history  *types.ConversationHistory
	quality  *degradation.Window
	machine  *dialogue.Machine
	context  string
	round    int
	lastTurn *types.TurnResult
}

func (s *State) draft() *draft {
	return &draft{
		history: s.History.Clone(),
		quality: s.Quality.Clone(),
		machine: s.machine.Clone(),
		context: s.LastContextLabel,
		round:   s.Round,
	}
}

func (s *State) commit(d *draft) {
	s.History = d.history
	s.Quality = d.quality
	s.machine = d.machine
	s.LastContextLabel = d.context
	s.Round = d.round
	s.lastTurn = d.lastTurn
}
