package types

import "fmt"

// Speaker identifies who authored an utterance.
type Speaker string

const (
	SpeakerCaregiver Speaker = "caregiver"
	SpeakerPatient   Speaker = "patient"
	SpeakerSystem    Speaker = "system"
)

// Label is the prefix used when an utterance is rendered as a transcript line.
func (s Speaker) Label() string {
	switch s {
	case SpeakerCaregiver:
		return "Caregiver"
	case SpeakerPatient:
		return "Patient"
	default:
		return "System"
	}
}

// Utterance is a single line of the conversation.
type Utterance struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// String renders "Speaker: text".
func (u Utterance) String() string {
	return fmt.Sprintf("%s: %s", u.Speaker.Label(), u.Text)
}

// DefaultHistoryWindow caps the history kept for prompt construction.
const DefaultHistoryWindow = 20

// ConversationHistory is an ordered, capped window of utterances.
// Insertion order is significant; the oldest entries fall off once the cap is hit.
// It is not safe for concurrent mutation; the session layer serializes turns.
type ConversationHistory struct {
	entries []Utterance
	limit   int
}

// NewConversationHistory creates an empty history keeping at most limit entries.
// A non-positive limit falls back to DefaultHistoryWindow.
func NewConversationHistory(limit int) *ConversationHistory {
	if limit <= 0 {
		limit = DefaultHistoryWindow
	}
	return &ConversationHistory{limit: limit}
}

// HistoryFrom builds a history from existing utterances, applying the cap.
func HistoryFrom(limit int, utterances ...Utterance) *ConversationHistory {
	h := NewConversationHistory(limit)
	for _, u := range utterances {
		h.Append(u)
	}
	return h
}

// Limit returns the window cap.
func (h *ConversationHistory) Limit() int { return h.limit }

// Len returns the number of retained entries.
func (h *ConversationHistory) Len() int {
	if h == nil {
		return 0
	}
	return len(h.entries)
}

// Append adds an utterance and trims from the front past the cap.
func (h *ConversationHistory) Append(u Utterance) {
	h.entries = append(h.entries, u)
	if over := len(h.entries) - h.limit; over > 0 {
		h.entries = append([]Utterance(nil), h.entries[over:]...)
	}
}

// Entries returns a copy of the retained utterances, oldest first.
func (h *ConversationHistory) Entries() []Utterance {
	if h == nil {
		return nil
	}
	out := make([]Utterance, len(h.entries))
	copy(out, h.entries)
	return out
}

// Last returns the most recent utterance by the given speaker.
func (h *ConversationHistory) Last(speaker Speaker) (Utterance, bool) {
	if h == nil {
		return Utterance{}, false
	}
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Speaker == speaker {
			return h.entries[i], true
		}
	}
	return Utterance{}, false
}

// ReplaceLast overwrites the text of the most recent utterance by speaker.
// Returns false when the speaker has no entry.
func (h *ConversationHistory) ReplaceLast(speaker Speaker, text string) bool {
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Speaker == speaker {
			h.entries[i].Text = text
			return true
		}
	}
	return false
}

// Truncate keeps only the most recent keep entries.
func (h *ConversationHistory) Truncate(keep int) {
	if keep < 0 {
		keep = 0
	}
	if len(h.entries) <= keep {
		return
	}
	h.entries = append([]Utterance(nil), h.entries[len(h.entries)-keep:]...)
}

// Clone returns an independent copy.
func (h *ConversationHistory) Clone() *ConversationHistory {
	if h == nil {
		return nil
	}
	return &ConversationHistory{entries: h.Entries(), limit: h.limit}
}

// Lines renders the history as "Speaker: text" strings.
func (h *ConversationHistory) Lines() []string {
	if h == nil {
		return []string{}
	}
	out := make([]string, 0, len(h.entries))
	for _, u := range h.entries {
		out = append(out, u.String())
	}
	return out
}
