// Package api exposes the dialogue engine over HTTP.
//
// The handler owns the turn loop the engine itself leaves to its caller:
// build the patient prompt, call the generation service under a deadline,
// then hand the raw text (or the failure) to the orchestrator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"patientsim/internal/articulation"
	"patientsim/internal/degradation"
	"patientsim/internal/logging"
	"patientsim/internal/perception"
	"patientsim/internal/prompt"
	"patientsim/internal/session"
	"patientsim/internal/store"
	"patientsim/internal/types"
)

// DefaultGenerationTimeout bounds one generation call when none is configured.
const DefaultGenerationTimeout = 30 * time.Second

// Deps are the collaborators a Handler needs. Transcripts is optional.
type Deps struct {
	Orchestrator      *session.Orchestrator
	Sessions          *session.Store
	Client            perception.LLMClient
	Prompts           *prompt.Builder
	Character         prompt.Character
	Transcripts       *store.TranscriptStore
	GenerationTimeout time.Duration
}

// Handler serves the dialogue endpoints.
type Handler struct {
	orch      atomic.Pointer[session.Orchestrator]
	character atomic.Pointer[prompt.Character]

	sessions    *session.Store
	client      perception.LLMClient
	prompts     *prompt.Builder
	transcripts *store.TranscriptStore
	timeout     time.Duration
	started     time.Time
}

// NewHandler wires a Handler and points the session store at the
// orchestrator's state constructor.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		sessions:    d.Sessions,
		client:      d.Client,
		prompts:     d.Prompts,
		transcripts: d.Transcripts,
		timeout:     d.GenerationTimeout,
		started:     time.Now(),
	}
	if h.timeout <= 0 {
		h.timeout = DefaultGenerationTimeout
	}
	h.SwapOrchestrator(d.Orchestrator)
	h.SetCharacter(d.Character)
	return h
}

// SwapOrchestrator installs a new pipeline. Turns already running finish on
// the old one; live sessions keep their state.
func (h *Handler) SwapOrchestrator(o *session.Orchestrator) {
	h.orch.Store(o)
	h.sessions.SetFactory(o.NewState)
}

// SetCharacter replaces the persona used for new prompts.
func (h *Handler) SetCharacter(c prompt.Character) {
	h.character.Store(&c)
}

// TextRequest is the body of POST /dialogue/text.
type TextRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// TurnResponse is returned for every processed turn.
type TurnResponse struct {
	SessionID string           `json:"session_id"`
	Turn      types.TurnResult `json:"turn"`
	Session   session.Snapshot `json:"session"`
}

// SelectRequest is the body of POST /sessions/{id}/select.
type SelectRequest struct {
	Index int `json:"index"`
}

// HistoryResponse combines the live session view with the stored transcript.
type HistoryResponse struct {
	Session session.Snapshot               `json:"session"`
	Turns   []store.TurnRecord             `json:"turns,omitempty"`
	Events  []degradation.DegradationEvent `json:"degradation_events,omitempty"`
}

// HealthResponse reports liveness and pipeline counters.
type HealthResponse struct {
	Status         string             `json:"status"`
	ActiveSessions int                `json:"active_sessions"`
	Uptime         string             `json:"uptime"`
	Normalizer     articulation.Stats `json:"normalizer"`
}

// ProcessText runs one caregiver turn.
func (h *Handler) ProcessText(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	id, err := h.sessions.Ensure(req.SessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	var resp TurnResponse
	err = h.sessions.With(id, func(st *session.State) error {
		turn, raw := h.runTurn(r.Context(), st, req.Text)
		resp = TurnResponse{SessionID: id, Turn: turn, Session: st.Snapshot()}
		h.persist(r.Context(), id, req.Text, raw, turn, st.Quality.Events())
		return nil
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// runTurn generates and processes one turn. The caller holds the session.
func (h *Handler) runTurn(ctx context.Context, st *session.State, input string) (types.TurnResult, string) {
	orch := h.orch.Load()

	p, err := h.prompts.Build(prompt.Request{
		Character: *h.character.Load(),
		State:     st.DialogueState(),
		Input:     input,
		History:   st.History.Entries(),
	})
	if err != nil {
		logging.Get(logging.CategoryAPI).Error("session %s: prompt build failed: %v", st.ID, err)
		return orch.ProcessGenerationFailure(st, input, err), ""
	}

	genCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	raw, err := h.client.Complete(genCtx, p)
	if err != nil {
		logging.Get(logging.CategoryAPI).Warn("session %s: generation failed: %v", st.ID, err)
		return orch.ProcessGenerationFailure(st, input, err), ""
	}
	return orch.ProcessTurn(st, input, raw), raw
}

// persist writes the turn and any degradation event it raised. Storage
// errors are logged; the trainee still gets the reply.
func (h *Handler) persist(ctx context.Context, id, input, raw string, turn types.TurnResult, events []degradation.DegradationEvent) {
	if h.transcripts == nil {
		return
	}
	if err := h.transcripts.StoreTurn(ctx, id, input, raw, turn); err != nil {
		logging.StoreError("session %s: store turn %d: %v", id, turn.Round, err)
	}
	for _, ev := range events {
		if ev.Round != turn.Round {
			continue
		}
		if err := h.transcripts.StoreDegradationEvent(ctx, id, ev); err != nil {
			logging.StoreError("session %s: store degradation event: %v", id, err)
		}
	}
}

// History returns the session view plus the persisted transcript.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	snap, err := h.sessions.Snapshot(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	resp := HistoryResponse{Session: snap}
	if h.transcripts != nil {
		if resp.Turns, err = h.transcripts.GetSessionTurns(r.Context(), id, 0); err != nil {
			logging.StoreError("session %s: load turns: %v", id, err)
		}
		if resp.Events, err = h.transcripts.GetDegradationEvents(r.Context(), id); err != nil {
			logging.StoreError("session %s: load degradation events: %v", id, err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Select records which candidate the trainee picked for the last turn.
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	var (
		chosen string
		round  int
	)
	err := h.sessions.With(id, func(st *session.State) error {
		var err error
		chosen, err = h.orch.Load().SelectResponse(st, req.Index)
		round = st.Round
		return err
	})
	switch {
	case errors.Is(err, session.ErrInvalidSelection), errors.Is(err, session.ErrNoTurn):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		writeSessionError(w, err)
		return
	}

	if h.transcripts != nil {
		if err := h.transcripts.MarkSelected(r.Context(), id, round, chosen); err != nil {
			logging.StoreError("session %s: mark selected: %v", id, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"round":      round,
		"selected":   chosen,
	})
}

// Delete ends a session and drops its transcript.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	if !h.sessions.Delete(id) {
		writeSessionError(w, session.ErrSessionNotFound)
		return
	}
	if h.transcripts != nil {
		if err := h.transcripts.DeleteSession(r.Context(), id); err != nil {
			logging.StoreError("session %s: delete transcript: %v", id, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sessions lists live session IDs.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.sessions.IDs()})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		ActiveSessions: h.sessions.Len(),
		Uptime:         time.Since(h.started).Round(time.Second).String(),
		Normalizer:     h.orch.Load().NormalizerStats(),
	})
}

func sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	logging.Get(logging.CategoryAPI).Error("request failed: %v", err)
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryAPI).Warn("encode response: %v", err)
	}
}
