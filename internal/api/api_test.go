package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patientsim/internal/perception"
	"patientsim/internal/prompt"
	"patientsim/internal/recovery"
	"patientsim/internal/session"
	"patientsim/internal/store"
	"patientsim/internal/types"
)

const steadyReply = `{"reasoning": "The patient character is two days after surgery; considering the condition and based on the history, the reply should answer the question.",
 "classification_label": "NORMAL", "confidence": 0.8, "dialogue_context": "ward_round",
 "responses": ["I don't have a fever", "The wound feels tight", "I slept okay"]}`

type failingClient struct{ err error }

func (c failingClient) Complete(context.Context, string) (string, error) {
	return "", c.err
}

func (c failingClient) CompleteWithSystem(context.Context, string, string) (string, error) {
	return "", c.err
}

type fixture struct {
	server      *httptest.Server
	handler     *Handler
	sessions    *session.Store
	transcripts *store.TranscriptStore
}

func newFixture(t *testing.T, client perception.LLMClient) *fixture {
	t.Helper()
	builder, err := prompt.NewBuilder(prompt.Options{})
	require.NoError(t, err)
	transcripts, err := store.NewTranscriptStore(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { transcripts.Close() })

	orch := session.NewOrchestrator(session.DefaultOptions())
	sessions := session.NewStore(time.Hour, orch.NewState)
	h := NewHandler(Deps{
		Orchestrator: orch,
		Sessions:     sessions,
		Client:       client,
		Prompts:      builder,
		Character:    prompt.Character{Name: "Mr. Chen", Persona: "post-operative patient"},
		Transcripts:  transcripts,
	})
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return &fixture{server: srv, handler: h, sessions: sessions, transcripts: transcripts}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestProcessText_NewSession(t *testing.T) {
	client := perception.NewStaticClient(steadyReply)
	f := newFixture(t, client)

	resp := f.do(t, http.MethodPost, "/api/dialogue/text", TextRequest{Text: "Good morning, how did you sleep?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	out := decode[TurnResponse](t, resp)
	_, err := uuid.Parse(out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"I don't have a fever", "The wound feels tight", "I slept okay"}, out.Turn.Responses)
	assert.Equal(t, types.StateNormal, out.Turn.State)
	assert.Equal(t, "ward_round", out.Turn.ContextLabel)
	assert.Equal(t, 1, out.Session.Round)
	assert.Equal(t, []string{
		"Caregiver: Good morning, how did you sleep?",
		"Patient: I don't have a fever",
	}, out.Session.ConversationHistory)

	prompts := client.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Mr. Chen")
	assert.Contains(t, prompts[0], "Good morning, how did you sleep?")

	turns, err := f.transcripts.GetSessionTurns(context.Background(), out.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, steadyReply, turns[0].RawOutput)
	assert.Equal(t, "strict", turns[0].ParseMethod)
}

func TestProcessText_ContinuesSession(t *testing.T) {
	client := perception.NewStaticClient(steadyReply)
	f := newFixture(t, client)

	first := decode[TurnResponse](t, f.do(t, http.MethodPost, "/api/dialogue/text", TextRequest{Text: "Hello"}))
	second := decode[TurnResponse](t, f.do(t, http.MethodPost, "/api/dialogue/text",
		TextRequest{SessionID: first.SessionID, Text: "Any pain today?"}))

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 2, second.Turn.Round)
	assert.Equal(t, 1, f.sessions.Len())

	prompts := client.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "Hello", "history reaches the second prompt")
}

func TestProcessText_BadRequests(t *testing.T) {
	f := newFixture(t, perception.NewStaticClient(steadyReply))

	resp := f.do(t, http.MethodPost, "/api/dialogue/text", TextRequest{Text: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/dialogue/text", strings.NewReader("{not json"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/dialogue/text", TextRequest{SessionID: uuid.NewString(), Text: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProcessText_GenerationFailureStillReplies(t *testing.T) {
	f := newFixture(t, failingClient{err: errors.New("upstream unavailable")})

	resp := f.do(t, http.MethodPost, "/api/dialogue/text", TextRequest{Text: "How are you feeling?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[TurnResponse](t, resp)
	assert.Len(t, out.Turn.Responses, recovery.CandidateCount)
	assert.True(t, out.Turn.RecoveryApplied)
	assert.Contains(t, out.Turn.RecoveryReason, "upstream unavailable")
	assert.Equal(t, "failed", out.Turn.ParseMethod)

	turns, err := f.transcripts.GetSessionTurns(context.Background(), out.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Empty(t, turns[0].RawOutput)
	assert.True(t, turns[0].RecoveryApplied)
}

func TestProcessText_UnparseableOutputRecovers(t *testing.T) {
	f := newFixture(t, perception.NewStaticClient("{}[],,,"))

	out := decode[TurnResponse](t, f.do(t, http.MethodPost, "/api/dialogue/text", TextRequest{Text: "Did you eat?"}))
	assert.NotEmpty(t, out.Turn.Responses)
	assert.LessOrEqual(t, len(out.Turn.Responses), types.MaxResponses)
	assert.True(t, out.Turn.RecoveryApplied)
	assert.Equal(t, "failed", out.Turn.ParseMethod)
	for _, r := range out.Turn.Responses {
		assert.NotContains(t, r, "{}")
	}
}

func TestHistoryAndSelect(t *testing.T) {
	f := newFixture(t, perception.NewStaticClient(steadyReply))
	out := decode[TurnResponse](t, f.do(t, http.MethodPost, "/api/dialogue/text", TextRequest{Text: "Good morning"}))
	base := "/api/sessions/" + out.SessionID

	resp := f.do(t, http.MethodPost, base+"/select", SelectRequest{Index: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sel := decode[map[string]any](t, resp)
	assert.Equal(t, "I slept okay", sel["selected"])

	resp = f.do(t, http.MethodPost, base+"/select", SelectRequest{Index: 9})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	hist := decode[HistoryResponse](t, f.do(t, http.MethodGet, base+"/history", nil))
	assert.Equal(t, out.SessionID, hist.Session.ID)
	assert.Equal(t, []string{"Caregiver: Good morning", "Patient: I slept okay"}, hist.Session.ConversationHistory)
	assert.Equal(t, []uint32{0}, hist.Session.SubtaskDepth)
	require.Len(t, hist.Turns, 1)
	assert.Equal(t, "I slept okay", hist.Turns[0].SelectedResponse)
}

func TestSelect_BeforeAnyTurn(t *testing.T) {
	f := newFixture(t, perception.NewStaticClient(steadyReply))
	id := f.sessions.Create()

	resp := f.do(t, http.MethodPost, "/api/sessions/"+id+"/select", SelectRequest{Index: 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionParamValidation(t *testing.T) {
	f := newFixture(t, perception.NewStaticClient(steadyReply))

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/sessions/not-a-uuid/history", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/sessions/"+uuid.NewString()+"/history", nil).StatusCode)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, perception.NewStaticClient(steadyReply))
	out := decode[TurnResponse](t, f.do(t, http.MethodPost, "/api/dialogue/text", TextRequest{Text: "Hello"}))

	resp := f.do(t, http.MethodDelete, "/api/sessions/"+out.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, f.sessions.Len())

	turns, err := f.transcripts.GetSessionTurns(context.Background(), out.SessionID, 0)
	require.NoError(t, err)
	assert.Empty(t, turns)

	resp = f.do(t, http.MethodDelete, "/api/sessions/"+out.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndSessions(t *testing.T) {
	f := newFixture(t, perception.NewStaticClient(steadyReply))
	f.do(t, http.MethodPost, "/api/dialogue/text", TextRequest{Text: "Hello"})

	health := decode[HealthResponse](t, f.do(t, http.MethodGet, "/api/health", nil))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.ActiveSessions)
	assert.Equal(t, int64(1), health.Normalizer.Total)
	assert.Equal(t, int64(1), health.Normalizer.Strict)

	list := decode[map[string][]string](t, f.do(t, http.MethodGet, "/api/sessions", nil))
	assert.Equal(t, f.sessions.IDs(), list["sessions"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, perception.NewStaticClient(steadyReply))
	resp := f.do(t, http.MethodOptions, "/api/dialogue/text", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSwapOrchestrator(t *testing.T) {
	f := newFixture(t, perception.NewStaticClient(steadyReply))

	opts := session.DefaultOptions()
	opts.HistoryWindow = 2
	f.handler.SwapOrchestrator(session.NewOrchestrator(opts))

	out := decode[TurnResponse](t, f.do(t, http.MethodPost, "/api/dialogue/text", TextRequest{Text: "Hello"}))
	f.do(t, http.MethodPost, "/api/dialogue/text", TextRequest{SessionID: out.SessionID, Text: "Still sore?"})

	snap, err := f.sessions.Snapshot(out.SessionID)
	require.NoError(t, err)
	assert.Len(t, snap.ConversationHistory, 2, "new sessions use the swapped window")

	health := decode[HealthResponse](t, f.do(t, http.MethodGet, "/api/health", nil))
	assert.Equal(t, int64(2), health.Normalizer.Total, "stats come from the active orchestrator")
}
