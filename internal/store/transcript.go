// Package store persists session transcripts and degradation events in
// SQLite for later review. It is an audit log: the dialogue engine never
// reads it back to make decisions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"patientsim/internal/degradation"
	"patientsim/internal/logging"
	"patientsim/internal/types"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// TranscriptStore is the SQLite-backed transcript log.
type TranscriptStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// TurnRecord is one stored turn.
type TurnRecord struct {
	SessionID        string                `json:"session_id"`
	TurnNumber       int                   `json:"turn_number"`
	CaregiverInput   string                `json:"caregiver_input"`
	RawOutput        string                `json:"raw_output,omitempty"`
	Responses        []string              `json:"responses"`
	SelectedResponse string                `json:"selected_response,omitempty"`
	State            types.DialogueState   `json:"state"`
	DialogueContext  string                `json:"dialogue_context,omitempty"`
	ParseMethod      string                `json:"parse_method,omitempty"`
	Risk             types.DegradationRisk `json:"risk,omitempty"`
	QualityScore     float64               `json:"quality_score"`
	ConsistencyScore float64               `json:"consistency_score"`
	RecoveryApplied  bool                  `json:"recovery_applied"`
	RecoveryReason   string                `json:"recovery_reason,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}

// NewTranscriptStore opens (or creates) the database at path.
func NewTranscriptStore(path string) (*TranscriptStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewTranscriptStore")
	defer timer.Stop()

	if path != MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database is per-connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != MemoryPath {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
	}

	s := &TranscriptStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	logging.Store("TranscriptStore ready at %s", path)
	return s, nil
}

func (s *TranscriptStore) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS session_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			caregiver_input TEXT NOT NULL,
			raw_output TEXT,
			responses TEXT NOT NULL,
			selected_response TEXT,
			state TEXT NOT NULL,
			dialogue_context TEXT,
			parse_method TEXT,
			risk TEXT,
			quality_score REAL,
			consistency_score REAL,
			recovery_applied INTEGER NOT NULL DEFAULT 0,
			recovery_reason TEXT,
			created_at INTEGER NOT NULL,
			UNIQUE(session_id, turn_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_turns_session ON session_turns(session_id, turn_number)`,
		`CREATE TABLE IF NOT EXISTS degradation_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			risk TEXT NOT NULL,
			quality REAL NOT NULL,
			indicators TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_degradation_events_session ON degradation_events(session_id, round)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return RunMigrations(s.db)
}

// StoreTurn records a completed turn. A turn number already stored for the
// session is silently skipped.
func (s *TranscriptStore) StoreTurn(ctx context.Context, sessionID, input, raw string, turn types.TurnResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	responses, err := json.Marshal(turn.Responses)
	if err != nil {
		return fmt.Errorf("failed to encode responses: %w", err)
	}
	var consistencyScore float64
	if turn.Consistency != nil {
		consistencyScore = turn.Consistency.Score
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO session_turns
		 (session_id, turn_number, caregiver_input, raw_output, responses, state, dialogue_context,
		  parse_method, risk, quality_score, consistency_score, recovery_applied, recovery_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, turn.Round, input, raw, string(responses), string(turn.State), turn.ContextLabel,
		turn.ParseMethod, string(turn.Risk), turn.QualityScore, consistencyScore, turn.RecoveryApplied,
		turn.RecoveryReason, time.Now().UnixMilli(),
	)
	if err != nil {
		logging.StoreError("Failed to store turn %d for %s: %v", turn.Round, sessionID, err)
		return fmt.Errorf("failed to store turn: %w", err)
	}
	logging.StoreDebug("Stored turn %d for session %s", turn.Round, sessionID)
	return nil
}

// MarkSelected records which candidate the trainee picked for a turn.
func (s *TranscriptStore) MarkSelected(ctx context.Context, sessionID string, turnNumber int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE session_turns SET selected_response = ? WHERE session_id = ? AND turn_number = ?",
		text, sessionID, turnNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to mark selection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("turn %d of session %s not stored", turnNumber, sessionID)
	}
	return nil
}

// GetSessionTurns returns up to limit turns for a session, oldest first.
func (s *TranscriptStore) GetSessionTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetSessionTurns")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, turn_number, caregiver_input, COALESCE(raw_output, ''), responses,
		        COALESCE(selected_response, ''), state, COALESCE(dialogue_context, ''),
		        COALESCE(parse_method, ''), COALESCE(risk, ''), COALESCE(quality_score, 0),
		        COALESCE(consistency_score, 0), recovery_applied, COALESCE(recovery_reason, ''), created_at
		 FROM session_turns
		 WHERE session_id = ?
		 ORDER BY turn_number ASC
		 LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var (
			rec       TurnRecord
			responses string
			state     string
			risk      string
			created   int64
		)
		if err := rows.Scan(&rec.SessionID, &rec.TurnNumber, &rec.CaregiverInput, &rec.RawOutput, &responses,
			&rec.SelectedResponse, &state, &rec.DialogueContext, &rec.ParseMethod, &risk, &rec.QualityScore,
			&rec.ConsistencyScore, &rec.RecoveryApplied, &rec.RecoveryReason, &created); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if err := json.Unmarshal([]byte(responses), &rec.Responses); err != nil {
			logging.StoreDebug("Skipping undecodable responses for %s turn %d: %v", rec.SessionID, rec.TurnNumber, err)
		}
		rec.State = types.DialogueState(state)
		rec.Risk = types.DegradationRisk(risk)
		rec.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// StoreDegradationEvent records a high or critical turn.
func (s *TranscriptStore) StoreDegradationEvent(ctx context.Context, sessionID string, ev degradation.DegradationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	indicators, err := json.Marshal(ev.Indicators)
	if err != nil {
		return fmt.Errorf("failed to encode indicators: %w", err)
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO degradation_events (session_id, round, risk, quality, indicators, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		sessionID, ev.Round, string(ev.Risk), ev.Quality, string(indicators), at.UnixMilli(),
	); err != nil {
		logging.StoreError("Failed to store degradation event for %s: %v", sessionID, err)
		return fmt.Errorf("failed to store degradation event: %w", err)
	}
	return nil
}

// GetDegradationEvents returns a session's events in round order.
func (s *TranscriptStore) GetDegradationEvents(ctx context.Context, sessionID string) ([]degradation.DegradationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT round, risk, quality, COALESCE(indicators, '[]'), created_at FROM degradation_events WHERE session_id = ? ORDER BY round ASC, id ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query degradation events: %w", err)
	}
	defer rows.Close()

	var out []degradation.DegradationEvent
	for rows.Next() {
		var (
			ev         degradation.DegradationEvent
			risk       string
			indicators string
			created    int64
		)
		if err := rows.Scan(&ev.Round, &risk, &ev.Quality, &indicators, &created); err != nil {
			return nil, fmt.Errorf("failed to scan degradation event: %w", err)
		}
		ev.Risk = types.DegradationRisk(risk)
		_ = json.Unmarshal([]byte(indicators), &ev.Indicators)
		ev.At = time.UnixMilli(created).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteSession removes every record of a session.
func (s *TranscriptStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range []string{
		"DELETE FROM session_turns WHERE session_id = ?",
		"DELETE FROM degradation_events WHERE session_id = ?",
	} {
		if _, err := s.db.ExecContext(ctx, stmt, sessionID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *TranscriptStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
