package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const v1Schema = `CREATE TABLE session_turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	turn_number INTEGER NOT NULL,
	caregiver_input TEXT NOT NULL,
	responses TEXT NOT NULL,
	state TEXT NOT NULL,
	dialogue_context TEXT,
	risk TEXT,
	quality_score REAL,
	consistency_score REAL,
	recovery_applied INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE(session_id, turn_number)
)`

func TestMigrations_FreshDatabase(t *testing.T) {
	s := newMemoryStore(t)
	assert.Equal(t, CurrentSchemaVersion, GetSchemaVersion(s.db))

	var rows int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_versions").Scan(&rows))
	assert.Equal(t, 1, rows)

	// Running again records nothing new.
	require.NoError(t, RunMigrations(s.db))
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_versions").Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestMigrations_UpgradesV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	old, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = old.Exec(v1Schema)
	require.NoError(t, err)
	_, err = old.Exec(`INSERT INTO session_turns (session_id, turn_number, caregiver_input, responses, state, created_at)
		VALUES ('sess-old', 1, 'hello', '["hi"]', 'NORMAL', 0)`)
	require.NoError(t, err)
	assert.Equal(t, 1, GetSchemaVersion(old))
	require.NoError(t, old.Close())

	s, err := NewTranscriptStore(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, CurrentSchemaVersion, GetSchemaVersion(s.db))
	for _, m := range pendingMigrations {
		assert.True(t, columnExists(s.db, m.Table, m.Column), "%s.%s", m.Table, m.Column)
	}
	assert.True(t, tableExists(s.db, "degradation_events"))

	ctx := context.Background()
	require.NoError(t, s.MarkSelected(ctx, "sess-old", 1, "hi"))
	turns, err := s.GetSessionTurns(ctx, "sess-old", 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, []string{"hi"}, turns[0].Responses)
	assert.Equal(t, "hi", turns[0].SelectedResponse)
	assert.Empty(t, turns[0].RawOutput)
}
