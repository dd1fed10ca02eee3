package store

import (
	"database/sql"
	"fmt"
	"time"

	"patientsim/internal/logging"
)

// Schema versions:
// v1: session_turns (input, responses, state, scores)
// v2: added raw_output, parse_method, recovery_reason
// v3: added selected_response, degradation_events table
const CurrentSchemaVersion = 3

// Migration adds a column that older databases lack.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists the column additions since v1. Tables created
// by initialize already carry every column, so these only touch old files.
var pendingMigrations = []Migration{
	{"session_turns", "raw_output", "TEXT"},
	{"session_turns", "parse_method", "TEXT"},
	{"session_turns", "recovery_reason", "TEXT"},
	{"session_turns", "selected_response", "TEXT"},
}

// RunMigrations brings an existing database up to CurrentSchemaVersion and
// records the version.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		version INTEGER NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_versions: %w", err)
	}

	var recorded int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_versions").Scan(&recorded); err != nil {
		return fmt.Errorf("failed to read schema_versions: %w", err)
	}
	from := GetSchemaVersion(db)
	if from >= CurrentSchemaVersion {
		logging.StoreDebug("Schema at v%d, nothing to migrate", from)
		if recorded == 0 {
			return recordVersion(db)
		}
		return nil
	}

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) || columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}

	if err := recordVersion(db); err != nil {
		return err
	}
	logging.Store("Schema migrated v%d -> v%d (%d column(s) added)", from, CurrentSchemaVersion, applied)
	return nil
}

func recordVersion(db *sql.DB) error {
	if _, err := db.Exec("INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)",
		CurrentSchemaVersion, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the recorded schema version, inferring it from
// the table layout when nothing was recorded.
func GetSchemaVersion(db *sql.DB) int {
	if tableExists(db, "schema_versions") {
		var version int
		err := db.QueryRow("SELECT version FROM schema_versions ORDER BY version DESC LIMIT 1").Scan(&version)
		if err == nil {
			return version
		}
	}
	return inferSchemaVersion(db)
}

func inferSchemaVersion(db *sql.DB) int {
	switch {
	case !tableExists(db, "session_turns"):
		return 0
	case columnExists(db, "session_turns", "selected_response") && tableExists(db, "degradation_events"):
		return 3
	case columnExists(db, "session_turns", "parse_method"):
		return 2
	default:
		return 1
	}
}

// columnExists checks a column via PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             interface{}
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
		logging.StoreDebug("Table existence check failed for %s: %v", table, err)
		return false
	}
	return count > 0
}
