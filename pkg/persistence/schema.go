// Package persistence is the optional sqlite-backed index over session
// metadata and checkpoint records. It is purely a derived, rebuildable
// cache: the canonical record of a session lives in the files
// pkg/sessionhistory and pkg/snapshot write, never here. Losing this
// database loses query convenience, never data.
package persistence

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // sqlite driver
)

// CurrentSchemaVersion is the index schema version. Bump it and add a
// migrateToVersionN function whenever the indexed columns change.
const CurrentSchemaVersion = 1

// Open creates (or reuses) the sqlite index database at dbPath and brings
// its schema up to CurrentSchemaVersion. Safe to call repeatedly.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("persistence: opening index database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persistence: pinging index database: %w", err)
	}

	// sqlite only supports one writer; the orchestrator already serializes
	// writes per session, so a single connection never becomes a bottleneck.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persistence: migrating index schema: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	version, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("reading schema_version: %w", err)
	}
	if version == 0 {
		return createSchema(db)
	}
	for v := version + 1; v <= CurrentSchemaVersion; v++ {
		if err := runMigration(db, v); err != nil {
			return fmt.Errorf("migration to version %d: %w", v, err)
		}
		if err := setSchemaVersion(db, v); err != nil {
			return fmt.Errorf("recording schema version %d: %w", v, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 1:
		// version 1 is created directly by createSchema; nothing to migrate.
		return nil
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id         TEXT PRIMARY KEY,
			tier_id            TEXT NOT NULL,
			model_used         TEXT NOT NULL DEFAULT '',
			started_at         DATETIME NOT NULL,
			last_active_at     DATETIME NOT NULL,
			total_messages     INTEGER NOT NULL DEFAULT 0,
			compression_count  INTEGER NOT NULL DEFAULT 0,
			token_total        INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_records (
			id                     TEXT PRIMARY KEY,
			session_id             TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
			level                  INTEGER NOT NULL,
			created_at             DATETIME NOT NULL,
			range_start_id         TEXT NOT NULL,
			range_end_id           TEXT NOT NULL,
			original_tokens        INTEGER NOT NULL,
			compressed_tokens      INTEGER NOT NULL,
			ratio                  REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoint_records_session ON checkpoint_records(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt, err)
		}
	}
	return setSchemaVersion(db, CurrentSchemaVersion)
}

func schemaVersion(db *sql.DB) (int, error) {
	row := db.QueryRow(`SELECT version FROM schema_meta LIMIT 1`)
	var version int
	if err := row.Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		// schema_meta itself may not exist yet on a brand-new file.
		return 0, nil
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (version INTEGER NOT NULL)`); err != nil {
		return err
	}
	if _, err := db.Exec(`DELETE FROM schema_meta`); err != nil {
		return err
	}
	_, err := db.Exec(`INSERT INTO schema_meta (version) VALUES (?)`, version)
	return err
}
