package store

import "fmt"

// currentSchemaVersion is the latest schema version.
const currentSchemaVersion = 1

// Migrate runs forward migrations to bring the database schema up to date.
func (db *DB) Migrate() error {
	// Create the schema_version table if it does not exist.
	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	version := 0
	row := db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1")
	if err := row.Scan(&version); err != nil {
		// No rows means version 0 (fresh database).
		version = 0
	}

	if version < 1 {
		if err := db.migrateV1(); err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}

	return nil
}

// migrateV1 creates all initial tables and indexes.
func (db *DB) migrateV1() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at          TEXT NOT NULL,
			ended_at            TEXT NOT NULL,
			project             TEXT NOT NULL,
			health_score        INTEGER NOT NULL,
			total_queries       INTEGER NOT NULL,
			slow_queries        INTEGER NOT NULL,
			select_star_count   INTEGER NOT NULL,
			missing_index_hints INTEGER NOT NULL,
			request_count       INTEGER NOT NULL,
			exception_count     INTEGER NOT NULL,
			n_plus_one_count    INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS slow_queries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES sessions(id),
			raw        TEXT NOT NULL,
			table_name TEXT,
			max_ms     REAL NOT NULL,
			count      INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS exceptions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES sessions(id),
			class      TEXT NOT NULL,
			top_frame  TEXT NOT NULL,
			severity   TEXT NOT NULL,
			count      INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS endpoints (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id    INTEGER NOT NULL REFERENCES sessions(id),
			method        TEXT NOT NULL,
			path_template TEXT NOT NULL,
			count         INTEGER NOT NULL,
			errors        INTEGER NOT NULL,
			avg_ms        REAL NOT NULL
		)`,

		// Indexes.
		`CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project)`,
		`CREATE INDEX IF NOT EXISTS idx_slow_queries_session ON slow_queries(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_exceptions_session ON exceptions(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_session ON endpoints(session_id)`,
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt[:40], err)
		}
	}

	// Set schema version.
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
		return err
	}

	return tx.Commit()
}
