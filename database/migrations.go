package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// GetMigrations returns all database migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create chat, data source and AI model tables",
			Up: `
				CREATE TABLE IF NOT EXISTS sessions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					title TEXT NOT NULL,
					data_source_id TEXT NOT NULL,
					selected_tables TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'active',
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);

				CREATE TABLE IF NOT EXISTS messages (
					id TEXT PRIMARY KEY,
					session_id TEXT NOT NULL REFERENCES sessions(id),
					role TEXT NOT NULL,
					content TEXT NOT NULL DEFAULT '',
					sql_text TEXT NOT NULL DEFAULT '',
					result_preview TEXT NOT NULL DEFAULT '',
					chart_config TEXT NOT NULL DEFAULT '',
					chart_kind TEXT NOT NULL DEFAULT '',
					error_text TEXT NOT NULL DEFAULT '',
					tokens_used INTEGER NOT NULL DEFAULT 0,
					latency_seconds REAL NOT NULL DEFAULT 0,
					recommended_questions TEXT NOT NULL DEFAULT '',
					contains_complex_sql INTEGER NOT NULL DEFAULT 0,
					created_at INTEGER NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

				CREATE TABLE IF NOT EXISTS datasources (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					dialect TEXT NOT NULL,
					host TEXT NOT NULL DEFAULT '',
					port INTEGER NOT NULL DEFAULT 0,
					database_name TEXT NOT NULL DEFAULT '',
					username TEXT NOT NULL DEFAULT '',
					password_cipher TEXT NOT NULL DEFAULT '',
					charset TEXT NOT NULL DEFAULT '',
					params TEXT NOT NULL DEFAULT '',
					active INTEGER NOT NULL DEFAULT 1,
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				);

				CREATE TABLE IF NOT EXISTS ai_models (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					provider TEXT NOT NULL,
					api_key_cipher TEXT NOT NULL DEFAULT '',
					base_url TEXT NOT NULL DEFAULT '',
					model TEXT NOT NULL,
					max_tokens INTEGER NOT NULL DEFAULT 0,
					temperature REAL NOT NULL DEFAULT 0,
					is_default INTEGER NOT NULL DEFAULT 0,
					active INTEGER NOT NULL DEFAULT 1,
					scene TEXT NOT NULL DEFAULT '',
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				);
			`,
			Down: `
				DROP TABLE IF EXISTS ai_models;
				DROP TABLE IF EXISTS datasources;
				DROP INDEX IF EXISTS idx_messages_session;
				DROP TABLE IF EXISTS messages;
				DROP INDEX IF EXISTS idx_sessions_user;
				DROP TABLE IF EXISTS sessions;
			`,
		},
		{
			Version:     2,
			Description: "Create knowledge tables",
			Up: `
				CREATE TABLE IF NOT EXISTS terms (
					id TEXT PRIMARY KEY,
					phrase TEXT NOT NULL,
					field_name TEXT NOT NULL,
					table_scope TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT '',
					embedding BLOB,
					created_at INTEGER NOT NULL
				);

				CREATE TABLE IF NOT EXISTS examples (
					id TEXT PRIMARY KEY,
					question TEXT NOT NULL,
					sql_text TEXT NOT NULL,
					dialect TEXT NOT NULL DEFAULT '',
					hint_table TEXT NOT NULL DEFAULT '',
					chart_kind TEXT NOT NULL DEFAULT '',
					embedding BLOB,
					created_at INTEGER NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_examples_dialect ON examples(dialect);

				CREATE TABLE IF NOT EXISTS prompts (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					content TEXT NOT NULL,
					kind TEXT NOT NULL DEFAULT '',
					priority INTEGER NOT NULL DEFAULT 0,
					active INTEGER NOT NULL DEFAULT 1,
					created_at INTEGER NOT NULL
				);

				CREATE TABLE IF NOT EXISTS articles (
					id TEXT PRIMARY KEY,
					title TEXT NOT NULL,
					body TEXT NOT NULL,
					category TEXT NOT NULL DEFAULT '',
					tags TEXT NOT NULL DEFAULT '',
					embedding BLOB,
					created_at INTEGER NOT NULL
				);
			`,
			Down: `
				DROP TABLE IF EXISTS articles;
				DROP TABLE IF EXISTS prompts;
				DROP INDEX IF EXISTS idx_examples_dialect;
				DROP TABLE IF EXISTS examples;
				DROP TABLE IF EXISTS terms;
			`,
		},
	}
}

// InitDB opens the self-storage database at dbPath and runs migrations.
func InitDB(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createMigrationsTable(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// createMigrationsTable creates the schema_migrations table to track applied migrations
func createMigrationsTable(db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`
	_, err := db.Exec(query)
	return err
}

// runMigrations applies all pending migrations
func runMigrations(db *sql.DB) error {
	for _, migration := range GetMigrations() {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", migration.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration status for version %d: %w", migration.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d (%s): %w", migration.Version, migration.Description, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version, description) VALUES (?, ?)", migration.Version, migration.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
