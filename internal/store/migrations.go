package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SchemaVersion is recorded in meta on first open.
const SchemaVersion = "1"

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	// Seed metadata (outside bootstrap transaction, meta table now exists)
	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Schema evolution: review queue index on mapping runs
	if err := s.migrateReviewIndex(); err != nil {
		return fmt.Errorf("migrating review index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		// One row per subject; version bumps on every profile-affecting write
		`CREATE TABLE IF NOT EXISTS subjects (
			subject_id TEXT PRIMARY KEY,
			version    INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Ingested documents
		`CREATE TABLE IF NOT EXISTS documents (
			id           TEXT PRIMARY KEY,
			subject_id   TEXT NOT NULL REFERENCES subjects(subject_id),
			payload      TEXT NOT NULL,
			text         TEXT NOT NULL DEFAULT '',
			confidence   REAL NOT NULL DEFAULT 0,
			content_hash TEXT NOT NULL,
			created_at   DATETIME NOT NULL,
			ingested_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (subject_id, content_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_subject ON documents(subject_id, created_at)`,

		// Latest aggregated snapshot per subject
		`CREATE TABLE IF NOT EXISTS profiles (
			subject_id      TEXT PRIMARY KEY REFERENCES subjects(subject_id),
			snapshot        TEXT NOT NULL,
			document_count  INTEGER NOT NULL DEFAULT 0,
			skipped_ids     TEXT NOT NULL DEFAULT '[]',
			source_version  INTEGER NOT NULL DEFAULT 0,
			last_aggregated DATETIME NOT NULL,
			saved_at        DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Manual per-field edits
		`CREATE TABLE IF NOT EXISTS profile_overrides (
			subject_id TEXT NOT NULL REFERENCES subjects(subject_id),
			field_key  TEXT NOT NULL,
			vals       TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (subject_id, field_key)
		)`,

		// Mapping audit trail
		`CREATE TABLE IF NOT EXISTS mapping_runs (
			id           TEXT PRIMARY KEY,
			subject_id   TEXT NOT NULL DEFAULT '',
			document_id  TEXT NOT NULL DEFAULT '',
			form         TEXT NOT NULL DEFAULT '',
			result       TEXT NOT NULL,
			confidence   REAL NOT NULL DEFAULT 0,
			needs_review INTEGER NOT NULL DEFAULT 0,
			created_at   DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mapping_runs_subject ON mapping_runs(subject_id, created_at)`,

		// Metadata table
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	value, err := s.getMetaValue(key)
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func (s *SQLiteStore) getMetaValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// seedMeta initializes the meta table with defaults if not already set.
func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": SchemaVersion,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

// migrateReviewIndex indexes mapping runs awaiting human review.
func (s *SQLiteStore) migrateReviewIndex() error {
	done, err := s.isMetaFlagEnabled("review_index_v1")
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_mapping_runs_review ON mapping_runs(needs_review, created_at)`); err != nil {
		return fmt.Errorf("creating review index: %w", err)
	}
	return s.setMetaFlag("review_index_v1")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
