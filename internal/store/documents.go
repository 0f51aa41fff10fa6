package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// AddDocument inserts a document and bumps its subject's version. Assigns
// an ID and content hash when missing. If the subject already holds a
// document with identical content, nothing is written and the existing
// document's ID is returned with duplicate set.
func (s *SQLiteStore) AddDocument(ctx context.Context, d *Document) (string, bool, error) {
	d.SubjectID = strings.TrimSpace(d.SubjectID)
	if d.SubjectID == "" {
		return "", false, fmt.Errorf("document subject cannot be empty")
	}
	if len(d.Payload) == 0 {
		d.Payload = []byte("{}")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.ContentHash == "" {
		d.ContentHash = HashDocumentContent(d.SubjectID, d.Payload, d.Text)
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.CreatedAt = d.CreatedAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE subject_id = ? AND content_hash = ?`,
		d.SubjectID, d.ContentHash,
	).Scan(&existing)
	if err == nil {
		return existing, true, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("checking duplicate document: %w", err)
	}

	if err := bumpVersion(ctx, tx, d.SubjectID, now); err != nil {
		return "", false, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, subject_id, payload, text, confidence, content_hash, created_at, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SubjectID, string(d.Payload), d.Text, d.Confidence, d.ContentHash, d.CreatedAt, now,
	)
	if err != nil {
		return "", false, fmt.Errorf("inserting document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("committing document: %w", err)
	}

	d.IngestedAt = now
	return d.ID, false, nil
}

// GetDocument retrieves a document by ID. Returns nil if not found.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, payload, text, confidence, content_hash, created_at, ingested_at
		 FROM documents WHERE id = ?`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// ListDocuments returns a subject's documents in ascending creation order.
// Documents created at the same instant keep insertion order.
func (s *SQLiteStore) ListDocuments(ctx context.Context, subjectID string) ([]*Document, error) {
	return listDocuments(ctx, s.db, subjectID)
}

func listDocuments(ctx context.Context, q queryer, subjectID string) ([]*Document, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, subject_id, payload, text, confidence, content_hash, created_at, ingested_at
		 FROM documents WHERE subject_id = ?
		 ORDER BY created_at ASC, rowid ASC`, subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents for %s: %w", subjectID, err)
	}
	return scanDocuments(rows)
}

// ListSubjects returns every subject that has documents or overrides.
func (s *SQLiteStore) ListSubjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subject_id FROM subjects ORDER BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("listing subjects: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning subject: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanDocuments(rows *sql.Rows) ([]*Document, error) {
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d := &Document{}
		var payload string
		if err := rows.Scan(&d.ID, &d.SubjectID, &payload, &d.Text, &d.Confidence,
			&d.ContentHash, &d.CreatedAt, &d.IngestedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.Payload = []byte(payload)
		d.CreatedAt = d.CreatedAt.UTC()
		d.IngestedAt = d.IngestedAt.UTC()
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// bumpVersion marks a subject's profile inputs as changed.
func bumpVersion(ctx context.Context, e execer, subjectID string, now time.Time) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO subjects (subject_id, version, updated_at) VALUES (?, 1, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET version = version + 1, updated_at = excluded.updated_at`,
		subjectID, now,
	)
	if err != nil {
		return fmt.Errorf("bumping subject version: %w", err)
	}
	return nil
}

func ensureSubject(ctx context.Context, e execer, subjectID string, now time.Time) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO subjects (subject_id, version, updated_at) VALUES (?, 0, ?)
		 ON CONFLICT(subject_id) DO NOTHING`,
		subjectID, now,
	)
	if err != nil {
		return fmt.Errorf("registering subject: %w", err)
	}
	return nil
}
