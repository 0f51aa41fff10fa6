package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordMappingRun appends a mapping result to the audit trail.
func (s *SQLiteStore) RecordMappingRun(ctx context.Context, run *MappingRun) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	result, err := json.Marshal(run.Result)
	if err != nil {
		return "", fmt.Errorf("encoding mapping result: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mapping_runs (id, subject_id, document_id, form, result, confidence, needs_review, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SubjectID, run.DocumentID, run.Form, string(result),
		run.Result.Confidence, boolToInt(run.NeedsReview), run.CreatedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting mapping run: %w", err)
	}
	return run.ID, nil
}

// ListMappingRuns returns the most recent mapping runs, newest first. An
// empty subjectID lists runs for every subject.
func (s *SQLiteStore) ListMappingRuns(ctx context.Context, subjectID string, limit int) ([]*MappingRun, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT id, subject_id, document_id, form, result, needs_review, created_at FROM mapping_runs`
	args := []interface{}{}
	if subjectID != "" {
		query += ` WHERE subject_id = ?`
		args = append(args, subjectID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing mapping runs: %w", err)
	}
	defer rows.Close()

	var out []*MappingRun
	for rows.Next() {
		run := &MappingRun{}
		var result string
		var review int
		if err := rows.Scan(&run.ID, &run.SubjectID, &run.DocumentID, &run.Form, &result, &review, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning mapping run: %w", err)
		}
		if err := json.Unmarshal([]byte(result), &run.Result); err != nil {
			return nil, fmt.Errorf("decoding mapping run %s: %w", run.ID, err)
		}
		run.NeedsReview = review != 0
		run.CreatedAt = run.CreatedAt.UTC()
		out = append(out, run)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
