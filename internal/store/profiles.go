package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hurttlocker/dossier/internal/profile"
)

// LoadSubject reads a subject's version, documents and overrides in one
// transaction so they describe the same moment.
func (s *SQLiteStore) LoadSubject(ctx context.Context, subjectID string) (*SubjectSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning read: %w", err)
	}
	defer tx.Rollback()

	snap := &SubjectSnapshot{SubjectID: subjectID}
	err = tx.QueryRowContext(ctx, `SELECT version FROM subjects WHERE subject_id = ?`, subjectID).Scan(&snap.Version)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("reading subject version: %w", err)
	}

	if snap.Documents, err = listDocuments(ctx, tx, subjectID); err != nil {
		return nil, err
	}
	if snap.Overrides, err = listOverrides(ctx, tx, subjectID); err != nil {
		return nil, err
	}
	return snap, nil
}

// SaveProfile replaces the subject's stored snapshot with p, built from
// inputs at sourceVersion. A snapshot built from older inputs than the
// stored one is discarded and SaveProfile reports false.
func (s *SQLiteStore) SaveProfile(ctx context.Context, p *profile.Profile, rep profile.Report, sourceVersion int64) (bool, error) {
	if p == nil || p.SubjectID == "" {
		return false, fmt.Errorf("profile subject cannot be empty")
	}
	snapshot, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("encoding profile: %w", err)
	}
	skipped := make([]string, 0, len(rep.Skipped))
	for _, sd := range rep.Skipped {
		skipped = append(skipped, sd.ID)
	}
	skippedJSON, err := json.Marshal(skipped)
	if err != nil {
		return false, fmt.Errorf("encoding skipped ids: %w", err)
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureSubject(ctx, tx, p.SubjectID, now); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO profiles (subject_id, snapshot, document_count, skipped_ids, source_version, last_aggregated, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			document_count = excluded.document_count,
			skipped_ids = excluded.skipped_ids,
			source_version = excluded.source_version,
			last_aggregated = excluded.last_aggregated,
			saved_at = excluded.saved_at
		 WHERE excluded.source_version >= profiles.source_version`,
		p.SubjectID, string(snapshot), p.DocumentCount, string(skippedJSON), sourceVersion, p.LastAggregated.UTC(), now,
	)
	if err != nil {
		return false, fmt.Errorf("saving profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking saved profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing profile: %w", err)
	}
	return n > 0, nil
}

// GetProfile returns the stored snapshot for a subject, or nil if the
// subject has never been aggregated.
func (s *SQLiteStore) GetProfile(ctx context.Context, subjectID string) (*ProfileRecord, error) {
	var snapshot, skippedJSON string
	rec := &ProfileRecord{}
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot, skipped_ids, source_version, saved_at FROM profiles WHERE subject_id = ?`, subjectID,
	).Scan(&snapshot, &skippedJSON, &rec.SourceVersion, &rec.SavedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile %s: %w", subjectID, err)
	}

	rec.Profile = &profile.Profile{}
	if err := json.Unmarshal([]byte(snapshot), rec.Profile); err != nil {
		return nil, fmt.Errorf("decoding profile %s: %w", subjectID, err)
	}
	if err := json.Unmarshal([]byte(skippedJSON), &rec.SkippedIDs); err != nil {
		return nil, fmt.Errorf("decoding skipped ids for %s: %w", subjectID, err)
	}
	rec.SavedAt = rec.SavedAt.UTC()
	return rec, nil
}

// StaleSubjects lists subjects whose inputs changed since their snapshot
// was built, including subjects never aggregated.
func (s *SQLiteStore) StaleSubjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.subject_id FROM subjects s
		 LEFT JOIN profiles p ON p.subject_id = s.subject_id
		 WHERE p.subject_id IS NULL OR p.source_version < s.version
		 ORDER BY s.subject_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stale subjects: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning stale subject: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
