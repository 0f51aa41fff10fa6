package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hurttlocker/dossier/internal/fieldmap"
	"github.com/hurttlocker/dossier/internal/profile"
)

// SetOverride stores a manual edit for one profile field, replacing any
// earlier edit of the same normalized key. Empty values are kept: they
// remove the field from the profile.
func (s *SQLiteStore) SetOverride(ctx context.Context, subjectID string, o profile.Override) error {
	subjectID = strings.TrimSpace(subjectID)
	key := fieldmap.NormalizeKey(o.Key)
	if subjectID == "" || key == "" {
		return fmt.Errorf("override needs a subject and a field key")
	}
	if o.Values == nil {
		o.Values = []string{}
	}
	vals, err := json.Marshal(o.Values)
	if err != nil {
		return fmt.Errorf("encoding override values: %w", err)
	}
	now := time.Now().UTC()
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := bumpVersion(ctx, tx, subjectID, now); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO profile_overrides (subject_id, field_key, vals, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(subject_id, field_key) DO UPDATE SET vals = excluded.vals, updated_at = excluded.updated_at`,
		subjectID, key, string(vals), o.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving override: %w", err)
	}
	return tx.Commit()
}

// DeleteOverride drops a manual edit so the field reverts to its
// aggregated values. Reports whether an edit existed.
func (s *SQLiteStore) DeleteOverride(ctx context.Context, subjectID, key string) (bool, error) {
	key = fieldmap.NormalizeKey(key)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM profile_overrides WHERE subject_id = ? AND field_key = ?`, subjectID, key,
	)
	if err != nil {
		return false, fmt.Errorf("deleting override: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking deleted override: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := bumpVersion(ctx, tx, subjectID, time.Now().UTC()); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing override delete: %w", err)
	}
	return true, nil
}

// ListOverrides returns a subject's manual edits, oldest first.
func (s *SQLiteStore) ListOverrides(ctx context.Context, subjectID string) ([]profile.Override, error) {
	return listOverrides(ctx, s.db, subjectID)
}

func listOverrides(ctx context.Context, q queryer, subjectID string) ([]profile.Override, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT field_key, vals, updated_at FROM profile_overrides
		 WHERE subject_id = ? ORDER BY updated_at ASC, field_key ASC`, subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing overrides for %s: %w", subjectID, err)
	}
	defer rows.Close()

	var out []profile.Override
	for rows.Next() {
		var o profile.Override
		var vals string
		if err := rows.Scan(&o.Key, &vals, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning override: %w", err)
		}
		if err := json.Unmarshal([]byte(vals), &o.Values); err != nil {
			return nil, fmt.Errorf("decoding override %s: %w", o.Key, err)
		}
		o.UpdatedAt = o.UpdatedAt.UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}
