package store

import (
	"context"
	"fmt"
)

// Stats returns current database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM documents", &stats.DocumentCount},
		{"SELECT COUNT(*) FROM subjects", &stats.SubjectCount},
		{"SELECT COUNT(*) FROM profiles", &stats.ProfileCount},
		{`SELECT COUNT(*) FROM subjects s LEFT JOIN profiles p ON p.subject_id = s.subject_id
		  WHERE p.subject_id IS NULL OR p.source_version < s.version`, &stats.StaleCount},
		{"SELECT COUNT(*) FROM profile_overrides", &stats.OverrideCount},
		{"SELECT COUNT(*) FROM mapping_runs", &stats.MappingRunCount},
		{"SELECT COUNT(*) FROM mapping_runs WHERE needs_review = 1", &stats.ReviewCount},
	}

	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("querying stats (%s): %w", q.query, err)
		}
	}

	// Get DB size (only works for file-based DBs)
	if s.dbPath != ":memory:" {
		var pageCount, pageSize int64
		s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
		s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.DBSizeBytes = pageCount * pageSize
	}

	return stats, nil
}
