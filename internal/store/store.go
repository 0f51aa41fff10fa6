// Package store provides the SQLite storage layer for dossier.
//
// All data lives in a single SQLite database file, including:
// - Ingested documents with their decoded field payloads and source text
// - The latest aggregated profile snapshot per subject
// - Manual field overrides, re-applied after every aggregation
// - An audit trail of field-mapping runs
//
// Every write that affects a subject's profile bumps that subject's
// version. A profile snapshot records the version it was built from, so a
// subject is stale whenever its version moved past its snapshot.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hurttlocker/dossier/internal/fieldmap"
	"github.com/hurttlocker/dossier/internal/profile"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.dossier/dossier.db"

// DefaultListLimit caps list queries that take no explicit limit.
const DefaultListLimit = 100

// Document is one ingested document for a subject.
type Document struct {
	ID          string
	SubjectID   string
	Payload     []byte // JSON object of structured fields
	Text        string // raw extracted text, may be empty
	Confidence  float64
	ContentHash string
	CreatedAt   time.Time
	IngestedAt  time.Time
}

// Record converts d to the aggregator's input form.
func (d *Document) Record() profile.DocumentRecord {
	return profile.DocumentRecord{
		ID:         d.ID,
		CreatedAt:  d.CreatedAt,
		Confidence: d.Confidence,
		Payload:    d.Payload,
	}
}

// SubjectSnapshot is a consistent read of everything that feeds a
// subject's profile.
type SubjectSnapshot struct {
	SubjectID string
	Version   int64
	Documents []*Document
	Overrides []profile.Override
}

// ProfileRecord is a stored profile snapshot.
type ProfileRecord struct {
	Profile       *profile.Profile
	SkippedIDs    []string
	SourceVersion int64
	SavedAt       time.Time
}

// MappingRun is the audit record of one field-mapping invocation.
type MappingRun struct {
	ID          string
	SubjectID   string
	DocumentID  string
	Form        string
	Result      fieldmap.MappingResult
	NeedsReview bool
	CreatedAt   time.Time
}

// StoreStats holds observability statistics about the store.
type StoreStats struct {
	DocumentCount   int64
	SubjectCount    int64
	ProfileCount    int64
	StaleCount      int64
	OverrideCount   int64
	MappingRunCount int64
	ReviewCount     int64
	DBSizeBytes     int64
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Store defines the core storage interface.
type Store interface {
	// Documents
	AddDocument(ctx context.Context, d *Document) (id string, duplicate bool, err error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, subjectID string) ([]*Document, error)
	ListSubjects(ctx context.Context) ([]string, error)

	// Profiles
	LoadSubject(ctx context.Context, subjectID string) (*SubjectSnapshot, error)
	SaveProfile(ctx context.Context, p *profile.Profile, rep profile.Report, sourceVersion int64) (bool, error)
	GetProfile(ctx context.Context, subjectID string) (*ProfileRecord, error)
	StaleSubjects(ctx context.Context) ([]string, error)

	// Overrides
	SetOverride(ctx context.Context, subjectID string, o profile.Override) error
	DeleteOverride(ctx context.Context, subjectID, key string) (bool, error)
	ListOverrides(ctx context.Context, subjectID string) ([]profile.Override, error)

	// Mapping audit
	RecordMappingRun(ctx context.Context, run *MappingRun) (string, error)
	ListMappingRuns(ctx context.Context, subjectID string, limit int) ([]*MappingRun, error)

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = ExpandPath(DefaultDBPath)
	}

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each connection to ":memory:" is its own database.
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Enable WAL mode and foreign keys
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		dbPath: cfg.DBPath,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database. Manual only, never auto-vacuum.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
