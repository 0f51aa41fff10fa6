// Package ingest is the host side of dossier: it turns files and raw
// documents into stored documents, keeps each subject's profile current
// and records field-mapping runs.
//
// Each supported file format (JSON, YAML, CSV, plain text) has its own
// importer that implements the Importer interface. The engine auto-detects
// formats by file extension and dispatches to the correct parser.
package ingest

import (
	"context"
	"time"
)

// RawDocument is a parsed document ready for storage.
type RawDocument struct {
	Payload    []byte    // JSON object of structured fields, may be empty
	Text       string    // raw extracted text, may be empty
	Confidence float64   // 0 means derive from the extraction score
	CreatedAt  time.Time // zero means the import time
	SourceFile string    // absolute path to the source file
	SourceLine int       // starting line number (1-indexed)
}

// Importer handles a specific file format.
type Importer interface {
	// CanHandle returns true if this importer supports the given file path.
	CanHandle(path string) bool

	// Import parses the file and returns its documents.
	Import(ctx context.Context, path string) ([]RawDocument, error)
}

// ImportResult summarizes an import operation.
type ImportResult struct {
	FilesScanned       int
	FilesImported      int
	FilesSkipped       int
	DocumentsNew       int
	DocumentsUnchanged int
	DocumentIDs        []string
	Errors             []ImportError
}

// Add merges another ImportResult into this one.
func (r *ImportResult) Add(other *ImportResult) {
	r.FilesScanned += other.FilesScanned
	r.FilesImported += other.FilesImported
	r.FilesSkipped += other.FilesSkipped
	r.DocumentsNew += other.DocumentsNew
	r.DocumentsUnchanged += other.DocumentsUnchanged
	r.DocumentIDs = append(r.DocumentIDs, other.DocumentIDs...)
	r.Errors = append(r.Errors, other.Errors...)
}

// ImportError records a non-fatal error during import.
type ImportError struct {
	File    string
	Line    int
	Message string
}

// ImportOptions configures an import operation.
type ImportOptions struct {
	Recursive   bool
	DryRun      bool
	MaxFileSize int64 // bytes, default 10MB
	ProgressFn  func(current, total int, file string)
}

// DefaultMaxFileSize is 10MB.
const DefaultMaxFileSize = 10 * 1024 * 1024
