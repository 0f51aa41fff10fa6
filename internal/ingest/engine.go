package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hurttlocker/dossier/internal/extract"
	"github.com/hurttlocker/dossier/internal/fieldmap"
	"github.com/hurttlocker/dossier/internal/profile"
	"github.com/hurttlocker/dossier/internal/store"
	"github.com/hurttlocker/dossier/internal/value"
)

// DefaultWorkers bounds parallel re-aggregation across subjects.
const DefaultWorkers = 4

// DefaultReviewThreshold is the overall mapping confidence below which a
// mapping run is flagged for human review.
const DefaultReviewThreshold = 0.75

// ErrDocumentNotFound is returned when a document ID is unknown.
var ErrDocumentNotFound = errors.New("document not found")

// Config configures an Engine.
type Config struct {
	Workers         int
	ReviewThreshold float64
	Log             io.Writer // warnings and verbose detail; default os.Stderr
	Verbose         bool
	Aggregator      *profile.Aggregator
}

// Engine wires extraction, mapping and aggregation to the store.
type Engine struct {
	store           store.Store
	extractor       *extract.Extractor
	mapper          *fieldmap.Mapper
	aggregator      *profile.Aggregator
	locker          *profile.Locker
	importers       []Importer
	workers         int
	reviewThreshold float64
	log             io.Writer
	verbose         bool
}

// NewEngine creates an engine over s.
func NewEngine(s store.Store, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = DefaultReviewThreshold
	}
	if cfg.Log == nil {
		cfg.Log = os.Stderr
	}
	if cfg.Aggregator == nil {
		cfg.Aggregator = profile.NewAggregator()
	}
	return &Engine{
		store:      s,
		extractor:  extract.NewExtractor(),
		mapper:     fieldmap.NewMapper(),
		aggregator: cfg.Aggregator,
		locker:     profile.NewLocker(),
		importers: []Importer{
			&JSONImporter{},
			&YAMLImporter{},
			&CSVImporter{},
			&PlainTextImporter{},
		},
		workers:         cfg.Workers,
		reviewThreshold: cfg.ReviewThreshold,
		log:             cfg.Log,
		verbose:         cfg.Verbose,
	}
}

// Store returns the engine's store.
func (e *Engine) Store() store.Store { return e.store }

// ReviewThreshold returns the configured review threshold.
func (e *Engine) ReviewThreshold() float64 { return e.reviewThreshold }

// IngestOutcome describes one ingested document.
type IngestOutcome struct {
	DocumentID string
	Duplicate  bool
	Confidence float64
	Extraction *extract.Result
}

// IngestDocument extracts entities from raw's text, merges them into its
// structured fields and stores the result for subjectID. The subject's
// profile is not rebuilt; it becomes stale.
func (e *Engine) IngestDocument(ctx context.Context, subjectID string, raw RawDocument) (*IngestOutcome, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("subject id is required")
	}

	var fields []value.Member
	if len(raw.Payload) > 0 {
		members, err := value.ParseObject(raw.Payload)
		if err != nil {
			return nil, fmt.Errorf("document payload: %w", err)
		}
		fields = members
	}

	res, err := e.extractor.ExtractDocument(raw.Text, fields)
	if err != nil {
		return nil, fmt.Errorf("extracting entities: %w", err)
	}

	merged := mergeEntities(fields, res.Entities)
	payload, err := value.Obj(merged...).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	conf := raw.Confidence
	if conf <= 0 {
		conf = res.Score / 100
	}

	doc := &store.Document{
		SubjectID:  subjectID,
		Payload:    payload,
		Text:       raw.Text,
		Confidence: conf,
		CreatedAt:  raw.CreatedAt,
	}
	id, dup, err := e.store.AddDocument(ctx, doc)
	if err != nil {
		return nil, err
	}

	if e.verbose {
		state := "new"
		if dup {
			state = "duplicate"
		}
		fmt.Fprintf(e.log, "  %s %s: %d fields, %d entities, confidence %.2f\n",
			state, id, len(merged), res.Entities.Count(), conf)
	}

	return &IngestOutcome{
		DocumentID: id,
		Duplicate:  dup,
		Confidence: conf,
		Extraction: res,
	}, nil
}

// mergeEntities appends extracted entities to the structured fields. An
// entity type already present as a structured key is left out, as are
// bare numbers.
func mergeEntities(fields []value.Member, entities extract.Entities) []value.Member {
	have := make(map[string]bool, len(fields))
	for _, m := range fields {
		have[fieldmap.NormalizeKey(m.Key)] = true
	}

	out := make([]value.Member, 0, len(fields)+len(extract.EntityTypes))
	out = append(out, fields...)
	for _, et := range extract.EntityTypes {
		vals := entities[et]
		if et == extract.Number || len(vals) == 0 || have[string(et)] {
			continue
		}
		if len(vals) == 1 {
			out = append(out, value.Member{Key: string(et), Value: value.Str(vals[0])})
			continue
		}
		items := make([]value.Value, len(vals))
		for i, v := range vals {
			items[i] = value.Str(v)
		}
		out = append(out, value.Member{Key: string(et), Value: value.List(items...)})
	}
	return out
}

// ImportPath imports a file or directory of documents for subjectID.
// Per-file failures are collected in the result, never returned.
func (e *Engine) ImportPath(ctx context.Context, subjectID, path string, opts ImportOptions) (*ImportResult, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("accessing %s: %w", path, err)
	}

	var files []string
	if info.IsDir() {
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != path && (!opts.Recursive || strings.HasPrefix(d.Name(), ".")) {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasPrefix(d.Name(), ".") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", path, err)
		}
	} else {
		files = []string{path}
	}

	result := &ImportResult{}
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if opts.ProgressFn != nil {
			opts.ProgressFn(i+1, len(files), f)
		}
		result.Add(e.importFile(ctx, subjectID, f, opts))
	}
	return result, nil
}

func (e *Engine) importFile(ctx context.Context, subjectID, path string, opts ImportOptions) *ImportResult {
	result := &ImportResult{FilesScanned: 1}

	info, err := os.Stat(path)
	if err != nil {
		result.FilesSkipped++
		result.Errors = append(result.Errors, ImportError{File: path, Message: err.Error()})
		return result
	}
	if info.Size() > opts.MaxFileSize {
		result.FilesSkipped++
		result.Errors = append(result.Errors, ImportError{
			File:    path,
			Message: fmt.Sprintf("file too large (%d bytes, max %d)", info.Size(), opts.MaxFileSize),
		})
		return result
	}

	imp := e.importerFor(path)
	if imp == nil {
		result.FilesSkipped++
		return result
	}

	docs, err := imp.Import(ctx, path)
	if err != nil {
		result.FilesSkipped++
		result.Errors = append(result.Errors, ImportError{File: path, Message: err.Error()})
		return result
	}
	result.FilesImported++

	for _, raw := range docs {
		if opts.DryRun {
			result.DocumentsNew++
			continue
		}
		out, err := e.IngestDocument(ctx, subjectID, raw)
		if err != nil {
			result.Errors = append(result.Errors, ImportError{File: path, Line: raw.SourceLine, Message: err.Error()})
			continue
		}
		if out.Duplicate {
			result.DocumentsUnchanged++
		} else {
			result.DocumentsNew++
			result.DocumentIDs = append(result.DocumentIDs, out.DocumentID)
		}
	}
	return result
}

func (e *Engine) importerFor(path string) Importer {
	for _, imp := range e.importers {
		if imp.CanHandle(path) {
			return imp
		}
	}
	return nil
}
