package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hurttlocker/dossier/internal/value"
)

// CSVImporter handles .csv and .tsv files.
type CSVImporter struct{}

// CanHandle returns true for CSV/TSV file extensions.
func (c *CSVImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".csv" || ext == ".tsv"
}

// Import parses a CSV file into documents.
// First row is treated as headers (become field keys).
// Each subsequent row becomes one document, columns in header order.
func (c *CSVImporter) Import(ctx context.Context, path string) ([]RawDocument, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)

	// Auto-detect TSV
	if strings.ToLower(filepath.Ext(path)) == ".tsv" {
		reader.Comma = '\t'
	}

	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV %s: %w", path, err)
	}

	if len(records) < 2 {
		// Need at least headers + one row
		return nil, nil
	}

	headers := records[0]
	var docs []RawDocument

	for i, row := range records[1:] {
		var members []value.Member
		for j, val := range row {
			if j >= len(headers) {
				break
			}
			key := strings.TrimSpace(headers[j])
			val = strings.TrimSpace(val)
			if key == "" || val == "" {
				continue
			}
			members = append(members, value.Member{Key: key, Value: value.Str(val)})
		}

		if len(members) == 0 {
			continue
		}

		payload, err := value.Obj(members...).MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encoding CSV row %d: %w", i+2, err)
		}
		docs = append(docs, RawDocument{
			Payload:    payload,
			SourceFile: absPath,
			SourceLine: i + 2, // 1-indexed, skip header row
		})
	}

	return docs, nil
}
