package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// PlainTextImporter handles .txt, .md, .log, and extensionless files.
// The whole file becomes one document's text; entities are extracted from
// it at ingest time.
type PlainTextImporter struct{}

// CanHandle returns true for plain text extensions. Also acts as fallback.
func (t *PlainTextImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".txt" || ext == ".md" || ext == ".log" || ext == ""
}

// Import reads a plain text file as one document. The file's modification
// time becomes the document's creation time.
func (t *PlainTextImporter) Import(ctx context.Context, path string) ([]RawDocument, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	return []RawDocument{{
		Text:       content,
		CreatedAt:  info.ModTime().UTC(),
		SourceFile: absPath,
		SourceLine: 1,
	}}, nil
}
