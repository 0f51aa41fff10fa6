package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// JSONImporter handles .json files.
type JSONImporter struct{}

// CanHandle returns true for JSON file extensions.
func (j *JSONImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".json"
}

// Import parses a JSON file into documents.
//   - Single object: one document whose fields are the object's members.
//   - Array of objects: each element becomes one document.
//   - An object with a "fields" object is an envelope that may also carry
//     "text", "confidence" and "created_at".
func (j *JSONImporter) Import(ctx context.Context, path string) ([]RawDocument, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON in %s", path)
	}

	root := gjson.ParseBytes(data)
	switch {
	case root.IsObject():
		doc, err := documentFromJSON(root)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		doc.SourceFile = absPath
		doc.SourceLine = 1
		return []RawDocument{doc}, nil

	case root.IsArray():
		var docs []RawDocument
		var elemErr error
		root.ForEach(func(key, elem gjson.Result) bool {
			if !elem.IsObject() {
				elemErr = fmt.Errorf("%s: element [%d] is not an object", path, key.Int())
				return false
			}
			doc, err := documentFromJSON(elem)
			if err != nil {
				elemErr = fmt.Errorf("%s: element [%d]: %w", path, key.Int(), err)
				return false
			}
			doc.SourceFile = absPath
			doc.SourceLine = 1
			docs = append(docs, doc)
			return true
		})
		if elemErr != nil {
			return nil, elemErr
		}
		return docs, nil

	default:
		return nil, fmt.Errorf("%s: expected an object or array of objects, got %s", path, root.Type)
	}
}

// documentFromJSON reads one document object, unwrapping an envelope.
func documentFromJSON(obj gjson.Result) (RawDocument, error) {
	fields := obj.Get("fields")
	if !fields.Exists() {
		return RawDocument{Payload: []byte(obj.Raw)}, nil
	}
	if !fields.IsObject() {
		return RawDocument{}, fmt.Errorf(`"fields" must be an object, got %s`, fields.Type)
	}

	doc := RawDocument{
		Payload:    []byte(fields.Raw),
		Text:       obj.Get("text").String(),
		Confidence: obj.Get("confidence").Float(),
	}
	if created := obj.Get("created_at"); created.Exists() {
		t, err := parseTimestamp(created.String())
		if err != nil {
			return RawDocument{}, err
		}
		doc.CreatedAt = t
	}
	return doc, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp accepts RFC 3339 and a few common date layouts, read as UTC
// when no offset is given.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
