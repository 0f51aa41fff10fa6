package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// YAMLImporter handles .yaml and .yml files.
type YAMLImporter struct{}

// CanHandle returns true for YAML file extensions.
func (y *YAMLImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Import parses a YAML file into documents.
// Multi-document YAML (separated by ---) produces one document per mapping.
// Each mapping is read the same way as a JSON object, envelopes included.
func (y *YAMLImporter) Import(ctx context.Context, path string) ([]RawDocument, error) {
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

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var docs []RawDocument
	docNum := 0

	for {
		var node map[string]interface{}
		err := decoder.Decode(&node)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid YAML in %s (document %d): %w", path, docNum+1, err)
		}
		docNum++
		if len(node) == 0 {
			continue
		}

		raw, err := json.Marshal(node)
		if err != nil {
			return nil, fmt.Errorf("%s (document %d): %w", path, docNum, err)
		}
		doc, err := documentFromJSON(gjson.ParseBytes(raw))
		if err != nil {
			return nil, fmt.Errorf("%s (document %d): %w", path, docNum, err)
		}
		doc.SourceFile = absPath
		doc.SourceLine = 1
		docs = append(docs, doc)
	}

	return docs, nil
}
