package fill

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// schemaFile is the on-disk form schema layout:
//
//	form: intake
//	fields:
//	  - name: full_name
//	    type: text
//	  - name: state
//	    type: dropdown
//	    options: [CA, NY, TX]
type schemaFile struct {
	Form   string        `yaml:"form"`
	Fields []FieldSchema `yaml:"fields"`
}

// LoadSchema reads and validates a YAML form schema.
func LoadSchema(path string) ([]FieldSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	fields, err := ParseSchema(data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return fields, nil
}

// ParseSchema decodes and validates a YAML form schema.
func ParseSchema(data []byte) ([]FieldSchema, error) {
	var sf schemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, &SchemaError{Reason: err.Error()}
	}
	if len(sf.Fields) == 0 {
		return nil, &SchemaError{Reason: "no fields"}
	}
	return Validate(sf.Fields)
}
