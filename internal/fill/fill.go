// Package fill writes mapped or aggregated values into a target form's
// typed fields.
//
// Filling is best-effort: a field the mapping does not cover is left
// unfilled, and a value that does not fit its field's type resolves to
// false or unselected with a warning. Only a malformed schema fails.
package fill

import (
	"fmt"
	"strings"

	"github.com/hurttlocker/dossier/internal/fieldmap"
	"github.com/hurttlocker/dossier/internal/profile"
	"github.com/hurttlocker/dossier/internal/value"
)

// FieldType is the declared type of a form field.
type FieldType string

const (
	Text     FieldType = "text"
	Checkbox FieldType = "checkbox"
	Dropdown FieldType = "dropdown"
	Radio    FieldType = "radio"
)

// FieldSchema describes one field of a target form.
type FieldSchema struct {
	Name    string    `json:"name" yaml:"name"`
	Type    FieldType `json:"type" yaml:"type"`
	Options []string  `json:"options,omitempty" yaml:"options,omitempty"`
}

// SchemaError reports a form schema that cannot be filled at all.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return "invalid form schema: " + e.Reason
	}
	return fmt.Sprintf("invalid form schema: field %q: %s", e.Field, e.Reason)
}

// FilledField is the final written state of one form field.
type FilledField struct {
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	Text       string    `json:"text,omitempty"`
	Checked    bool      `json:"checked,omitempty"`
	Option     string    `json:"option,omitempty"`
	Selected   bool      `json:"selected,omitempty"`
	Source     string    `json:"source,omitempty"`
	Confidence float64   `json:"confidence"`
}

// Warning flags a field whose value did not fit its type.
type Warning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (w Warning) String() string { return w.Field + ": " + w.Message }

// Filled is the result of filling one form.
type Filled struct {
	Fields   map[string]FilledField `json:"fields"`
	Unfilled []string               `json:"unfilled"`
	Warnings []Warning              `json:"warnings"`
}

var truthy = map[string]bool{
	"true": true, "yes": true, "1": true, "checked": true, "x": true,
}

var falsy = map[string]bool{
	"false": true, "no": true, "0": true, "unchecked": true, "off": true, "": true,
}

// source is one value offered for a field, with where it came from.
type source struct {
	key        string
	val        value.Value
	confidence float64
}

type lookupFunc func(name string) (source, bool)

// Fill writes the values of mapping into schema's fields. Fields are
// matched to mappings by normalized name.
func Fill(schema []FieldSchema, mapping fieldmap.MappingResult) (*Filled, error) {
	return fill(schema, func(name string) (source, bool) {
		m, ok := mapping.Lookup(name)
		if !ok {
			return source{}, false
		}
		return source{key: m.SourceField, val: m.Value, confidence: m.Confidence}, true
	})
}

// FillProfile writes the first value of each matching profile field into
// schema's fields.
func FillProfile(schema []FieldSchema, p *profile.Profile) (*Filled, error) {
	return fill(schema, func(name string) (source, bool) {
		key := fieldmap.NormalizeKey(name)
		v, ok := p.First(key)
		if !ok {
			return source{}, false
		}
		return source{key: key, val: value.Str(v), confidence: p.Fields[key].Confidence}, true
	})
}

func fill(schema []FieldSchema, lookup lookupFunc) (*Filled, error) {
	fields, err := Validate(schema)
	if err != nil {
		return nil, err
	}

	out := &Filled{
		Fields:   make(map[string]FilledField, len(fields)),
		Unfilled: []string{},
		Warnings: []Warning{},
	}
	for _, fs := range fields {
		src, ok := lookup(fs.Name)
		if !ok || src.val.IsNull() {
			out.Unfilled = append(out.Unfilled, fs.Name)
			continue
		}

		ff := FilledField{Name: fs.Name, Type: fs.Type, Source: src.key, Confidence: src.confidence}
		switch fs.Type {
		case Text:
			ff.Text = src.val.Text()
		case Checkbox:
			checked, recognized := parseCheckbox(src.val)
			ff.Checked = checked
			if !recognized {
				out.Warnings = append(out.Warnings, Warning{
					Field:   fs.Name,
					Message: fmt.Sprintf("value %q is not a recognized checkbox state; left unchecked", src.val.Text()),
				})
			}
		case Dropdown, Radio:
			opt, ok := selectOption(fs.Options, src.val.Text())
			if ok {
				ff.Option = opt
				ff.Selected = true
			} else {
				out.Warnings = append(out.Warnings, Warning{
					Field:   fs.Name,
					Message: fmt.Sprintf("value %q matches no option; left unselected", src.val.Text()),
				})
			}
		}
		out.Fields[fs.Name] = ff
	}
	return out, nil
}

// Validate checks schema and returns it with field types canonicalized.
func Validate(schema []FieldSchema) ([]FieldSchema, error) {
	out := make([]FieldSchema, 0, len(schema))
	seen := make(map[string]bool, len(schema))
	for i, fs := range schema {
		name := strings.TrimSpace(fs.Name)
		if name == "" {
			return nil, &SchemaError{Reason: fmt.Sprintf("field %d has no name", i)}
		}
		norm := fieldmap.NormalizeKey(name)
		if seen[norm] {
			return nil, &SchemaError{Field: name, Reason: "duplicate field name"}
		}
		seen[norm] = true

		typ, ok := canonicalType(fs.Type)
		if !ok {
			return nil, &SchemaError{Field: name, Reason: fmt.Sprintf("unknown field type %q", fs.Type)}
		}
		if (typ == Dropdown || typ == Radio) && len(fs.Options) == 0 {
			return nil, &SchemaError{Field: name, Reason: string(typ) + " field has no options"}
		}
		out = append(out, FieldSchema{Name: name, Type: typ, Options: fs.Options})
	}
	return out, nil
}

func canonicalType(t FieldType) (FieldType, bool) {
	switch strings.ToLower(strings.TrimSpace(string(t))) {
	case "text":
		return Text, true
	case "checkbox", "boolean":
		return Checkbox, true
	case "dropdown":
		return Dropdown, true
	case "radio":
		return Radio, true
	}
	return "", false
}

// parseCheckbox returns the checkbox state for v and whether v was a
// recognized true or false spelling.
func parseCheckbox(v value.Value) (checked, recognized bool) {
	if b, ok := v.Bool(); ok {
		return b, true
	}
	s := strings.ToLower(strings.TrimSpace(v.Text()))
	if truthy[s] {
		return true, true
	}
	return false, falsy[s]
}

// selectOption picks the exact option, else a case-insensitive one.
func selectOption(options []string, want string) (string, bool) {
	for _, opt := range options {
		if opt == want {
			return opt, true
		}
	}
	for _, opt := range options {
		if strings.EqualFold(opt, want) {
			return opt, true
		}
	}
	return "", false
}
