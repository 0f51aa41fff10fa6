package profile

import (
	"strings"
	"time"

	"github.com/hurttlocker/dossier/internal/fieldmap"
)

// Override is a manual edit of one profile field. Overrides are stored
// apart from documents and re-applied after every aggregation.
type Override struct {
	Key       string    `json:"key"`
	Values    []string  `json:"values"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApplyOverrides replaces the values of each overridden field and pins its
// confidence to 1. An override with no non-empty values removes the field.
func ApplyOverrides(p *Profile, overrides []Override) {
	if p == nil {
		return
	}
	if p.Fields == nil {
		p.Fields = make(map[string]ProfileField)
	}
	for _, o := range overrides {
		key := fieldmap.NormalizeKey(o.Key)
		if key == "" {
			continue
		}

		vals := make([]string, 0, len(o.Values))
		for _, v := range o.Values {
			if v = strings.TrimSpace(v); v != "" {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			delete(p.Fields, key)
			continue
		}

		f := p.Fields[key]
		f.Key = key
		f.Values = Dedupe(key, vals)
		f.Confidence = 1
		f.LastUpdated = o.UpdatedAt
		f.Overridden = true
		if f.Sources == nil {
			f.Sources = []string{}
		}
		p.Fields[key] = f
	}
}
