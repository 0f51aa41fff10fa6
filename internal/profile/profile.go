// Package profile folds field observations from many documents into one
// deduplicated, confidence-weighted profile per subject.
//
// Confidence is a running average that is only correct when documents are
// folded one at a time in creation order by a single writer. Aggregate
// therefore requires a Lease on the subject, obtained from a Locker.
package profile

import (
	"sort"
	"time"
)

// ProfileField is one normalized key of a profile.
type ProfileField struct {
	Key         string    `json:"key"`
	Values      []string  `json:"values"`
	Confidence  float64   `json:"confidence"`
	Sources     []string  `json:"sources"`
	LastUpdated time.Time `json:"last_updated"`
	Overridden  bool      `json:"overridden,omitempty"`
}

// Profile is the aggregated view of one subject.
type Profile struct {
	SubjectID      string                  `json:"subject_id"`
	Fields         map[string]ProfileField `json:"fields"`
	DocumentCount  int                     `json:"document_count"`
	LastAggregated time.Time               `json:"last_aggregated"`
}

// Keys returns the profile's field keys in sorted order.
func (p *Profile) Keys() []string {
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// First returns the first value recorded for key.
func (p *Profile) First(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	f, ok := p.Fields[key]
	if !ok || len(f.Values) == 0 {
		return "", false
	}
	return f.Values[0], true
}
