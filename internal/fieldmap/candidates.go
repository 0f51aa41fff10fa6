package fieldmap

import (
	"sort"

	"github.com/hurttlocker/dossier/internal/extract"
	"github.com/hurttlocker/dossier/internal/value"
)

// Context confidence assigned to candidates by origin.
const (
	StructuredConfidence = 1.0
	EntityConfidence     = 0.9
)

// CandidatesFromMap builds candidates from structured document data.
// Keys are sorted so that tie-breaking is deterministic.
func CandidatesFromMap(values map[string]value.Value) []FieldCandidate {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]FieldCandidate, 0, len(keys))
	for _, k := range keys {
		out = append(out, FieldCandidate{Key: k, Value: values[k], ContextConfidence: StructuredConfidence})
	}
	return out
}

// CandidatesFromMembers builds candidates from an ordered payload object.
func CandidatesFromMembers(members []value.Member) []FieldCandidate {
	out := make([]FieldCandidate, 0, len(members))
	for _, m := range members {
		out = append(out, FieldCandidate{Key: m.Key, Value: m.Value, ContextConfidence: StructuredConfidence})
	}
	return out
}

// CandidatesFromEntities turns extracted entities into candidates keyed by
// entity type. Only the first match of each type is offered.
func CandidatesFromEntities(entities extract.Entities) []FieldCandidate {
	out := make([]FieldCandidate, 0, len(extract.EntityTypes))
	for _, et := range extract.EntityTypes {
		vals := entities[et]
		if len(vals) == 0 {
			continue
		}
		out = append(out, FieldCandidate{
			Key:               string(et),
			Value:             value.Str(vals[0]),
			ContextConfidence: EntityConfidence,
		})
	}
	return out
}

// CandidatesFromResult offers structured fields first, then entities, so a
// structured field wins over an entity with the same normalized key.
func CandidatesFromResult(res *extract.Result) []FieldCandidate {
	if res == nil {
		return nil
	}
	out := CandidatesFromMembers(res.Fields)
	return append(out, CandidatesFromEntities(res.Entities)...)
}
