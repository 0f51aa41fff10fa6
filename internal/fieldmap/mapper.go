// Package fieldmap matches a target form's field names against candidate
// values pulled from documents.
//
// Names are compared after normalization using an edit-distance
// similarity. A candidate whose value looks like what the target field's
// name asks for (an email for "e_mail", a ZIP code for "postal") gets a
// confidence boost. Matches below AcceptanceThreshold leave the target
// field unmapped.
package fieldmap

import (
	"regexp"
	"strings"

	"github.com/hurttlocker/dossier/internal/value"
)

// AcceptanceThreshold is the minimum confidence for an emitted mapping.
const AcceptanceThreshold = 0.5

// FieldCandidate is a value that might satisfy some target field.
type FieldCandidate struct {
	Key               string      `json:"key"`
	Value             value.Value `json:"value"`
	ContextConfidence float64     `json:"context_confidence"`
}

// FieldMapping assigns one candidate to one target field.
type FieldMapping struct {
	SourceField string      `json:"source_field"`
	TargetField string      `json:"target_field"`
	Confidence  float64     `json:"confidence"`
	Value       value.Value `json:"value"`
}

// MappingResult is the immutable output of one mapping run.
type MappingResult struct {
	Mappings   []FieldMapping `json:"mappings"`
	Unmapped   []string       `json:"unmapped"`
	Confidence float64        `json:"confidence"`
}

// NeedsReview reports whether a human should look at the result before it
// is used: some target went unmapped or overall confidence is below
// threshold.
func (r MappingResult) NeedsReview(threshold float64) bool {
	return len(r.Unmapped) > 0 || r.Confidence < threshold
}

// Lookup finds the mapping for a target field by normalized name.
func (r MappingResult) Lookup(target string) (FieldMapping, bool) {
	norm := NormalizeKey(target)
	for _, m := range r.Mappings {
		if NormalizeKey(m.TargetField) == norm {
			return m, true
		}
	}
	return FieldMapping{}, false
}

// typeBoost raises confidence when a target's name hints at a type and the
// candidate value has that shape.
type typeBoost struct {
	name    string
	hints   []string
	pattern *regexp.Regexp
	factor  float64
}

func initTypeBoosts() []typeBoost {
	return []typeBoost{
		{
			name:    "email",
			hints:   []string{"email"},
			pattern: regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`),
			factor:  1.2,
		},
		{
			name:    "phone",
			hints:   []string{"phone", "tel"},
			pattern: regexp.MustCompile(`^\+?\d[\d\s\-()]+$`),
			factor:  1.2,
		},
		{
			name:    "postal",
			hints:   []string{"zip", "postal"},
			pattern: regexp.MustCompile(`^\d{5}(-\d{4})?$`),
			factor:  1.2,
		},
		{
			name:    "date",
			hints:   []string{"date"},
			pattern: regexp.MustCompile(`^\d{1,2}[-/]\d{1,2}[-/]\d{2,4}$`),
			factor:  1.15,
		},
	}
}

// Mapper maps target fields onto candidates. It holds no mutable state and
// is safe for concurrent use.
type Mapper struct {
	threshold float64
	boosts    []typeBoost
}

// NewMapper creates a mapper with the standard threshold and type boosts.
func NewMapper() *Mapper {
	return &Mapper{
		threshold: AcceptanceThreshold,
		boosts:    initTypeBoosts(),
	}
}

type normCandidate struct {
	FieldCandidate
	norm string
}

// MapFields matches each target field against the candidates. Targets that
// normalize to an already-seen name are dropped; so are later candidates
// whose normalized key repeats an earlier one.
func (m *Mapper) MapFields(targets []string, candidates []FieldCandidate) MappingResult {
	res := MappingResult{
		Mappings: []FieldMapping{},
		Unmapped: []string{},
	}

	cands := make([]normCandidate, 0, len(candidates))
	seenCand := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		norm := NormalizeKey(c.Key)
		if seenCand[norm] {
			continue
		}
		seenCand[norm] = true
		cands = append(cands, normCandidate{FieldCandidate: c, norm: norm})
	}

	seenTarget := make(map[string]bool, len(targets))
	total := 0.0
	for _, target := range targets {
		norm := NormalizeKey(target)
		if seenTarget[norm] {
			continue
		}
		seenTarget[norm] = true

		best, score := bestCandidate(norm, cands)
		if best == nil {
			res.Unmapped = append(res.Unmapped, target)
			continue
		}

		conf := m.boost(norm, score, best.Value)
		if conf < m.threshold {
			res.Unmapped = append(res.Unmapped, target)
			continue
		}

		res.Mappings = append(res.Mappings, FieldMapping{
			SourceField: best.Key,
			TargetField: target,
			Confidence:  conf,
			Value:       best.Value,
		})
		total += conf
	}

	if len(res.Mappings) > 0 {
		res.Confidence = total / float64(len(res.Mappings))
	}
	return res
}

// MapValues maps targets against a plain key→value source.
func (m *Mapper) MapValues(targets []string, values map[string]value.Value) MappingResult {
	return m.MapFields(targets, CandidatesFromMap(values))
}

// bestCandidate picks the most similar candidate. Ties go to the higher
// context confidence, then to the earlier candidate.
func bestCandidate(target string, cands []normCandidate) (*normCandidate, float64) {
	var best *normCandidate
	bestScore := -1.0
	for i := range cands {
		c := &cands[i]
		score := similarityNormalized(target, c.norm)
		if score > bestScore || (score == bestScore && c.ContextConfidence > best.ContextConfidence) {
			best, bestScore = c, score
		}
	}
	return best, bestScore
}

func (m *Mapper) boost(target string, score float64, v value.Value) float64 {
	compact := compactKey(target)
	text := strings.TrimSpace(v.Text())
	for _, b := range m.boosts {
		if !containsAny(compact, b.hints) || !b.pattern.MatchString(text) {
			continue
		}
		score *= b.factor
		break
	}
	if score > 1 {
		score = 1
	}
	return score
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
