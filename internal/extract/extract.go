// Package extract provides rule-based entity extraction for Dossier.
//
// The extractor identifies typed spans in raw document text without any
// external service:
// - Email addresses and phone numbers
// - Dates in day-first or year-first numeric form
// - Currency amounts with a $, €, £ or ¥ prefix
// - Names introduced by "Name:" or a title (Mr, Dr, ...)
// - Street addresses with a house number and street-type suffix
// - Standalone numbers
//
// Extraction is a pure function of its input and safe for concurrent use.
package extract

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hurttlocker/dossier/internal/value"
)

// EntityType labels an extracted span.
type EntityType string

const (
	Email    EntityType = "email"
	Phone    EntityType = "phone"
	Date     EntityType = "date"
	Currency EntityType = "currency"
	Name     EntityType = "name"
	Address  EntityType = "address"
	Number   EntityType = "number"
)

// EntityTypes lists every bucket in canonical order.
var EntityTypes = []EntityType{Email, Phone, Date, Currency, Name, Address, Number}

// Entities holds the matches for each entity type. Every type in
// EntityTypes has an entry, empty when nothing matched.
type Entities map[EntityType][]string

// Count returns the total number of matches across all buckets.
func (e Entities) Count() int {
	n := 0
	for _, vals := range e {
		n += len(vals)
	}
	return n
}

// InputError reports text that is not valid UTF-8 or contains NUL bytes.
// It is the only fatal extraction condition.
type InputError struct {
	Offset int
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid extraction input at byte %d: %s", e.Offset, e.Reason)
}

// Result bundles the entities found in a document's text with any
// structured fields supplied alongside it.
type Result struct {
	Entities Entities       `json:"entities"`
	Fields   []value.Member `json:"-"`
	Score    float64        `json:"score"`
}

// Extractor runs the static rule table over text.
type Extractor struct {
	rules []*rule
}

// rule is one regular expression feeding one entity bucket.
type rule struct {
	entity    EntityType
	name      string
	regex     *regexp.Regexp
	group     int // capture group holding the entity; 0 = whole match
	minDigits int // discard matches with fewer digits
	maxDigits int
	accept    func(m, rest string) bool // optional check against the text after the match
}

// NewExtractor creates an extractor with the built-in rule table.
func NewExtractor() *Extractor {
	return &Extractor{rules: initRules()}
}

// initRules builds the entity rule table. Rules for the same type are
// merged by position, so their order here does not affect output order.
func initRules() []*rule {
	return []*rule{
		{
			entity: Email,
			name:   "email",
			regex:  regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`),
		},
		// +1 555-123-4567, (555) 123-4567, 555-123-4567, 555-1234
		{
			entity:    Phone,
			name:      "phone_formatted",
			regex:     regexp.MustCompile(`(?:\+\d{1,3}[ \t.-]?)?(?:\(\d{2,4}\)[ \t.-]?|\b\d{2,4}[ \t.-])?\b\d{3,4}[ \t.-]?\d{4}\b`),
			minDigits: 7,
			maxDigits: 15,
		},
		// +15551234567
		{
			entity:    Phone,
			name:      "phone_e164",
			regex:     regexp.MustCompile(`\+\d{7,15}\b`),
			minDigits: 7,
			maxDigits: 15,
		},
		// 01/15/2024, 15-01-24
		{
			entity: Date,
			name:   "date_dmy",
			regex:  regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`),
		},
		// 2024-01-15, 2024/1/5
		{
			entity: Date,
			name:   "date_ymd",
			regex:  regexp.MustCompile(`\b\d{4}[-/]\d{1,2}[-/]\d{1,2}\b`),
		},
		// $1,234.56, €500, £ 12.5
		{
			entity: Currency,
			name:   "currency",
			regex:  regexp.MustCompile(`[$€£¥]\s?(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d{1,2})?`),
		},
		// Name: Jane Doe, Dr. John Smith
		{
			entity: Name,
			name:   "name_prefixed",
			regex:  regexp.MustCompile(`(?:\b[Nn]ame:[ \t]*|\b(?:Mr|Mrs|Ms|Miss|Dr|Prof)\.?[ \t]+)([A-Z][a-zA-Z'-]+(?:[ \t]+[A-Z][a-zA-Z'-]+)+)`),
			group:  1,
		},
		// 123 Main Street, 42 W. Oak Ave.
		{
			entity: Address,
			name:   "street_address",
			regex:  regexp.MustCompile(`\b\d{1,6}[ \t]+(?:[A-Z0-9][A-Za-z0-9.'-]*[ \t]+){1,4}?(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way|Place|Pl|Terrace|Circle|Parkway|Pkwy)\b\.?`),
			accept: notTitleSuffix,
		},
		{
			entity: Number,
			name:   "number",
			regex:  regexp.MustCompile(`\b\d{1,3}(?:,\d{3})+(?:\.\d+)?\b|\b\d+(?:\.\d+)?\b`),
		},
	}
}

// titleFollowRE matches a capitalized name right after a "Dr" or "St"
// suffix on the same line, as in "Dr. Jane Smith" or "Dr Adams".
var titleFollowRE = regexp.MustCompile(`^\.?[ \t]+[A-Z][a-z'-]+(?:[ \t]+[A-Z]|[ \t]*(?:\r?\n|$|[.;:!?]))`)

// notTitleSuffix rejects street matches whose "Dr" or "St" suffix is really
// a title introducing a name.
func notTitleSuffix(m, rest string) bool {
	words := strings.Fields(m)
	switch strings.TrimSuffix(words[len(words)-1], ".") {
	case "Dr", "St":
		return !titleFollowRE.MatchString(rest)
	}
	return true
}

type match struct {
	pos  int
	text string
}

// Extract returns every entity found in text, deduplicated per type and
// ordered by first occurrence.
func (x *Extractor) Extract(text string) (Entities, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}

	found := make(map[EntityType][]match, len(EntityTypes))
	for _, r := range x.rules {
		for _, loc := range r.regex.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*r.group], loc[2*r.group+1]
			if start < 0 {
				continue
			}
			s := strings.TrimSpace(text[start:end])
			if s == "" {
				continue
			}
			if r.minDigits > 0 || r.maxDigits > 0 {
				d := countDigits(s)
				if d < r.minDigits || (r.maxDigits > 0 && d > r.maxDigits) {
					continue
				}
			}
			if r.accept != nil && !r.accept(s, text[end:]) {
				continue
			}
			found[r.entity] = append(found[r.entity], match{pos: start, text: s})
		}
	}

	out := make(Entities, len(EntityTypes))
	for _, et := range EntityTypes {
		matches := found[et]
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

		seen := make(map[string]bool, len(matches))
		vals := make([]string, 0, len(matches))
		for _, m := range matches {
			if seen[m.text] {
				continue
			}
			seen[m.text] = true
			vals = append(vals, m.text)
		}
		out[et] = vals
	}
	return out, nil
}

// ExtractDocument extracts entities from text and scores the result
// together with the structured fields supplied alongside it.
func (x *Extractor) ExtractDocument(text string, fields []value.Member) (*Result, error) {
	entities, err := x.Extract(text)
	if err != nil {
		return nil, err
	}
	return &Result{
		Entities: entities,
		Fields:   fields,
		Score:    Score(entities, len(fields)),
	}, nil
}

// Score rates how much of an extraction came back populated, 0–100. Each
// non-empty entity bucket earns one point. When structured fields were
// supplied they form one extra bucket worth min(count/10, 1). The score is
// advisory and never gates the pipeline.
func Score(entities Entities, structuredFieldCount int) float64 {
	points := 0.0
	buckets := float64(len(EntityTypes))
	for _, et := range EntityTypes {
		if len(entities[et]) > 0 {
			points++
		}
	}
	if structuredFieldCount > 0 {
		buckets++
		points += math.Min(float64(structuredFieldCount)/10, 1)
	}
	return points / buckets * 100
}

func validateText(text string) error {
	if i := strings.IndexByte(text, 0); i >= 0 {
		return &InputError{Offset: i, Reason: "NUL byte"}
	}
	if utf8.ValidString(text) {
		return nil
	}
	for i, r := range text {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(text[i:]); size <= 1 {
				return &InputError{Offset: i, Reason: "invalid UTF-8"}
			}
		}
	}
	return &InputError{Reason: "invalid UTF-8"}
}

func countDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			n++
		}
	}
	return n
}
