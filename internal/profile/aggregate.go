package profile

import (
	"errors"
	"math"
	"time"

	"github.com/hurttlocker/dossier/internal/fieldmap"
	"github.com/hurttlocker/dossier/internal/value"
)

// DocumentRecord is one document's contribution to a subject's profile.
// Payload is the document's extracted field data; how it is decoded (and,
// for hosts that store it encrypted, decrypted) is up to the Decoder.
type DocumentRecord struct {
	ID         string
	CreatedAt  time.Time
	Confidence float64
	Payload    []byte
}

// Decoder turns a document payload into ordered field members.
type Decoder interface {
	Decode(doc DocumentRecord) ([]value.Member, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(doc DocumentRecord) ([]value.Member, error)

// Decode calls f(doc).
func (f DecoderFunc) Decode(doc DocumentRecord) ([]value.Member, error) { return f(doc) }

// JSONDecoder decodes payloads holding a plain JSON object.
var JSONDecoder = DecoderFunc(func(doc DocumentRecord) ([]value.Member, error) {
	return value.ParseObject(doc.Payload)
})

// SkippedDocument records a document left out of an aggregation run.
type SkippedDocument struct {
	ID  string
	Err error
}

// Report describes one aggregation run.
type Report struct {
	Folded  int
	Skipped []SkippedDocument
}

// SkippedCount returns how many documents were skipped.
func (r Report) SkippedCount() int { return len(r.Skipped) }

// Aggregator folds documents into profiles. It holds no per-subject state.
type Aggregator struct {
	decoder Decoder
	now     func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithDecoder replaces the default JSON payload decoder.
func WithDecoder(d Decoder) Option {
	return func(a *Aggregator) { a.decoder = d }
}

// WithClock sets the source of LastAggregated timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		decoder: JSONDecoder,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate rebuilds the lease holder's profile from docs, which must be
// the subject's complete document set in ascending creation order.
//
// Documents are folded strictly one at a time. For a key seen before, the
// field's confidence becomes (old*(n-1) + doc)/n where n counts sources
// after the document is appended. Out-of-order input yields a different,
// undefined result. A document whose payload fails to decode is skipped
// and listed in the Report; the run itself still succeeds.
func (a *Aggregator) Aggregate(lease *Lease, docs []DocumentRecord) (*Profile, Report, error) {
	if !lease.Held() {
		return nil, Report{}, ErrLeaseNotHeld
	}

	var rep Report
	fields := make(map[string]*ProfileField)
	folded := make(map[string]bool, len(docs))

	for _, doc := range docs {
		members, err := a.decoder.Decode(doc)
		if err != nil {
			var de *value.DecodeError
			if !errors.As(err, &de) {
				err = &value.DecodeError{Reason: "decoder failed", Err: err}
			}
			rep.Skipped = append(rep.Skipped, SkippedDocument{ID: doc.ID, Err: err})
			continue
		}

		foldDocument(fields, doc, members)
		if !folded[doc.ID] {
			folded[doc.ID] = true
			rep.Folded++
		}
	}

	p := &Profile{
		SubjectID:      lease.Subject(),
		Fields:         make(map[string]ProfileField, len(fields)),
		DocumentCount:  rep.Folded,
		LastAggregated: a.now(),
	}
	for key, f := range fields {
		f.Values = Dedupe(key, f.Values)
		p.Fields[key] = *f
	}
	return p, rep, nil
}

func foldDocument(fields map[string]*ProfileField, doc DocumentRecord, members []value.Member) {
	conf := clampConfidence(doc.Confidence)
	for _, m := range members {
		key := fieldmap.NormalizeKey(m.Key)
		if key == "" {
			continue
		}
		vals := m.Value.Flatten()
		if len(vals) == 0 {
			continue
		}

		f, ok := fields[key]
		if !ok {
			fields[key] = &ProfileField{
				Key:         key,
				Values:      vals,
				Confidence:  conf,
				Sources:     []string{doc.ID},
				LastUpdated: doc.CreatedAt,
			}
			continue
		}

		f.Values = append(f.Values, vals...)
		f.LastUpdated = doc.CreatedAt
		// Keys that normalize together within one document count once.
		if containsString(f.Sources, doc.ID) {
			continue
		}
		f.Sources = append(f.Sources, doc.ID)
		n := float64(len(f.Sources))
		f.Confidence = (f.Confidence*(n-1) + conf) / n
	}
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
