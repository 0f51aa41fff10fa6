package ingest

import (
	"context"
	"fmt"

	"github.com/hurttlocker/dossier/internal/extract"
	"github.com/hurttlocker/dossier/internal/fieldmap"
	"github.com/hurttlocker/dossier/internal/store"
	"github.com/hurttlocker/dossier/internal/value"
)

// MappingOutcome is one recorded mapping run.
type MappingOutcome struct {
	RunID       string
	Result      fieldmap.MappingResult
	NeedsReview bool
}

// MapText maps targets against the entities found in text plus the given
// structured fields. Nothing is stored.
func (e *Engine) MapText(text string, fields []value.Member, targets []string) (fieldmap.MappingResult, *extract.Result, error) {
	res, err := e.extractor.ExtractDocument(text, fields)
	if err != nil {
		return fieldmap.MappingResult{}, nil, err
	}
	return e.mapper.MapFields(targets, fieldmap.CandidatesFromResult(res)), res, nil
}

// MapDocument maps a stored document against a form's target fields and
// records the run in the audit trail.
func (e *Engine) MapDocument(ctx context.Context, documentID, form string, targets []string) (*MappingOutcome, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	fields, err := value.ParseObject(doc.Payload)
	if err != nil {
		fmt.Fprintf(e.log, "Warning: document %s payload unreadable, mapping text only: %v\n", documentID, err)
		fields = nil
	}

	result, _, err := e.MapText(doc.Text, fields, targets)
	if err != nil {
		return nil, err
	}

	run := &store.MappingRun{
		SubjectID:   doc.SubjectID,
		DocumentID:  doc.ID,
		Form:        form,
		Result:      result,
		NeedsReview: result.NeedsReview(e.reviewThreshold),
	}
	id, err := e.store.RecordMappingRun(ctx, run)
	if err != nil {
		return nil, err
	}
	if run.NeedsReview {
		fmt.Fprintf(e.log, "Warning: mapping %s for document %s needs review (confidence %.2f, %d unmapped)\n",
			id, documentID, result.Confidence, len(result.Unmapped))
	}

	return &MappingOutcome{RunID: id, Result: result, NeedsReview: run.NeedsReview}, nil
}
