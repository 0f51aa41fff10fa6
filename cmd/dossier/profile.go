package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hurttlocker/dossier/internal/fill"
	"github.com/hurttlocker/dossier/internal/ingest"
	"github.com/hurttlocker/dossier/internal/profile"
	"github.com/hurttlocker/dossier/internal/store"
)

type profileJSON struct {
	*profile.Profile
	SkippedIDs []string          `json:"skipped_ids"`
	Version    int64             `json:"version"`
	Documents  []documentJSON    `json:"documents,omitempty"`
	Runs       []*mappingRunJSON `json:"mapping_runs,omitempty"`
}

type documentJSON struct {
	ID         string    `json:"id"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	IngestedAt time.Time `json:"ingested_at"`
}

type mappingRunJSON struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Form        string    `json:"form"`
	Confidence  float64   `json:"confidence"`
	Unmapped    []string  `json:"unmapped"`
	NeedsReview bool      `json:"needs_review"`
	CreatedAt   time.Time `json:"created_at"`
}

func runProfile(args []string) error {
	subject := ""
	jsonOut := false
	showDocs := false
	showRuns := false

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--json":
			jsonOut = true
		case args[i] == "--documents":
			showDocs = true
		case args[i] == "--runs":
			showRuns = true
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		case subject == "":
			subject = args[i]
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}
	if strings.TrimSpace(subject) == "" {
		return fmt.Errorf("usage: dossier profile <subject> [--documents] [--runs] [--json]")
	}

	engine, s, _, err := openEngine(cliOverrides{})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	rec, err := engine.Profile(ctx, subject)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no documents for subject %q", subject)
	}

	var docs []*store.Document
	if showDocs {
		if docs, err = s.ListDocuments(ctx, subject); err != nil {
			return err
		}
	}
	var runs []*store.MappingRun
	if showRuns {
		if runs, err = s.ListMappingRuns(ctx, subject, 20); err != nil {
			return err
		}
	}

	if jsonOut {
		out := profileJSON{Profile: rec.Profile, SkippedIDs: rec.SkippedIDs, Version: rec.SourceVersion}
		if out.SkippedIDs == nil {
			out.SkippedIDs = []string{}
		}
		for _, d := range docs {
			out.Documents = append(out.Documents, documentJSON{
				ID: d.ID, Confidence: d.Confidence, CreatedAt: d.CreatedAt, IngestedAt: d.IngestedAt,
			})
		}
		for _, r := range runs {
			out.Runs = append(out.Runs, &mappingRunJSON{
				ID: r.ID, DocumentID: r.DocumentID, Form: r.Form,
				Confidence: r.Result.Confidence, Unmapped: r.Result.Unmapped,
				NeedsReview: r.NeedsReview, CreatedAt: r.CreatedAt,
			})
		}
		return printJSON(out)
	}

	outputProfile(rec)
	if showDocs {
		fmt.Printf("\nDocuments (%d):\n", len(docs))
		for _, d := range docs {
			fmt.Printf("  %s  created %s  confidence %.2f\n",
				d.ID, d.CreatedAt.Format("2006-01-02"), d.Confidence)
		}
	}
	if showRuns {
		fmt.Printf("\nMapping runs (%d):\n", len(runs))
		for _, r := range runs {
			review := ""
			if r.NeedsReview {
				review = "  [needs review]"
			}
			fmt.Printf("  %s  %-12s doc %s  %.0f%%  %s%s\n",
				r.ID, r.Form, r.DocumentID, r.Result.Confidence*100, humanize.Time(r.CreatedAt), review)
		}
	}
	return nil
}

func outputProfile(rec *store.ProfileRecord) {
	p := rec.Profile
	fmt.Printf("Profile: %s\n", p.SubjectID)
	fmt.Printf("  %d documents, %d fields, aggregated %s (version %d)\n",
		p.DocumentCount, len(p.Fields), humanize.Time(p.LastAggregated), rec.SourceVersion)
	if len(rec.SkippedIDs) > 0 {
		fmt.Printf("  Skipped: %s\n", strings.Join(rec.SkippedIDs, ", "))
	}
	if len(p.Fields) == 0 {
		fmt.Println("\n  No fields.")
		return
	}
	fmt.Println()
	for _, key := range p.Keys() {
		f := p.Fields[key]
		marker := ""
		if f.Overridden {
			marker = "  [override]"
		}
		fmt.Printf("  %-20s %s  (%.2f, %d sources)%s\n",
			key, strings.Join(f.Values, " | "), f.Confidence, len(f.Sources), marker)
	}
}

func runOverride(args []string) error {
	var positional []string
	doClear := false

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--clear":
			doClear = true
		case strings.HasPrefix(args[i], "-") && args[i] != "-":
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			positional = append(positional, args[i])
		}
	}
	if len(positional) < 2 || (doClear && len(positional) > 2) {
		return fmt.Errorf("usage: dossier override <subject> <key> [value...] | dossier override <subject> <key> --clear")
	}
	subject, key, values := positional[0], positional[1], positional[2:]

	engine, s, _, err := openEngine(cliOverrides{})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	if doClear {
		removed, out, err := engine.ClearOverride(ctx, subject, key)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Printf("No override for %s on %s.\n", key, subject)
			return nil
		}
		fmt.Printf("Cleared override for %s on %s.\n", key, subject)
		if out != nil {
			printAggregateLine(out)
		}
		return nil
	}

	out, err := engine.SetOverride(ctx, subject, key, values)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		fmt.Printf("Hid %s on %s.\n", key, subject)
	} else {
		fmt.Printf("Set %s on %s: %s\n", key, subject, strings.Join(values, " | "))
	}
	printAggregateLine(out)
	return nil
}

func runFill(args []string) error {
	schemaPath := ""
	subject := ""
	documentID := ""
	jsonOut := false

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--schema" && i+1 < len(args):
			i++
			schemaPath = args[i]
		case strings.HasPrefix(args[i], "--schema="):
			schemaPath = strings.TrimPrefix(args[i], "--schema=")
		case args[i] == "--subject" && i+1 < len(args):
			i++
			subject = args[i]
		case strings.HasPrefix(args[i], "--subject="):
			subject = strings.TrimPrefix(args[i], "--subject=")
		case args[i] == "--document" && i+1 < len(args):
			i++
			documentID = args[i]
		case strings.HasPrefix(args[i], "--document="):
			documentID = strings.TrimPrefix(args[i], "--document=")
		case args[i] == "--json":
			jsonOut = true
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}
	if schemaPath == "" || (subject == "") == (documentID == "") {
		return fmt.Errorf("usage: dossier fill --schema <file> (--subject <id> | --document <id>) [--json]")
	}

	schema, err := fill.LoadSchema(schemaPath)
	if err != nil {
		return err
	}

	engine, s, _, err := openEngine(cliOverrides{})
	if err != nil {
		return err
	}
	defer s.Close()

	filled, err := fillForm(context.Background(), engine, schema, subject, documentID)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(filled)
	}
	outputFilled(schema, filled)
	return nil
}

func fillForm(ctx context.Context, engine *ingest.Engine, schema []fill.FieldSchema, subject, documentID string) (*fill.Filled, error) {
	if documentID != "" {
		targets := make([]string, len(schema))
		for i, f := range schema {
			targets[i] = f.Name
		}
		out, err := engine.MapDocument(ctx, documentID, "fill", targets)
		if err != nil {
			return nil, err
		}
		return fill.Fill(schema, out.Result)
	}

	rec, err := engine.Profile(ctx, subject)
	if err != nil {
		return nil, err
	}
	var p *profile.Profile
	if rec != nil {
		p = rec.Profile
	}
	return fill.FillProfile(schema, p)
}

func outputFilled(schema []fill.FieldSchema, filled *fill.Filled) {
	for _, fs := range schema {
		f, ok := filled.Fields[fs.Name]
		if !ok {
			fmt.Printf("  %-20s (unfilled)\n", fs.Name)
			continue
		}
		var shown string
		switch f.Type {
		case fill.Checkbox:
			shown = "[ ]"
			if f.Checked {
				shown = "[x]"
			}
		case fill.Dropdown, fill.Radio:
			shown = "(none)"
			if f.Selected {
				shown = f.Option
			}
		default:
			shown = f.Text
		}
		fmt.Printf("  %-20s %-30s <- %s (%.0f%%)\n", f.Name, truncate(shown, 30), f.Source, f.Confidence*100)
	}
	if len(filled.Warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, w := range filled.Warnings {
			fmt.Printf("  %s\n", w)
		}
	}
}
