package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hurttlocker/dossier/internal/extract"
	"github.com/hurttlocker/dossier/internal/fieldmap"
	"github.com/hurttlocker/dossier/internal/ingest"
	"github.com/hurttlocker/dossier/internal/value"
)

// textInput collects the document text and structured fields shared by
// extract and map.
type textInput struct {
	File       string
	Text       string
	TextSet    bool
	FieldsJSON string
}

func (in textInput) read() (string, []value.Member, error) {
	text := in.Text
	switch {
	case in.TextSet:
	case in.File == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", nil, fmt.Errorf("reading stdin: %w", err)
		}
		text = string(data)
	case in.File != "":
		data, err := os.ReadFile(in.File)
		if err != nil {
			return "", nil, fmt.Errorf("reading %s: %w", in.File, err)
		}
		text = string(data)
	}

	var fields []value.Member
	if strings.TrimSpace(in.FieldsJSON) != "" {
		members, err := value.ParseObject([]byte(in.FieldsJSON))
		if err != nil {
			return "", nil, fmt.Errorf("--fields: %w", err)
		}
		fields = members
	}
	return text, fields, nil
}

func runExtract(args []string) error {
	var in textInput
	jsonOut := false

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--text" && i+1 < len(args):
			i++
			in.Text, in.TextSet = args[i], true
		case strings.HasPrefix(args[i], "--text="):
			in.Text, in.TextSet = strings.TrimPrefix(args[i], "--text="), true
		case args[i] == "--fields" && i+1 < len(args):
			i++
			in.FieldsJSON = args[i]
		case strings.HasPrefix(args[i], "--fields="):
			in.FieldsJSON = strings.TrimPrefix(args[i], "--fields=")
		case args[i] == "--json":
			jsonOut = true
		case args[i] == "-":
			in.File = "-"
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		case in.File == "":
			in.File = args[i]
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}
	if in.File == "" && !in.TextSet {
		return fmt.Errorf("usage: dossier extract <file|-> [--fields <json>] [--json] | --text <text>")
	}

	text, fields, err := in.read()
	if err != nil {
		return err
	}
	res, err := extract.NewExtractor().ExtractDocument(text, fields)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"entities":     res.Entities,
			"entity_count": res.Entities.Count(),
			"field_count":  len(fields),
			"score":        res.Score,
		})
	}
	outputEntities(res)
	return nil
}

func outputEntities(res *extract.Result) {
	fmt.Printf("Found %d entities (score %.0f/100)\n", res.Entities.Count(), res.Score)
	for _, et := range extract.EntityTypes {
		matches := res.Entities[et]
		if len(matches) == 0 {
			continue
		}
		fmt.Printf("  %-9s %s\n", et+":", strings.Join(matches, ", "))
	}
	if len(res.Fields) > 0 {
		fmt.Printf("  + %d structured fields\n", len(res.Fields))
	}
}

func runMap(args []string) error {
	var in textInput
	var targets []string
	documentID := ""
	form := "cli"
	jsonOut := false

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--targets" && i+1 < len(args):
			i++
			targets = append(targets, splitList(args[i])...)
		case strings.HasPrefix(args[i], "--targets="):
			targets = append(targets, splitList(strings.TrimPrefix(args[i], "--targets="))...)
		case args[i] == "--document" && i+1 < len(args):
			i++
			documentID = args[i]
		case strings.HasPrefix(args[i], "--document="):
			documentID = strings.TrimPrefix(args[i], "--document=")
		case args[i] == "--form" && i+1 < len(args):
			i++
			form = args[i]
		case strings.HasPrefix(args[i], "--form="):
			form = strings.TrimPrefix(args[i], "--form=")
		case args[i] == "--text" && i+1 < len(args):
			i++
			in.Text, in.TextSet = args[i], true
		case strings.HasPrefix(args[i], "--text="):
			in.Text, in.TextSet = strings.TrimPrefix(args[i], "--text="), true
		case args[i] == "--fields" && i+1 < len(args):
			i++
			in.FieldsJSON = args[i]
		case strings.HasPrefix(args[i], "--fields="):
			in.FieldsJSON = strings.TrimPrefix(args[i], "--fields=")
		case args[i] == "--json":
			jsonOut = true
		case args[i] == "-":
			in.File = "-"
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		case in.File == "":
			in.File = args[i]
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}
	if len(targets) == 0 {
		return fmt.Errorf("usage: dossier map --targets <a,b,...> (--document <id> [--form <name>] | <file|-> | --text <text>) [--fields <json>] [--json]")
	}

	if documentID != "" {
		engine, s, _, err := openEngine(cliOverrides{})
		if err != nil {
			return err
		}
		defer s.Close()

		out, err := engine.MapDocument(context.Background(), documentID, form, targets)
		if err != nil {
			return err
		}
		return outputMapping(out.RunID, out.Result, out.NeedsReview, jsonOut)
	}

	if in.File == "" && !in.TextSet && in.FieldsJSON == "" {
		return fmt.Errorf("usage: dossier map --targets <a,b,...> needs --document, a file, --text or --fields")
	}
	text, fields, err := in.read()
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(cliOverrides{})
	if err != nil {
		return err
	}
	threshold, err := cfg.Threshold(ingest.DefaultReviewThreshold)
	if err != nil {
		return err
	}

	res, err := extract.NewExtractor().ExtractDocument(text, fields)
	if err != nil {
		return err
	}
	result := fieldmap.NewMapper().MapFields(targets, fieldmap.CandidatesFromResult(res))
	return outputMapping("", result, result.NeedsReview(threshold), jsonOut)
}

func outputMapping(runID string, res fieldmap.MappingResult, needsReview, jsonOut bool) error {
	if jsonOut {
		out := map[string]interface{}{
			"mappings":     res.Mappings,
			"unmapped":     res.Unmapped,
			"confidence":   res.Confidence,
			"needs_review": needsReview,
		}
		if runID != "" {
			out["run_id"] = runID
		}
		return printJSON(out)
	}

	for _, m := range res.Mappings {
		fmt.Printf("  %-20s <- %-20s %-30s (%.0f%%)\n",
			m.TargetField, m.SourceField, truncate(m.Value.Text(), 30), m.Confidence*100)
	}
	for _, u := range res.Unmapped {
		fmt.Printf("  %-20s    (unmapped)\n", u)
	}
	fmt.Printf("\nConfidence: %.0f%%", res.Confidence*100)
	if needsReview {
		fmt.Print("  [needs review]")
	}
	fmt.Println()
	if runID != "" {
		fmt.Printf("Run: %s\n", runID)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
