package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hurttlocker/dossier/internal/ingest"
)

func runIngest(args []string) error {
	var paths []string
	subject := ""
	opts := ingest.ImportOptions{}
	aggregate := false

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--subject" && i+1 < len(args):
			i++
			subject = args[i]
		case strings.HasPrefix(args[i], "--subject="):
			subject = strings.TrimPrefix(args[i], "--subject=")
		case args[i] == "--recursive" || args[i] == "-r":
			opts.Recursive = true
		case args[i] == "--dry-run" || args[i] == "-n":
			opts.DryRun = true
		case args[i] == "--aggregate":
			aggregate = true
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			paths = append(paths, args[i])
		}
	}
	subject = strings.TrimSpace(subject)
	if subject == "" || len(paths) == 0 {
		return fmt.Errorf("usage: dossier ingest --subject <id> <path> [path...] [--recursive] [--dry-run] [--aggregate]")
	}

	engine, s, _, err := openEngine(cliOverrides{})
	if err != nil {
		return err
	}
	defer s.Close()

	if isTTY() {
		opts.ProgressFn = func(current, total int, file string) {
			fmt.Fprintf(os.Stderr, "\r  [%d/%d] %s\033[K", current, total, truncate(file, 60))
			if current == total {
				fmt.Fprintln(os.Stderr)
			}
		}
	}

	ctx := context.Background()
	total := &ingest.ImportResult{}
	for _, path := range paths {
		result, err := engine.ImportPath(ctx, subject, path, opts)
		if err != nil {
			return err
		}
		total.Add(result)
	}

	prefix := ""
	if opts.DryRun {
		prefix = "[dry run] "
	}
	fmt.Printf("%sIngested for %s: %s files scanned, %s imported, %s skipped\n",
		prefix, subject,
		humanize.Comma(int64(total.FilesScanned)),
		humanize.Comma(int64(total.FilesImported)),
		humanize.Comma(int64(total.FilesSkipped)))
	fmt.Printf("  Documents: %s new, %s unchanged\n",
		humanize.Comma(int64(total.DocumentsNew)),
		humanize.Comma(int64(total.DocumentsUnchanged)))
	if len(total.Errors) > 0 {
		fmt.Printf("  Errors: %d\n", len(total.Errors))
		for _, e := range total.Errors {
			if e.Line > 0 {
				fmt.Printf("    %s:%d: %s\n", e.File, e.Line, e.Message)
			} else {
				fmt.Printf("    %s: %s\n", e.File, e.Message)
			}
		}
	}

	if aggregate && !opts.DryRun {
		out, err := engine.Reaggregate(ctx, subject)
		if err != nil {
			return err
		}
		printAggregateLine(out)
	}
	return nil
}

func runAggregate(args []string) error {
	var subjects []string
	workers := ""

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--workers" && i+1 < len(args):
			i++
			workers = args[i]
		case strings.HasPrefix(args[i], "--workers="):
			workers = strings.TrimPrefix(args[i], "--workers=")
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			subjects = append(subjects, args[i])
		}
	}

	engine, s, _, err := openEngine(cliOverrides{Workers: workers})
	if err != nil {
		return err
	}
	defer s.Close()

	summary, err := engine.ReaggregateAll(context.Background(), subjects)
	if err != nil {
		return err
	}
	if len(summary.Outcomes) == 0 && len(summary.Failures) == 0 {
		fmt.Println("All profiles are up to date.")
		return nil
	}

	for _, out := range summary.Outcomes {
		printAggregateLine(out)
	}
	for _, f := range summary.Failures {
		fmt.Printf("  %s: FAILED: %v\n", f.SubjectID, f.Err)
	}
	fmt.Printf("\nRebuilt %d profile(s), %d failed, %d document(s) skipped\n",
		len(summary.Outcomes), len(summary.Failures), summary.SkippedCount())
	if len(summary.Failures) > 0 {
		return fmt.Errorf("%d subject(s) failed to aggregate", len(summary.Failures))
	}
	return nil
}

func printAggregateLine(out *ingest.AggregateOutcome) {
	fmt.Printf("  %s: %d documents, %d fields (version %d)\n",
		out.SubjectID, out.Profile.DocumentCount, len(out.Profile.Fields), out.Version)
	for _, sd := range out.Report.Skipped {
		fmt.Printf("    skipped %s: %v\n", sd.ID, sd.Err)
	}
}
