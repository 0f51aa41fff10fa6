package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hurttlocker/dossier/internal/ingest"
	"github.com/hurttlocker/dossier/internal/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func runServe(args []string) error {
	schedule := ""
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--schedule" && i+1 < len(args):
			i++
			schedule = args[i]
		case strings.HasPrefix(args[i], "--schedule="):
			schedule = strings.TrimPrefix(args[i], "--schedule=")
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}

	engine, s, cfg, err := openEngine(cliOverrides{Schedule: schedule})
	if err != nil {
		return err
	}
	defer s.Close()

	if spec := strings.TrimSpace(cfg.ReaggregateSchedule.Value); spec != "" {
		sched, err := ingest.NewScheduler(engine, spec)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := mcp.NewServer(mcp.ServerConfig{Engine: engine, Version: version})
	fmt.Fprintf(os.Stderr, "dossier MCP server %s listening on stdio\n", version)
	return server.ServeStdio(srv)
}

func runStats(args []string) error {
	jsonOut := false
	for _, a := range args {
		switch {
		case a == "--json":
			jsonOut = true
		case strings.HasPrefix(a, "-"):
			return fmt.Errorf("unknown flag: %s", a)
		default:
			return fmt.Errorf("unexpected argument: %s", a)
		}
	}

	engine, s, _, err := openEngine(cliOverrides{})
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Stats(context.Background())
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"documents":        stats.DocumentCount,
			"subjects":         stats.SubjectCount,
			"profiles":         stats.ProfileCount,
			"stale_profiles":   stats.StaleCount,
			"overrides":        stats.OverrideCount,
			"mapping_runs":     stats.MappingRunCount,
			"needs_review":     stats.ReviewCount,
			"db_size_bytes":    stats.DBSizeBytes,
			"review_threshold": engine.ReviewThreshold(),
		})
	}

	fmt.Println("Dossier store")
	fmt.Printf("  Documents:     %s\n", humanize.Comma(stats.DocumentCount))
	fmt.Printf("  Subjects:      %s\n", humanize.Comma(stats.SubjectCount))
	fmt.Printf("  Profiles:      %s (%s stale)\n", humanize.Comma(stats.ProfileCount), humanize.Comma(stats.StaleCount))
	fmt.Printf("  Overrides:     %s\n", humanize.Comma(stats.OverrideCount))
	fmt.Printf("  Mapping runs:  %s (%s need review)\n", humanize.Comma(stats.MappingRunCount), humanize.Comma(stats.ReviewCount))
	if stats.DBSizeBytes > 0 {
		fmt.Printf("  Database size: %s\n", humanize.Bytes(uint64(stats.DBSizeBytes)))
	}
	return nil
}

func runVacuum(args []string) error {
	if len(args) > 0 {
		if strings.HasPrefix(args[0], "-") {
			return fmt.Errorf("unknown flag: %s", args[0])
		}
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	_, s, _, err := openEngine(cliOverrides{})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	before, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	if err := s.Vacuum(ctx); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	after, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Vacuumed database: %s -> %s\n",
		humanize.Bytes(uint64(before.DBSizeBytes)), humanize.Bytes(uint64(after.DBSizeBytes)))
	return nil
}
