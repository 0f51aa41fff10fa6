package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hurttlocker/dossier/internal/config"
	"github.com/hurttlocker/dossier/internal/ingest"
	"github.com/hurttlocker/dossier/internal/store"
	"github.com/mattn/go-isatty"
)

const version = "0.3.0"

var (
	globalDBPath     string
	globalConfigPath string
	globalEnvFile    string
	globalVerbose    bool
)

func main() {
	args := parseGlobalFlags(os.Args[1:])
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch args[0] {
	case "extract":
		err = runExtract(args[1:])
	case "map":
		err = runMap(args[1:])
	case "ingest", "import":
		err = runIngest(args[1:])
	case "aggregate":
		err = runAggregate(args[1:])
	case "profile":
		err = runProfile(args[1:])
	case "override":
		err = runOverride(args[1:])
	case "fill":
		err = runFill(args[1:])
	case "stats":
		err = runStats(args[1:])
	case "vacuum":
		err = runVacuum(args[1:])
	case "serve", "mcp":
		err = runServe(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("dossier %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintf(os.Stderr, "Hint: Run `dossier help` to see available commands.\n")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := remediationHint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

// parseGlobalFlags strips --db, --config, --env-file and --verbose from
// args, wherever they appear, and returns the rest.
func parseGlobalFlags(args []string) []string {
	var filtered []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--db" && i+1 < len(args):
			i++
			globalDBPath = args[i]
		case strings.HasPrefix(args[i], "--db="):
			globalDBPath = strings.TrimPrefix(args[i], "--db=")
		case args[i] == "--config" && i+1 < len(args):
			i++
			globalConfigPath = args[i]
		case strings.HasPrefix(args[i], "--config="):
			globalConfigPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--env-file" && i+1 < len(args):
			i++
			globalEnvFile = args[i]
		case strings.HasPrefix(args[i], "--env-file="):
			globalEnvFile = strings.TrimPrefix(args[i], "--env-file=")
		case args[i] == "--verbose" || args[i] == "-V":
			globalVerbose = true
		default:
			filtered = append(filtered, args[i])
		}
	}
	return filtered
}

type cliOverrides struct {
	Workers  string
	Schedule string
}

func resolveConfig(o cliOverrides) (config.ResolvedConfig, error) {
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath:  globalConfigPath,
		EnvFile:     globalEnvFile,
		CLIDBPath:   globalDBPath,
		CLIWorkers:  o.Workers,
		CLISchedule: o.Schedule,
	})
}

// getDBPath returns the resolved DB path, or "" for the store default.
func getDBPath() string {
	cfg, err := resolveConfig(cliOverrides{})
	if err != nil {
		return store.ExpandPath(globalDBPath)
	}
	return cfg.DBPath.Value
}

// openEngine opens the store and builds an engine from the resolved
// configuration. The caller closes the returned store.
func openEngine(o cliOverrides) (*ingest.Engine, store.Store, config.ResolvedConfig, error) {
	cfg, err := resolveConfig(o)
	if err != nil {
		return nil, nil, cfg, err
	}
	workers, err := cfg.WorkerCount(ingest.DefaultWorkers)
	if err != nil {
		return nil, nil, cfg, err
	}
	threshold, err := cfg.Threshold(ingest.DefaultReviewThreshold)
	if err != nil {
		return nil, nil, cfg, err
	}

	s, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, nil, cfg, fmt.Errorf("opening store: %w", err)
	}
	if globalVerbose {
		db := cfg.DBPath.Value
		if db == "" {
			db = store.DefaultDBPath
		}
		fmt.Fprintf(os.Stderr, "Using %s (workers=%d, review threshold %.2f)\n", db, workers, threshold)
	}

	engine := ingest.NewEngine(s, ingest.Config{
		Workers:         workers,
		ReviewThreshold: threshold,
		Log:             os.Stderr,
		Verbose:         globalVerbose,
	})
	return engine, s, cfg, nil
}

// remediationHint suggests a next step for common failures.
func remediationHint(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.HasPrefix(msg, "usage:"),
		strings.Contains(msg, "unknown flag"),
		strings.Contains(msg, "unexpected argument"):
		return "Run `dossier help` for usage."
	case strings.Contains(msg, "database is locked"):
		return "Another process is using this DB. Stop `dossier serve` or retry in a moment."
	case strings.Contains(msg, "file is not a database"):
		return "Database appears corrupted or stale. Move it aside and run `dossier ingest` again to rebuild it."
	case strings.Contains(msg, "read-only"):
		return "The database is read-only. Check file permissions or pass --db with a writable path."
	case strings.Contains(msg, "opening store") && strings.Contains(msg, "no such file or directory"):
		return "The DB directory does not exist. Pass --db with a valid path, or run `dossier ingest` to create the default DB."
	case strings.Contains(msg, "opening store"):
		if path := getDBPath(); path != "" {
			return fmt.Sprintf("Verify the DB path is valid and writable: %s", path)
		}
		return "Set --db <path> or check file permissions on " + store.DefaultDBPath + "."
	case strings.Contains(msg, "invalid form schema"):
		return "Every field needs a name and a type (text, checkbox, dropdown, radio); dropdown and radio fields need options."
	case strings.Contains(msg, "invalid reaggregate schedule"):
		return "Use five-field cron syntax (\"*/30 * * * *\") or a descriptor such as @hourly or \"@every 15m\"."
	case errors.Is(err, ingest.ErrDocumentNotFound):
		return "List a subject's documents with `dossier profile <subject> --documents`."
	}
	return ""
}

func isTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func printUsage() {
	fmt.Printf(`dossier %s - Entity extraction, field mapping and subject profiles

Usage:
  dossier [--db <path>] [--config <path>] [--env-file <path>] [--verbose] <command> [arguments]

Commands:
  extract [file]          Extract entities from a file, --text or stdin
  map --targets a,b,...   Map form fields onto a document's values
  ingest <path>...        Store documents for a subject (--subject required)
  aggregate [subject...]  Rebuild profiles (default: every stale subject)
  profile <subject>       Show a subject's aggregated profile
  override <subject> <key> [value...]
                          Manually set (or --clear) one profile field
  fill --schema <file>    Fill a form from a profile or document
  stats                   Show store statistics
  vacuum                  Reclaim free space in the database
  serve                   Run the MCP server on stdio
  version                 Print version

Ingest Flags:
  --subject <id>          Subject the documents belong to
  -r, --recursive         Recurse into subdirectories
  -n, --dry-run           Show what would be stored without writing
  --aggregate             Rebuild the subject's profile afterwards

Global Flags:
  --db <path>             Database path (default: %s, env DOSSIER_DB)
  --config <path>         Config file (default: ~/.dossier/config.yaml)
  --env-file <path>       Read DOSSIER_* variables from a .env file
  -V, --verbose           Print progress detail to stderr
  -h, --help              Show this help message
`, version, store.DefaultDBPath)
}
