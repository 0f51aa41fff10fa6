package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hurttlocker/dossier/internal/ingest"
)

// ==================== parseGlobalFlags ====================

func resetGlobals() {
	globalDBPath = ""
	globalConfigPath = ""
	globalEnvFile = ""
	globalVerbose = false
}

func TestParseGlobalFlags_DBFlag(t *testing.T) {
	resetGlobals()

	args := parseGlobalFlags([]string{"--db", "/tmp/test.db", "profile", "c1"})

	if globalDBPath != "/tmp/test.db" {
		t.Errorf("globalDBPath = %q, want %q", globalDBPath, "/tmp/test.db")
	}
	if len(args) != 2 || args[0] != "profile" || args[1] != "c1" {
		t.Errorf("filtered args = %v, want [profile c1]", args)
	}
}

func TestParseGlobalFlags_EqualsForms(t *testing.T) {
	resetGlobals()

	args := parseGlobalFlags([]string{"--db=/tmp/eq.db", "stats", "--config=/tmp/c.yaml"})

	if globalDBPath != "/tmp/eq.db" {
		t.Errorf("globalDBPath = %q, want %q", globalDBPath, "/tmp/eq.db")
	}
	if globalConfigPath != "/tmp/c.yaml" {
		t.Errorf("globalConfigPath = %q, want %q", globalConfigPath, "/tmp/c.yaml")
	}
	if len(args) != 1 || args[0] != "stats" {
		t.Errorf("filtered args = %v, want [stats]", args)
	}
}

func TestParseGlobalFlags_VerboseAnywhere(t *testing.T) {
	resetGlobals()

	args := parseGlobalFlags([]string{"aggregate", "-V", "c1", "--config", "/tmp/c.yaml"})

	if !globalVerbose {
		t.Error("globalVerbose should be true")
	}
	if globalConfigPath != "/tmp/c.yaml" {
		t.Errorf("globalConfigPath = %q", globalConfigPath)
	}
	if len(args) != 2 || args[0] != "aggregate" || args[1] != "c1" {
		t.Errorf("filtered args = %v, want [aggregate c1]", args)
	}
}

func TestParseGlobalFlags_EnvFile(t *testing.T) {
	resetGlobals()
	defer resetGlobals()

	args := parseGlobalFlags([]string{"--env-file", "/tmp/.env", "serve"})
	if globalEnvFile != "/tmp/.env" {
		t.Errorf("globalEnvFile = %q", globalEnvFile)
	}
	if len(args) != 1 || args[0] != "serve" {
		t.Errorf("filtered args = %v, want [serve]", args)
	}
}

func TestParseGlobalFlags_DanglingDBKept(t *testing.T) {
	resetGlobals()

	args := parseGlobalFlags([]string{"stats", "--db"})

	if globalDBPath != "" {
		t.Errorf("globalDBPath = %q, want empty", globalDBPath)
	}
	if len(args) != 2 || args[1] != "--db" {
		t.Errorf("filtered args = %v, want [stats --db]", args)
	}
}

// ==================== getDBPath ====================

func TestGetDBPath_Precedence(t *testing.T) {
	resetGlobals()
	defer resetGlobals()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("db_path: /from/config.db\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	globalConfigPath = cfgPath
	t.Setenv("DOSSIER_DB", "")
	t.Setenv("DOSSIER_DB_PATH", "")

	if got := getDBPath(); got != "/from/config.db" {
		t.Errorf("config only: got %q", got)
	}

	t.Setenv("DOSSIER_DB", "/from/env.db")
	if got := getDBPath(); got != "/from/env.db" {
		t.Errorf("env over config: got %q", got)
	}

	globalDBPath = "/from/flag.db"
	if got := getDBPath(); got != "/from/flag.db" {
		t.Errorf("flag over env: got %q", got)
	}
}

func TestGetDBPath_ExpandsHome(t *testing.T) {
	resetGlobals()
	defer resetGlobals()

	globalConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	globalDBPath = "~/custom/dossier.db"

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got, want := getDBPath(), filepath.Join(home, "custom", "dossier.db"); got != want {
		t.Errorf("getDBPath() = %q, want %q", got, want)
	}
}

// ==================== remediationHint ====================

func TestRemediationHint(t *testing.T) {
	resetGlobals()
	defer resetGlobals()
	globalConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	globalDBPath = "/data/dossier.db"

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"usage", fmt.Errorf("usage: dossier ingest --subject <id> <path>"), "dossier help"},
		{"unknown flag", fmt.Errorf("unknown flag: --bogus"), "dossier help"},
		{"locked", fmt.Errorf("saving profile: database is locked (5)"), "Another process is using this DB"},
		{"read only", fmt.Errorf("attempt to write a read-only database"), "read-only"},
		{"missing dir", fmt.Errorf("opening store: open /nope/x.db: no such file or directory"), "does not exist"},
		{"open failure", fmt.Errorf("opening store: pinging database: boom"), "/data/dossier.db"},
		{"schema", fmt.Errorf("schema f.yaml: invalid form schema: no fields"), "dropdown and radio"},
		{"schedule", fmt.Errorf(`invalid reaggregate schedule "nope": bad`), "@hourly"},
		{"document", fmt.Errorf("%w: doc-1", ingest.ErrDocumentNotFound), "--documents"},
		{"other", errors.New("something else"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := remediationHint(tt.err)
			if tt.want == "" {
				if got != "" {
					t.Errorf("hint = %q, want none", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("hint = %q, want it to mention %q", got, tt.want)
			}
		})
	}
}

// ==================== helpers ====================

func TestSplitList(t *testing.T) {
	got := splitList(" name, ,email,,phone ")
	if len(got) != 3 || got[0] != "name" || got[1] != "email" || got[2] != "phone" {
		t.Errorf("splitList = %q", got)
	}
	if splitList("") != nil {
		t.Error("empty input should give nil")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abcdefghijkl", 8); got != "abcde..." {
		t.Errorf("truncate = %q", got)
	}
}

func captureStdout(fn func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// useTempDB points the CLI at a fresh database and an absent config file.
func useTempDB(t *testing.T) string {
	t.Helper()
	resetGlobals()
	t.Cleanup(resetGlobals)
	t.Setenv("DOSSIER_DB", "")
	t.Setenv("DOSSIER_DB_PATH", "")
	t.Setenv("DOSSIER_WORKERS", "")
	t.Setenv("DOSSIER_REVIEW_THRESHOLD", "")
	t.Setenv("DOSSIER_SCHEDULE", "")

	dir := t.TempDir()
	globalDBPath = filepath.Join(dir, "dossier.db")
	globalConfigPath = filepath.Join(dir, "missing.yaml")
	return dir
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// ==================== argument errors ====================

func TestCommandArgErrors(t *testing.T) {
	useTempDB(t)

	tests := []struct {
		name string
		run  func([]string) error
		args []string
		want string
	}{
		{"extract no input", runExtract, nil, "usage: dossier extract"},
		{"extract bad flag", runExtract, []string{"--bogus"}, "unknown flag: --bogus"},
		{"extract two files", runExtract, []string{"a.txt", "b.txt"}, "unexpected argument: b.txt"},
		{"map no targets", runMap, []string{"--text", "x"}, "usage: dossier map"},
		{"map no source", runMap, []string{"--targets", "email"}, "needs --document"},
		{"ingest no subject", runIngest, []string{"file.json"}, "usage: dossier ingest"},
		{"ingest no path", runIngest, []string{"--subject", "c1"}, "usage: dossier ingest"},
		{"aggregate bad flag", runAggregate, []string{"--fast"}, "unknown flag: --fast"},
		{"profile no subject", runProfile, nil, "usage: dossier profile"},
		{"override no key", runOverride, []string{"c1"}, "usage: dossier override"},
		{"override clear with values", runOverride, []string{"c1", "email", "x", "--clear"}, "usage: dossier override"},
		{"fill no schema", runFill, []string{"--subject", "c1"}, "usage: dossier fill"},
		{"fill both sources", runFill, []string{"--schema", "s.yaml", "--subject", "c1", "--document", "d"}, "usage: dossier fill"},
		{"stats extra arg", runStats, []string{"now"}, "unexpected argument: now"},
		{"vacuum extra arg", runVacuum, []string{"now"}, "unexpected argument: now"},
		{"serve bad flag", runServe, []string{"--port", "80"}, "unknown flag: --port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(tt.args)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestMap_InvalidFieldsJSON(t *testing.T) {
	useTempDB(t)
	err := runMap([]string{"--targets", "email", "--fields", "[1,2]"})
	if err == nil || !strings.Contains(err.Error(), "--fields") {
		t.Fatalf("expected --fields error, got %v", err)
	}
}

func TestServe_InvalidSchedule(t *testing.T) {
	useTempDB(t)
	err := runServe([]string{"--schedule", "not a schedule"})
	if err == nil || !strings.Contains(err.Error(), "invalid reaggregate schedule") {
		t.Fatalf("expected schedule error, got %v", err)
	}
}

func TestAggregate_InvalidWorkers(t *testing.T) {
	useTempDB(t)
	err := runAggregate([]string{"--workers", "zero"})
	if err == nil || !strings.Contains(err.Error(), "workers") {
		t.Fatalf("expected workers error, got %v", err)
	}
}

// ==================== extract / map ====================

func TestExtract_TextJSON(t *testing.T) {
	useTempDB(t)

	var runErr error
	out := captureStdout(func() {
		runErr = runExtract([]string{"--text", "Write to jane@example.com today", "--json"})
	})
	if runErr != nil {
		t.Fatalf("runExtract: %v", runErr)
	}

	var got struct {
		Entities    map[string][]string `json:"entities"`
		EntityCount int                 `json:"entity_count"`
		Score       float64             `json:"score"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if len(got.Entities["email"]) != 1 || got.Entities["email"][0] != "jane@example.com" {
		t.Errorf("email entities = %v", got.Entities["email"])
	}
	if got.EntityCount < 1 || got.Score <= 0 {
		t.Errorf("count = %d, score = %v", got.EntityCount, got.Score)
	}
}

func TestExtract_FileHumanOutput(t *testing.T) {
	dir := useTempDB(t)
	path := writeTestFile(t, dir, "note.txt", "Reach me at jane@example.com")

	var runErr error
	out := captureStdout(func() {
		runErr = runExtract([]string{path})
	})
	if runErr != nil {
		t.Fatalf("runExtract: %v", runErr)
	}
	if !strings.Contains(out, "Found ") || !strings.Contains(out, "email:") || !strings.Contains(out, "jane@example.com") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestExtract_MissingFile(t *testing.T) {
	useTempDB(t)
	err := runExtract([]string{"/nonexistent/doc.txt"})
	if err == nil || !strings.Contains(err.Error(), "reading /nonexistent/doc.txt") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestMap_AdHocText(t *testing.T) {
	useTempDB(t)

	var runErr error
	out := captureStdout(func() {
		runErr = runMap([]string{"--targets", "email", "--text", "Reach me at jane@example.com", "--json"})
	})
	if runErr != nil {
		t.Fatalf("runMap: %v", runErr)
	}

	var got struct {
		Mappings []struct {
			SourceField string `json:"source_field"`
			TargetField string `json:"target_field"`
		} `json:"mappings"`
		Unmapped []string `json:"unmapped"`
		RunID    string   `json:"run_id"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if len(got.Mappings) != 1 || got.Mappings[0].TargetField != "email" || got.Mappings[0].SourceField != "email" {
		t.Errorf("mappings = %+v", got.Mappings)
	}
	if len(got.Unmapped) != 0 {
		t.Errorf("unmapped = %v", got.Unmapped)
	}
	if got.RunID != "" {
		t.Errorf("ad hoc mapping should not record a run, got %q", got.RunID)
	}
}

// ==================== end to end ====================

const clientJSON = `{
  "fields": {"full_name": "Jane Doe", "email": "jane@x.com", "state": "ny"},
  "confidence": 0.9,
  "created_at": "2024-01-02"
}`

type profileOutput struct {
	SubjectID string `json:"subject_id"`
	Fields    map[string]struct {
		Values     []string `json:"values"`
		Confidence float64  `json:"confidence"`
		Sources    []string `json:"sources"`
		Overridden bool     `json:"overridden"`
	} `json:"fields"`
	DocumentCount int `json:"document_count"`
	Version       int64
	Documents     []struct {
		ID string `json:"id"`
	} `json:"documents"`
	Runs []struct {
		ID          string `json:"id"`
		Form        string `json:"form"`
		NeedsReview bool   `json:"needs_review"`
	} `json:"mapping_runs"`
}

func readProfile(t *testing.T, args ...string) profileOutput {
	t.Helper()
	var runErr error
	out := captureStdout(func() {
		runErr = runProfile(append(args, "--json"))
	})
	if runErr != nil {
		t.Fatalf("runProfile: %v", runErr)
	}
	var p profileOutput
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatalf("decoding profile %q: %v", out, err)
	}
	return p
}

func TestEndToEnd_IngestAggregateProfile(t *testing.T) {
	dir := useTempDB(t)
	path := writeTestFile(t, dir, "client.json", clientJSON)

	var runErr error
	out := captureStdout(func() {
		runErr = runIngest([]string{"--subject", "c1", path})
	})
	if runErr != nil {
		t.Fatalf("runIngest: %v", runErr)
	}
	if !strings.Contains(out, "1 imported") || !strings.Contains(out, "1 new") {
		t.Errorf("ingest output:\n%s", out)
	}

	out = captureStdout(func() {
		runErr = runIngest([]string{"--subject", "c1", path})
	})
	if runErr != nil {
		t.Fatalf("second runIngest: %v", runErr)
	}
	if !strings.Contains(out, "0 new, 1 unchanged") {
		t.Errorf("re-ingest should be a no-op:\n%s", out)
	}

	out = captureStdout(func() {
		runErr = runAggregate(nil)
	})
	if runErr != nil {
		t.Fatalf("runAggregate: %v", runErr)
	}
	if !strings.Contains(out, "c1: 1 documents") || !strings.Contains(out, "Rebuilt 1 profile(s)") {
		t.Errorf("aggregate output:\n%s", out)
	}

	out = captureStdout(func() {
		runErr = runAggregate(nil)
	})
	if runErr != nil {
		t.Fatalf("second runAggregate: %v", runErr)
	}
	if !strings.Contains(out, "up to date") {
		t.Errorf("second aggregate should find nothing stale:\n%s", out)
	}

	p := readProfile(t, "c1", "--documents")
	if p.SubjectID != "c1" || p.DocumentCount != 1 {
		t.Fatalf("profile = %+v", p)
	}
	email := p.Fields["email"]
	if len(email.Values) != 1 || email.Values[0] != "jane@x.com" || email.Confidence != 0.9 {
		t.Errorf("email field = %+v", email)
	}
	if len(p.Documents) != 1 || len(email.Sources) != 1 || email.Sources[0] != p.Documents[0].ID {
		t.Errorf("documents = %+v, sources = %v", p.Documents, email.Sources)
	}
}

func TestEndToEnd_OverrideAndClear(t *testing.T) {
	dir := useTempDB(t)
	path := writeTestFile(t, dir, "client.json", clientJSON)
	captureStdout(func() {
		if err := runIngest([]string{"--subject=c1", "--aggregate", path}); err != nil {
			t.Errorf("runIngest: %v", err)
		}
	})

	var runErr error
	out := captureStdout(func() {
		runErr = runOverride([]string{"c1", "Email", "new@x.com"})
	})
	if runErr != nil {
		t.Fatalf("runOverride: %v", runErr)
	}
	if !strings.Contains(out, "Set Email on c1: new@x.com") {
		t.Errorf("override output:\n%s", out)
	}

	p := readProfile(t, "c1")
	email := p.Fields["email"]
	if !email.Overridden || len(email.Values) != 1 || email.Values[0] != "new@x.com" || email.Confidence != 1 {
		t.Errorf("overridden email = %+v", email)
	}

	out = captureStdout(func() {
		runErr = runOverride([]string{"c1", "email", "--clear"})
	})
	if runErr != nil {
		t.Fatalf("clear: %v", runErr)
	}
	if !strings.Contains(out, "Cleared override") {
		t.Errorf("clear output:\n%s", out)
	}
	p = readProfile(t, "c1")
	if email := p.Fields["email"]; email.Overridden || email.Values[0] != "jane@x.com" {
		t.Errorf("email after clear = %+v", email)
	}

	out = captureStdout(func() {
		runErr = runOverride([]string{"c1", "email", "--clear"})
	})
	if runErr != nil || !strings.Contains(out, "No override") {
		t.Errorf("second clear: err=%v out=%q", runErr, out)
	}
}

const intakeSchema = `form: intake
fields:
  - name: Full Name
    type: text
  - name: email
    type: text
  - name: state
    type: dropdown
    options: [CA, NY, TX]
  - name: ssn
    type: text
`

func TestEndToEnd_FillFromProfile(t *testing.T) {
	dir := useTempDB(t)
	path := writeTestFile(t, dir, "client.json", clientJSON)
	schema := writeTestFile(t, dir, "intake.yaml", intakeSchema)
	captureStdout(func() {
		if err := runIngest([]string{"--subject", "c1", path}); err != nil {
			t.Errorf("runIngest: %v", err)
		}
	})

	var runErr error
	out := captureStdout(func() {
		runErr = runFill([]string{"--schema", schema, "--subject", "c1", "--json"})
	})
	if runErr != nil {
		t.Fatalf("runFill: %v", runErr)
	}

	var filled struct {
		Fields map[string]struct {
			Text     string `json:"text"`
			Option   string `json:"option"`
			Selected bool   `json:"selected"`
		} `json:"fields"`
		Unfilled []string `json:"unfilled"`
	}
	if err := json.Unmarshal([]byte(out), &filled); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if got := filled.Fields["Full Name"].Text; got != "Jane Doe" {
		t.Errorf("Full Name = %q", got)
	}
	if st := filled.Fields["state"]; !st.Selected || st.Option != "NY" {
		t.Errorf("state = %+v", st)
	}
	if len(filled.Unfilled) != 1 || filled.Unfilled[0] != "ssn" {
		t.Errorf("unfilled = %v", filled.Unfilled)
	}

	out = captureStdout(func() {
		runErr = runFill([]string{"--schema", schema, "--subject", "c1"})
	})
	if runErr != nil {
		t.Fatalf("runFill text: %v", runErr)
	}
	if !strings.Contains(out, "Jane Doe") || !strings.Contains(out, "(unfilled)") {
		t.Errorf("fill output:\n%s", out)
	}
}

func TestEndToEnd_MapDocumentRecordsRun(t *testing.T) {
	dir := useTempDB(t)
	path := writeTestFile(t, dir, "client.json", clientJSON)
	captureStdout(func() {
		if err := runIngest([]string{"--subject", "c1", path}); err != nil {
			t.Errorf("runIngest: %v", err)
		}
	})
	docs := readProfile(t, "c1", "--documents").Documents
	if len(docs) != 1 {
		t.Fatalf("documents = %+v", docs)
	}

	var runErr error
	out := captureStdout(func() {
		runErr = runMap([]string{"--document", docs[0].ID, "--form=intake", "--targets", "email,tax_id"})
	})
	if runErr != nil {
		t.Fatalf("runMap: %v", runErr)
	}
	if !strings.Contains(out, "jane@x.com") || !strings.Contains(out, "tax_id") || !strings.Contains(out, "[needs review]") {
		t.Errorf("map output:\n%s", out)
	}

	runs := readProfile(t, "c1", "--runs").Runs
	if len(runs) != 1 || runs[0].Form != "intake" || !runs[0].NeedsReview {
		t.Errorf("runs = %+v", runs)
	}

	err := runMap([]string{"--document", "missing", "--targets", "email"})
	if !errors.Is(err, ingest.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestEndToEnd_Stats(t *testing.T) {
	dir := useTempDB(t)
	path := writeTestFile(t, dir, "client.json", clientJSON)
	captureStdout(func() {
		if err := runIngest([]string{"--subject", "c1", path}); err != nil {
			t.Errorf("runIngest: %v", err)
		}
	})

	var runErr error
	out := captureStdout(func() {
		runErr = runStats([]string{"--json"})
	})
	if runErr != nil {
		t.Fatalf("runStats: %v", runErr)
	}
	var stats map[string]float64
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if stats["documents"] != 1 || stats["subjects"] != 1 || stats["stale_profiles"] != 1 {
		t.Errorf("stats = %v", stats)
	}
	if stats["review_threshold"] != ingest.DefaultReviewThreshold {
		t.Errorf("review_threshold = %v", stats["review_threshold"])
	}

	out = captureStdout(func() {
		runErr = runStats(nil)
	})
	if runErr != nil || !strings.Contains(out, "Documents:") {
		t.Errorf("stats output: err=%v\n%s", runErr, out)
	}
}

func TestVacuum(t *testing.T) {
	useTempDB(t)
	var runErr error
	out := captureStdout(func() {
		runErr = runVacuum(nil)
	})
	if runErr != nil {
		t.Fatalf("runVacuum: %v", runErr)
	}
	if !strings.Contains(out, "Vacuumed database") {
		t.Errorf("vacuum output: %q", out)
	}
}

func TestProfile_UnknownSubject(t *testing.T) {
	useTempDB(t)
	err := runProfile([]string{"nobody"})
	if err == nil || !strings.Contains(err.Error(), `no documents for subject "nobody"`) {
		t.Fatalf("expected unknown subject error, got %v", err)
	}
}

func TestIngest_DryRunStoresNothing(t *testing.T) {
	dir := useTempDB(t)
	path := writeTestFile(t, dir, "client.json", clientJSON)

	var runErr error
	out := captureStdout(func() {
		runErr = runIngest([]string{"--subject", "c1", "--dry-run", "--aggregate", path})
	})
	if runErr != nil {
		t.Fatalf("runIngest: %v", runErr)
	}
	if !strings.HasPrefix(out, "[dry run]") {
		t.Errorf("dry run output:\n%s", out)
	}
	if err := runProfile([]string{"c1"}); err == nil {
		t.Error("dry run should not create a profile")
	}
}

// ==================== main (subprocess) ====================

func TestMainProcessHelper(t *testing.T) {
	if os.Getenv("DOSSIER_TEST_MAIN_HELPER") != "1" {
		return
	}

	args := []string{"dossier"}
	for i := 1; i < len(os.Args); i++ {
		if os.Args[i] == "--" {
			args = append(args, os.Args[i+1:]...)
			break
		}
	}
	os.Args = args
	main()
}

func runMainSubprocess(t *testing.T, args ...string) (int, string) {
	t.Helper()
	return runMainSubprocessWithEnv(t, nil, args...)
}

func runMainSubprocessWithEnv(t *testing.T, env map[string]string, args ...string) (int, string) {
	t.Helper()

	cmdArgs := []string{"-test.run=^TestMainProcessHelper$", "--"}
	cmdArgs = append(cmdArgs, args...)
	cmd := exec.Command(os.Args[0], cmdArgs...)
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.Env = append(cmd.Env, "DOSSIER_TEST_MAIN_HELPER=1")

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return 0, out.String()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), out.String()
	}

	t.Fatalf("running subprocess main helper: %v", err)
	return -1, out.String()
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return append([]string{}, base...)
	}

	skip := make(map[string]struct{}, len(overrides))
	for k := range overrides {
		skip[k] = struct{}{}
	}

	merged := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			key = kv[:idx]
		}
		if _, shouldSkip := skip[key]; shouldSkip {
			continue
		}
		merged = append(merged, kv)
	}
	for k, v := range overrides {
		merged = append(merged, fmt.Sprintf("%s=%s", k, v))
	}
	return merged
}

func TestMain_NoArgsPrintsUsage(t *testing.T) {
	code, out := runMainSubprocess(t)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0\n%s", code, out)
	}
	if !strings.Contains(out, "Usage:") {
		t.Errorf("expected usage, got:\n%s", out)
	}
}

func TestMain_UnknownCommand(t *testing.T) {
	code, out := runMainSubprocess(t, "frobnicate")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "Unknown command: frobnicate") || !strings.Contains(out, "dossier help") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestMain_Version(t *testing.T) {
	code, out := runMainSubprocess(t, "version")
	if code != 0 || !strings.Contains(out, "dossier "+version) {
		t.Errorf("code=%d out=%q", code, out)
	}
}

func TestMain_UsageErrorShowsHint(t *testing.T) {
	code, out := runMainSubprocess(t, "ingest", "file.json")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "Error: usage: dossier ingest") {
		t.Errorf("missing usage error:\n%s", out)
	}
	if !strings.Contains(out, "Hint: Run `dossier help`") {
		t.Errorf("missing hint:\n%s", out)
	}
}

func TestMain_IngestThenProfileViaEnvDB(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "client.json", clientJSON)
	env := map[string]string{
		"DOSSIER_DB":      filepath.Join(dir, "env.db"),
		"DOSSIER_DB_PATH": "",
	}
	cfg := "--config=" + filepath.Join(dir, "missing.yaml")

	code, out := runMainSubprocessWithEnv(t, env, cfg, "ingest", "--subject", "c1", "--aggregate", path)
	if code != 0 {
		t.Fatalf("ingest exit code = %d\n%s", code, out)
	}
	if !strings.Contains(out, "c1: 1 documents") {
		t.Errorf("ingest output:\n%s", out)
	}

	code, out = runMainSubprocessWithEnv(t, env, cfg, "profile", "c1")
	if code != 0 {
		t.Fatalf("profile exit code = %d\n%s", code, out)
	}
	if !strings.Contains(out, "Profile: c1") || !strings.Contains(out, "jane@x.com") {
		t.Errorf("profile output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "env.db")); err != nil {
		t.Errorf("database not created at DOSSIER_DB: %v", err)
	}
}
