package store

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hurttlocker/dossier/internal/fieldmap"
	"github.com/hurttlocker/dossier/internal/profile"
	"github.com/hurttlocker/dossier/internal/value"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func at(day, hour int) time.Time {
	return time.Date(2026, 1, day, hour, 0, 0, 0, time.UTC)
}

// --- Database Initialization ---

func TestNewStore(t *testing.T) {
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer s.Close()

	// Verify tables exist by querying each
	ss := s.(*SQLiteStore)
	tables := []string{"subjects", "documents", "profiles", "profile_overrides", "mapping_runs", "meta"}
	for _, table := range tables {
		var name string
		err := ss.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}

	for _, flag := range []string{"schema_bootstrap_complete", "review_index_v1"} {
		ok, err := ss.isMetaFlagEnabled(flag)
		if err != nil || !ok {
			t.Errorf("meta flag %q not set (err=%v)", flag, err)
		}
	}
}

func TestNewStore_ReopenFileDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dossier.db")
	ctx := context.Background()

	s, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, _, err := s.AddDocument(ctx, &Document{SubjectID: "c1", Payload: []byte(`{"a":"b"}`)}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	s.Close()

	s, err = NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	docs, err := s.ListDocuments(ctx, "c1")
	if err != nil || len(docs) != 1 {
		t.Fatalf("documents after reopen = %d (err=%v), want 1", len(docs), err)
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DBSizeBytes <= 0 {
		t.Errorf("DBSizeBytes = %d, want > 0 for file DB", stats.DBSizeBytes)
	}
}

// --- Documents ---

func TestAddDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := &Document{SubjectID: " c1 ", Payload: []byte(`{"email":"a@x.com"}`), Text: "Email: a@x.com", Confidence: 0.8, CreatedAt: at(2, 9)}
	id, dup, err := s.AddDocument(ctx, d)
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if id == "" || dup {
		t.Fatalf("id=%q dup=%v, want new id", id, dup)
	}
	if d.ContentHash == "" || d.IngestedAt.IsZero() {
		t.Error("AddDocument should fill hash and ingest time")
	}

	got, err := s.GetDocument(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("GetDocument: %v %v", got, err)
	}
	if got.SubjectID != "c1" || string(got.Payload) != `{"email":"a@x.com"}` || got.Text != "Email: a@x.com" || got.Confidence != 0.8 {
		t.Errorf("stored document = %+v", got)
	}
	if !got.CreatedAt.Equal(at(2, 9)) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}

	again, dup, err := s.AddDocument(ctx, &Document{SubjectID: "c1", Payload: []byte(`{"email":"a@x.com"}`), Text: "Email: a@x.com", CreatedAt: at(5, 0)})
	if err != nil {
		t.Fatalf("duplicate AddDocument: %v", err)
	}
	if !dup || again != id {
		t.Errorf("duplicate content: id=%q dup=%v, want %q true", again, dup, id)
	}

	// Same content for another subject is a new document.
	if _, dup, _ := s.AddDocument(ctx, &Document{SubjectID: "c2", Payload: []byte(`{"email":"a@x.com"}`), Text: "Email: a@x.com"}); dup {
		t.Error("same content under another subject should not be a duplicate")
	}

	if _, _, err := s.AddDocument(ctx, &Document{SubjectID: "  "}); err == nil {
		t.Error("empty subject should fail")
	}

	missing, err := s.GetDocument(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetDocument(missing) = %v, %v", missing, err)
	}
}

func TestListDocuments_CreationOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	add := func(id string, created time.Time) {
		t.Helper()
		if _, _, err := s.AddDocument(ctx, &Document{ID: id, SubjectID: "c1", Payload: []byte(`{"n":"` + id + `"}`), CreatedAt: created}); err != nil {
			t.Fatalf("AddDocument %s: %v", id, err)
		}
	}
	add("late", at(9, 0))
	add("early", at(1, 0))
	add("tie-a", at(5, 0))
	add("tie-b", at(5, 0))
	add("mid", at(3, 12).Add(500*time.Millisecond))

	docs, err := s.ListDocuments(ctx, "c1")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	var ids []string
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	want := []string{"early", "mid", "tie-a", "tie-b", "late"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}

	subjects, err := s.ListSubjects(ctx)
	if err != nil || !reflect.DeepEqual(subjects, []string{"c1"}) {
		t.Errorf("ListSubjects = %v (err=%v)", subjects, err)
	}
}

// --- Profiles ---

func testProfile(subject string, docs int) *profile.Profile {
	return &profile.Profile{
		SubjectID: subject,
		Fields: map[string]profile.ProfileField{
			"email": {
				Key:         "email",
				Values:      []string{"jane@x.com"},
				Confidence:  0.8,
				Sources:     []string{"d1", "d2"},
				LastUpdated: at(2, 0),
			},
		},
		DocumentCount:  docs,
		LastAggregated: at(10, 0),
	}
}

func TestSaveAndGetProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if rec, err := s.GetProfile(ctx, "c1"); err != nil || rec != nil {
		t.Fatalf("GetProfile before save = %v, %v", rec, err)
	}

	p := testProfile("c1", 2)
	rep := profile.Report{Folded: 2, Skipped: []profile.SkippedDocument{{ID: "bad"}}}
	saved, err := s.SaveProfile(ctx, p, rep, 3)
	if err != nil || !saved {
		t.Fatalf("SaveProfile = %v, %v", saved, err)
	}

	rec, err := s.GetProfile(ctx, "c1")
	if err != nil || rec == nil {
		t.Fatalf("GetProfile: %v %v", rec, err)
	}
	if !reflect.DeepEqual(rec.Profile, p) {
		t.Errorf("profile round trip:\n got %+v\nwant %+v", rec.Profile, p)
	}
	if !reflect.DeepEqual(rec.SkippedIDs, []string{"bad"}) || rec.SourceVersion != 3 {
		t.Errorf("record = %+v", rec)
	}

	// An older snapshot never replaces a newer one.
	saved, err = s.SaveProfile(ctx, testProfile("c1", 1), profile.Report{}, 2)
	if err != nil {
		t.Fatalf("SaveProfile older: %v", err)
	}
	if saved {
		t.Error("snapshot from an older version should be discarded")
	}
	rec, _ = s.GetProfile(ctx, "c1")
	if rec.Profile.DocumentCount != 2 {
		t.Errorf("DocumentCount = %d, older snapshot leaked in", rec.Profile.DocumentCount)
	}

	if _, err := s.SaveProfile(ctx, &profile.Profile{}, profile.Report{}, 0); err == nil {
		t.Error("profile without subject should fail")
	}
}

func TestStaleSubjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, subj := range []string{"b", "a"} {
		if _, _, err := s.AddDocument(ctx, &Document{SubjectID: subj, Payload: []byte(`{"x":"1"}`)}); err != nil {
			t.Fatal(err)
		}
	}
	stale, err := s.StaleSubjects(ctx)
	if err != nil || !reflect.DeepEqual(stale, []string{"a", "b"}) {
		t.Fatalf("StaleSubjects = %v (err=%v)", stale, err)
	}

	snap, err := s.LoadSubject(ctx, "a")
	if err != nil {
		t.Fatalf("LoadSubject: %v", err)
	}
	if snap.Version != 1 || len(snap.Documents) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if _, err := s.SaveProfile(ctx, testProfile("a", 1), profile.Report{}, snap.Version); err != nil {
		t.Fatal(err)
	}
	stale, _ = s.StaleSubjects(ctx)
	if !reflect.DeepEqual(stale, []string{"b"}) {
		t.Errorf("after aggregating a: stale = %v", stale)
	}

	if _, _, err := s.AddDocument(ctx, &Document{SubjectID: "a", Payload: []byte(`{"x":"2"}`)}); err != nil {
		t.Fatal(err)
	}
	stale, _ = s.StaleSubjects(ctx)
	if !reflect.DeepEqual(stale, []string{"a", "b"}) {
		t.Errorf("after new document: stale = %v", stale)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DocumentCount != 3 || stats.SubjectCount != 2 || stats.ProfileCount != 1 || stats.StaleCount != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLoadSubject_Unknown(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.LoadSubject(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("LoadSubject: %v", err)
	}
	if snap.Version != 0 || len(snap.Documents) != 0 || len(snap.Overrides) != 0 {
		t.Errorf("unknown subject snapshot = %+v", snap)
	}
}

// --- Overrides ---

func TestOverrides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetOverride(ctx, "c1", profile.Override{Key: "E-mail", Values: []string{"old@x.com"}, UpdatedAt: at(1, 0)}); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if err := s.SetOverride(ctx, "c1", profile.Override{Key: "e mail", Values: []string{"new@x.com"}, UpdatedAt: at(2, 0)}); err != nil {
		t.Fatalf("SetOverride replace: %v", err)
	}
	if err := s.SetOverride(ctx, "c1", profile.Override{Key: "nickname", UpdatedAt: at(3, 0)}); err != nil {
		t.Fatalf("SetOverride clear: %v", err)
	}

	got, err := s.ListOverrides(ctx, "c1")
	if err != nil {
		t.Fatalf("ListOverrides: %v", err)
	}
	want := []profile.Override{
		{Key: "e_mail", Values: []string{"new@x.com"}, UpdatedAt: at(2, 0)},
		{Key: "nickname", Values: []string{}, UpdatedAt: at(3, 0)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("overrides = %+v, want %+v", got, want)
	}

	snap, _ := s.LoadSubject(ctx, "c1")
	if snap.Version != 3 || len(snap.Overrides) != 2 {
		t.Errorf("snapshot = %+v, want version 3 with 2 overrides", snap)
	}

	removed, err := s.DeleteOverride(ctx, "c1", "Nickname")
	if err != nil || !removed {
		t.Errorf("DeleteOverride = %v, %v", removed, err)
	}
	removed, err = s.DeleteOverride(ctx, "c1", "nickname")
	if err != nil || removed {
		t.Errorf("second DeleteOverride = %v, %v", removed, err)
	}
	snap, _ = s.LoadSubject(ctx, "c1")
	if snap.Version != 4 {
		t.Errorf("version = %d, want 4 (no bump for missing override)", snap.Version)
	}

	if err := s.SetOverride(ctx, "c1", profile.Override{Key: "--"}); err == nil {
		t.Error("override with empty normalized key should fail")
	}
}

// --- Mapping runs ---

func TestMappingRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	result := fieldmap.MappingResult{
		Mappings: []fieldmap.FieldMapping{
			{SourceField: "full_name", TargetField: "name", Confidence: 0.89, Value: value.Str("Jane Doe")},
		},
		Unmapped:   []string{"ssn"},
		Confidence: 0.89,
	}
	first, err := s.RecordMappingRun(ctx, &MappingRun{SubjectID: "c1", Form: "intake", Result: result, NeedsReview: true, CreatedAt: at(1, 0)})
	if err != nil || first == "" {
		t.Fatalf("RecordMappingRun: %q %v", first, err)
	}
	if _, err := s.RecordMappingRun(ctx, &MappingRun{SubjectID: "c2", Form: "w9", Result: fieldmap.MappingResult{Mappings: []fieldmap.FieldMapping{}, Unmapped: []string{}}, CreatedAt: at(2, 0)}); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListMappingRuns(ctx, "", 0)
	if err != nil || len(runs) != 2 {
		t.Fatalf("ListMappingRuns all = %d (err=%v)", len(runs), err)
	}
	if runs[0].SubjectID != "c2" {
		t.Errorf("runs should be newest first, got %s", runs[0].SubjectID)
	}

	runs, err = s.ListMappingRuns(ctx, "c1", 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListMappingRuns c1 = %d (err=%v)", len(runs), err)
	}
	r := runs[0]
	if r.ID != first || r.Form != "intake" || !r.NeedsReview || !r.CreatedAt.Equal(at(1, 0)) {
		t.Errorf("run = %+v", r)
	}
	m, ok := r.Result.Lookup("Name")
	if !ok || m.Value.Text() != "Jane Doe" || m.SourceField != "full_name" {
		t.Errorf("decoded mapping = %+v, %v", m, ok)
	}
	if !reflect.DeepEqual(r.Result.Unmapped, []string{"ssn"}) {
		t.Errorf("unmapped = %v", r.Result.Unmapped)
	}

	stats, _ := s.Stats(ctx)
	if stats.MappingRunCount != 2 || stats.ReviewCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHashDocumentContent(t *testing.T) {
	a := HashDocumentContent("c1", []byte(`{}`), "text")
	if a != HashDocumentContent("c1", []byte(`{}`), "text") {
		t.Error("hash should be stable")
	}
	if a == HashDocumentContent("c2", []byte(`{}`), "text") {
		t.Error("subject should change the hash")
	}
	// The separator keeps payload and text from bleeding together.
	if HashDocumentContent("c1", []byte("ab"), "c") == HashDocumentContent("c1", []byte("a"), "bc") {
		t.Error("payload/text boundary should change the hash")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}
