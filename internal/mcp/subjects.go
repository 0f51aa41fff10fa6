package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hurttlocker/dossier/internal/ingest"
	"github.com/hurttlocker/dossier/internal/profile"
	"github.com/hurttlocker/dossier/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerIngestTool(s *server.MCPServer, engine *ingest.Engine) {
	tool := mcp.NewTool("dossier_ingest",
		mcp.WithDescription("Store a document for a subject. Entities found in the text are merged into its structured fields. Identical content is stored once per subject. The subject's profile becomes stale until re-aggregated."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Subject (client, case, person) the document belongs to"),
		),
		mcp.WithString("text",
			mcp.Description("Raw document text"),
		),
		mcp.WithString("fields",
			mcp.Description("JSON object of structured fields already extracted from the document"),
		),
		mcp.WithNumber("confidence",
			mcp.Description("Extraction confidence 0-1 (default: derived from the extraction score)"),
		),
		mcp.WithString("created_at",
			mcp.Description("When the document was created, RFC 3339 or YYYY-MM-DD (default: now). Profiles fold documents in this order."),
		),
		mcp.WithBoolean("aggregate",
			mcp.Description("Rebuild the subject's profile right away (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		subject, err := req.RequireString("subject")
		if err != nil || strings.TrimSpace(subject) == "" {
			return mcp.NewToolResultError("subject is required"), nil
		}

		raw := ingest.RawDocument{}
		raw.Text, _ = req.RequireString("text")
		if fields, err := req.RequireString("fields"); err == nil && strings.TrimSpace(fields) != "" {
			raw.Payload = []byte(fields)
		}
		if strings.TrimSpace(raw.Text) == "" && len(raw.Payload) == 0 {
			return mcp.NewToolResultError("text or fields is required"), nil
		}
		if c, err := req.RequireFloat("confidence"); err == nil {
			if c < 0 || c > 1 {
				return mcp.NewToolResultError("confidence must be between 0 and 1"), nil
			}
			raw.Confidence = c
		}
		if created, err := req.RequireString("created_at"); err == nil && created != "" {
			t, err := parseDate(created)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			raw.CreatedAt = t
		}

		out, err := engine.IngestDocument(ctx, subject, raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("ingest error: %v", err)), nil
		}

		result := map[string]interface{}{
			"document_id": out.DocumentID,
			"duplicate":   out.Duplicate,
			"confidence":  out.Confidence,
			"entities":    out.Extraction.Entities.Count(),
			"message":     fmt.Sprintf("Stored document %s for %s", out.DocumentID, subject),
		}
		if out.Duplicate {
			result["message"] = fmt.Sprintf("Document already stored as %s", out.DocumentID)
		}

		if agg, err := req.RequireBool("aggregate"); err == nil && agg {
			ao, err := engine.Reaggregate(ctx, subject)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("aggregate error: %v", err)), nil
			}
			result["profile"] = profileView(ao.Profile, skippedIDs(ao.Report), ao.Version)
		}

		data, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerAggregateTool(s *server.MCPServer, engine *ingest.Engine) {
	tool := mcp.NewTool("dossier_aggregate",
		mcp.WithDescription("Rebuild profiles from their complete document sets. With subject, rebuilds that subject; without, rebuilds every subject whose documents or overrides changed since its last profile."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("subject",
			mcp.Description("Subject to rebuild. Empty = all stale subjects."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		var subjects []string
		if subj, err := req.RequireString("subject"); err == nil && strings.TrimSpace(subj) != "" {
			subjects = []string{strings.TrimSpace(subj)}
		}

		summary, err := engine.ReaggregateAll(ctx, subjects)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("aggregate error: %v", err)), nil
		}

		type aggregated struct {
			Subject   string   `json:"subject"`
			Documents int      `json:"documents"`
			Fields    int      `json:"fields"`
			Skipped   []string `json:"skipped,omitempty"`
			Version   int64    `json:"version"`
		}
		type failed struct {
			Subject string `json:"subject"`
			Error   string `json:"error"`
		}
		rebuilt := make([]aggregated, 0, len(summary.Outcomes))
		for _, o := range summary.Outcomes {
			rebuilt = append(rebuilt, aggregated{
				Subject:   o.SubjectID,
				Documents: o.Profile.DocumentCount,
				Fields:    len(o.Profile.Fields),
				Skipped:   skippedIDs(o.Report),
				Version:   o.Version,
			})
		}
		failures := make([]failed, 0, len(summary.Failures))
		for _, f := range summary.Failures {
			failures = append(failures, failed{Subject: f.SubjectID, Error: f.Err.Error()})
		}

		data, _ := json.MarshalIndent(map[string]interface{}{
			"aggregated": rebuilt,
			"failed":     failures,
			"message":    fmt.Sprintf("Rebuilt %d profile(s)", len(rebuilt)),
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerProfileTool(s *server.MCPServer, engine *ingest.Engine) {
	tool := mcp.NewTool("dossier_profile",
		mcp.WithDescription("Get a subject's aggregated profile: per field, the deduplicated values, mean confidence, source documents and last update. Rebuilt first if stale."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Subject to look up"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		subject, err := req.RequireString("subject")
		if err != nil || strings.TrimSpace(subject) == "" {
			return mcp.NewToolResultError("subject is required"), nil
		}

		rec, err := engine.Profile(ctx, subject)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("profile error: %v", err)), nil
		}
		if rec == nil {
			return mcp.NewToolResultError(fmt.Sprintf("no documents for subject %q", subject)), nil
		}

		data, _ := json.MarshalIndent(profileView(rec.Profile, rec.SkippedIDs, rec.SourceVersion), "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerOverrideTool(s *server.MCPServer, engine *ingest.Engine) {
	tool := mcp.NewTool("dossier_override",
		mcp.WithDescription("Manually set or clear one profile field. An override replaces the aggregated values with confidence 1 and survives every rebuild. Empty values hide the field; clear=true removes the override."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Subject whose profile to edit"),
		),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Field key, e.g. 'email' (normalized like profile keys)"),
		),
		mcp.WithString("values",
			mcp.Description("Comma-separated replacement values"),
		),
		mcp.WithBoolean("clear",
			mcp.Description("Remove the override instead of setting it (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		subject, err := req.RequireString("subject")
		if err != nil || strings.TrimSpace(subject) == "" {
			return mcp.NewToolResultError("subject is required"), nil
		}
		key, err := req.RequireString("key")
		if err != nil || strings.TrimSpace(key) == "" {
			return mcp.NewToolResultError("key is required"), nil
		}

		if doClear, err := req.RequireBool("clear"); err == nil && doClear {
			removed, out, err := engine.ClearOverride(ctx, subject, key)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("override error: %v", err)), nil
			}
			result := map[string]interface{}{"removed": removed}
			if out != nil {
				result["profile"] = profileView(out.Profile, skippedIDs(out.Report), out.Version)
			}
			data, _ := json.MarshalIndent(result, "", "  ")
			return mcp.NewToolResultText(string(data)), nil
		}

		raw, _ := req.RequireString("values")
		out, err := engine.SetOverride(ctx, subject, key, splitList(raw))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("override error: %v", err)), nil
		}
		data, _ := json.MarshalIndent(map[string]interface{}{
			"profile": profileView(out.Profile, skippedIDs(out.Report), out.Version),
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// --- Helpers ---

func profileView(p *profile.Profile, skipped []string, version int64) map[string]interface{} {
	if skipped == nil {
		skipped = []string{}
	}
	return map[string]interface{}{
		"subject_id":      p.SubjectID,
		"fields":          p.Fields,
		"document_count":  p.DocumentCount,
		"last_aggregated": p.LastAggregated.Format(time.RFC3339),
		"skipped_ids":     skipped,
		"version":         version,
	}
}

func profileOf(rec *store.ProfileRecord) *profile.Profile {
	if rec == nil {
		return nil
	}
	return rec.Profile
}

func skippedIDs(rep profile.Report) []string {
	ids := make([]string, 0, len(rep.Skipped))
	for _, sd := range rep.Skipped {
		ids = append(ids, sd.ID)
	}
	return ids
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("created_at %q: expected RFC 3339 or YYYY-MM-DD", s)
}
