// Package mcp provides a Model Context Protocol server for dossier.
//
// It exposes the extraction, mapping and profile pipeline (extract, map,
// ingest, aggregate, profile, override, fill) as MCP tools, and store
// statistics and the subject list as MCP resources. Served over stdio
// for agent hosts such as Claude Desktop or Cursor.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hurttlocker/dossier/internal/fieldmap"
	"github.com/hurttlocker/dossier/internal/fill"
	"github.com/hurttlocker/dossier/internal/ingest"
	"github.com/hurttlocker/dossier/internal/value"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Engine  *ingest.Engine
	Version string // version string for MCP server info
}

// dbMu serializes MCP tool calls that touch the database. The mcp-go
// library dispatches handlers concurrently; a write and a following read
// from the same client must observe each other.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all dossier tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Dossier",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerExtractTool(s, cfg.Engine)
	registerMapTool(s, cfg.Engine)
	registerFillTool(s, cfg.Engine)
	registerIngestTool(s, cfg.Engine)
	registerAggregateTool(s, cfg.Engine)
	registerProfileTool(s, cfg.Engine)
	registerOverrideTool(s, cfg.Engine)

	registerStatsResource(s, cfg.Engine)
	registerSubjectsResource(s, cfg.Engine)

	return s
}

// --- Pipeline tools ---

func registerExtractTool(s *server.MCPServer, engine *ingest.Engine) {
	tool := mcp.NewTool("dossier_extract",
		mcp.WithDescription("Extract typed entities (email, phone, date, currency, name, address, number) from free text. Returns matches per type in order of first occurrence plus a 0-100 completeness score. Nothing is stored."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Document text to scan"),
		),
		mcp.WithString("fields",
			mcp.Description("Optional JSON object of structured fields supplied with the text; counts toward the score."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		fields, err := optionalFields(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		ext, err := extractOnly(engine, text, fields)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("extract error: %v", err)), nil
		}
		data, _ := json.MarshalIndent(ext, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerMapTool(s *server.MCPServer, engine *ingest.Engine) {
	tool := mcp.NewTool("dossier_map",
		mcp.WithDescription("Map a form's target field names onto values from a document. Give document_id to map a stored document (the run is recorded for audit), or text and/or fields to map ad hoc. Targets below 0.5 confidence are reported unmapped."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("targets",
			mcp.Required(),
			mcp.Description("Comma-separated target field names, e.g. 'name,email,phone'"),
		),
		mcp.WithString("document_id",
			mcp.Description("Stored document to map"),
		),
		mcp.WithString("form",
			mcp.Description("Form name recorded with the run (default: 'mcp')"),
		),
		mcp.WithString("text",
			mcp.Description("Free text to map when no document_id is given"),
		),
		mcp.WithString("fields",
			mcp.Description("JSON object of structured fields to map when no document_id is given"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		rawTargets, err := req.RequireString("targets")
		if err != nil {
			return mcp.NewToolResultError("targets is required"), nil
		}
		targets := splitList(rawTargets)
		if len(targets) == 0 {
			return mcp.NewToolResultError("at least one target field is required"), nil
		}

		if docID, err := req.RequireString("document_id"); err == nil && docID != "" {
			form := "mcp"
			if f, err := req.RequireString("form"); err == nil && f != "" {
				form = f
			}
			out, err := engine.MapDocument(ctx, docID, form, targets)
			if err != nil {
				if errors.Is(err, ingest.ErrDocumentNotFound) {
					return mcp.NewToolResultError(err.Error()), nil
				}
				return mcp.NewToolResultError(fmt.Sprintf("map error: %v", err)), nil
			}
			return mappingResult(out.RunID, out.Result, out.NeedsReview), nil
		}

		text, _ := req.RequireString("text")
		fields, err := optionalFields(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if strings.TrimSpace(text) == "" && len(fields) == 0 {
			return mcp.NewToolResultError("document_id, text or fields is required"), nil
		}
		res, _, err := engine.MapText(text, fields, targets)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("map error: %v", err)), nil
		}
		return mappingResult("", res, res.NeedsReview(engine.ReviewThreshold())), nil
	})
}

func registerFillTool(s *server.MCPServer, engine *ingest.Engine) {
	tool := mcp.NewTool("dossier_fill",
		mcp.WithDescription("Fill a form schema (text, checkbox, dropdown, radio fields) from a subject's profile, or from one stored document when document_id is given. Returns per-field values, unfilled fields and type warnings."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("schema",
			mcp.Required(),
			mcp.Description("Form schema as YAML or JSON: {form: name, fields: [{name, type, options}]}"),
		),
		mcp.WithString("subject",
			mcp.Description("Subject whose profile fills the form"),
		),
		mcp.WithString("document_id",
			mcp.Description("Fill from a single stored document instead of a profile"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		rawSchema, err := req.RequireString("schema")
		if err != nil {
			return mcp.NewToolResultError("schema is required"), nil
		}
		schema, err := fill.ParseSchema([]byte(rawSchema))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var filled *fill.Filled
		if docID, err := req.RequireString("document_id"); err == nil && docID != "" {
			targets := make([]string, len(schema))
			for i, f := range schema {
				targets[i] = f.Name
			}
			out, err := engine.MapDocument(ctx, docID, "fill", targets)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("fill error: %v", err)), nil
			}
			filled, err = fill.Fill(schema, out.Result)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("fill error: %v", err)), nil
			}
		} else {
			subject, err := req.RequireString("subject")
			if err != nil || strings.TrimSpace(subject) == "" {
				return mcp.NewToolResultError("subject or document_id is required"), nil
			}
			rec, err := engine.Profile(ctx, subject)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("fill error: %v", err)), nil
			}
			filled, err = fill.FillProfile(schema, profileOf(rec))
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("fill error: %v", err)), nil
			}
		}

		data, _ := json.MarshalIndent(filled, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// --- Helpers ---

func extractOnly(engine *ingest.Engine, text string, fields []value.Member) (map[string]interface{}, error) {
	_, ext, err := engine.MapText(text, fields, nil)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"entities":     ext.Entities,
		"entity_count": ext.Entities.Count(),
		"field_count":  len(fields),
		"score":        ext.Score,
	}, nil
}

func mappingResult(runID string, res fieldmap.MappingResult, needsReview bool) *mcp.CallToolResult {
	out := map[string]interface{}{
		"mappings":     res.Mappings,
		"unmapped":     res.Unmapped,
		"confidence":   res.Confidence,
		"needs_review": needsReview,
	}
	if runID != "" {
		out["run_id"] = runID
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(data))
}

// optionalFields reads the "fields" argument, a JSON object in a string.
func optionalFields(req mcp.CallToolRequest) ([]value.Member, error) {
	raw, err := req.RequireString("fields")
	if err != nil || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	members, err := value.ParseObject([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	return members, nil
}

// splitList splits a comma-separated argument, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
