package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hurttlocker/dossier/internal/ingest"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerStatsResource(s *server.MCPServer, engine *ingest.Engine) {
	resource := mcp.NewResource(
		"dossier://stats",
		"Store Statistics",
		mcp.WithResourceDescription("Document, subject and profile counts, stale profiles, overrides, mapping runs awaiting review and database size."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := engine.Store().Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}

		payload := map[string]interface{}{
			"documents":        stats.DocumentCount,
			"subjects":         stats.SubjectCount,
			"profiles":         stats.ProfileCount,
			"stale_profiles":   stats.StaleCount,
			"overrides":        stats.OverrideCount,
			"mapping_runs":     stats.MappingRunCount,
			"needs_review":     stats.ReviewCount,
			"db_size_bytes":    stats.DBSizeBytes,
			"review_threshold": engine.ReviewThreshold(),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func registerSubjectsResource(s *server.MCPServer, engine *ingest.Engine) {
	resource := mcp.NewResource(
		"dossier://subjects",
		"Subjects",
		mcp.WithResourceDescription("Every subject with stored documents or overrides, and which of them have stale profiles."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		subjects, err := engine.Store().ListSubjects(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing subjects: %w", err)
		}
		stale, err := engine.Store().StaleSubjects(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing stale subjects: %w", err)
		}
		if subjects == nil {
			subjects = []string{}
		}
		if stale == nil {
			stale = []string{}
		}

		payload := map[string]interface{}{
			"subjects": subjects,
			"stale":    stale,
			"count":    len(subjects),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
