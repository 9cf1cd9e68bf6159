package apps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/appbridge-ai/appbridge/pkg/databases"
	"github.com/appbridge-ai/appbridge/pkg/storage"
)

var validHTTPMethods = map[string]bool{
	"get": true, "post": true, "put": true, "delete": true,
	"patch": true, "options": true, "head": true,
}

// CreateDocumentation fetches the app's published OpenAPI document
// (JSON or YAML) and indexes it: one vector and one record per
// path+method, plus an aggregate entry holding the whole document.
func (a *BaseAdapter) CreateDocumentation(ctx context.Context, conn *storage.Connection) error {
	if a.app.DocumentationURL == "" {
		return fmt.Errorf("app %s has no documentation url", a.app.SystemName)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.app.DocumentationURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create documentation request: %w", err)
	}

	resp, err := a.deps.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch documentation: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read documentation: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("documentation fetch returned status %d", resp.StatusCode)
	}

	spec, err := parseSpecification(raw)
	if err != nil {
		return err
	}
	return a.indexSpecification(ctx, spec)
}

// parseSpecification decodes an OpenAPI document, trying JSON first
// and falling back to YAML.
func parseSpecification(raw []byte) (map[string]any, error) {
	var spec map[string]any
	if err := json.Unmarshal(raw, &spec); err == nil {
		return spec, nil
	}
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("documentation is neither valid JSON nor YAML: %w", err)
	}
	return spec, nil
}

// indexSpecification replaces the app's documentation index with the
// given OpenAPI document.
func (a *BaseAdapter) indexSpecification(ctx context.Context, spec map[string]any) error {
	paths, ok := spec["paths"].(map[string]any)
	if !ok || len(paths) == 0 {
		return fmt.Errorf("specification for %s has no paths", a.app.SystemName)
	}

	if err := a.deps.Store.DeleteDocumentationByApp(ctx, a.app.ID); err != nil {
		return err
	}
	if err := a.deps.Vectors.DeleteByFilter(ctx, a.deps.Collection, map[string]any{"app": a.app.Name}); err != nil {
		slog.Warn("failed to clear previous vectors",
			"app", a.app.SystemName,
			"error", err)
	}

	indexed := 0
	for path, methodsAny := range paths {
		methods, ok := methodsAny.(map[string]any)
		if !ok {
			continue
		}
		for method, operationAny := range methods {
			method = strings.ToLower(method)
			if !validHTTPMethods[method] {
				continue
			}
			operation, ok := operationAny.(map[string]any)
			if !ok {
				continue
			}

			summary, _ := operation["summary"].(string)
			description, _ := operation["description"].(string)

			embedding, err := a.deps.Embedder.Embed(ctx, documentationText(path, method, summary, description))
			if err != nil {
				return fmt.Errorf("failed to embed %s %s: %w", method, path, err)
			}

			vecID := uuid.NewString()
			metadata := map[string]any{
				"path":        path,
				"method":      method,
				"summary":     summary,
				"description": description,
				"app":         a.app.Name,
			}
			if err := a.deps.Vectors.Upsert(ctx, a.deps.Collection, vecID, embedding, metadata); err != nil {
				return fmt.Errorf("failed to upsert vector for %s %s: %w", method, path, err)
			}

			specJSON, err := json.Marshal(operation)
			if err != nil {
				return fmt.Errorf("failed to marshal operation %s %s: %w", method, path, err)
			}
			entry := &storage.DocumentationEntry{
				VecID:         vecID,
				AppID:         a.app.ID,
				Type:          storage.DocTypeAPI,
				Path:          path,
				Method:        method,
				Summary:       summary,
				Description:   description,
				Specification: specJSON,
			}
			if err := a.deps.Store.CreateDocumentation(ctx, entry); err != nil {
				return err
			}
			indexed++
		}
	}

	fullSpec, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal specification: %w", err)
	}
	full := &storage.DocumentationEntry{
		VecID:         uuid.NewString(),
		AppID:         a.app.ID,
		Type:          storage.DocTypeFull,
		Specification: fullSpec,
	}
	if err := a.deps.Store.CreateDocumentation(ctx, full); err != nil {
		return err
	}

	slog.Info("documentation indexed",
		"app", a.app.SystemName,
		"endpoints", indexed)
	return nil
}

// UpdateDocumentation re-embeds one entry with its bot overrides
// applied and overwrites its vector in place.
func (a *BaseAdapter) UpdateDocumentation(ctx context.Context, doc *storage.DocumentationEntry) error {
	summary := doc.Summary
	if doc.BotSummary != "" {
		summary = doc.BotSummary
	}
	description := doc.Description
	if doc.BotDescription != "" {
		description = doc.BotDescription
	}

	embedding, err := a.deps.Embedder.Embed(ctx, documentationText(doc.Path, doc.Method, summary, description))
	if err != nil {
		return fmt.Errorf("failed to embed documentation: %w", err)
	}

	metadata := map[string]any{
		"path":        doc.Path,
		"method":      doc.Method,
		"summary":     summary,
		"description": description,
		"app":         a.app.Name,
		"botEnabled":  true,
	}
	if err := a.deps.Vectors.Upsert(ctx, a.deps.Collection, doc.VecID, embedding, metadata); err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}

	doc.BotEnabled = true
	return a.deps.Store.UpdateDocumentation(ctx, doc)
}

// LoadDocumentation returns the aggregate specification for the app.
func (a *BaseAdapter) LoadDocumentation(ctx context.Context) (json.RawMessage, error) {
	doc, err := a.deps.Store.GetFullDocumentation(ctx, a.app.ID)
	if err != nil {
		return nil, err
	}
	return doc.Specification, nil
}

// SearchAPI finds the endpoints most similar to the query, scoped to
// this app's vectors.
func (a *BaseAdapter) SearchAPI(ctx context.Context, query string, topK int) ([]databases.SearchResult, error) {
	embedding, err := a.deps.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return a.deps.Vectors.SearchWithFilter(ctx, a.deps.Collection, embedding, topK, map[string]any{
		"app": a.app.Name,
	})
}

func documentationText(path, method, summary, description string) string {
	return fmt.Sprintf("Path: %s\nMethod: %s\nSummary: %s\nDescription: %s",
		path, strings.ToUpper(method), summary, description)
}
