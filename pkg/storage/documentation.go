package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const documentationColumns = `id, vec_id, app_id, doc_type, path, method, summary, bot_summary,
description, bot_description, bot_enabled, specification, next_tasks, created_at, updated_at`

func (s *Store) CreateDocumentation(ctx context.Context, doc *DocumentationEntry) error {
	if doc.AppID == "" {
		return fmt.Errorf("app id is required")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Type == "" {
		doc.Type = DocTypeAPI
	}

	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	query := s.bind(`
INSERT INTO documentation (` + documentationColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	_, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.VecID, doc.AppID, doc.Type, doc.Path, doc.Method,
		doc.Summary, doc.BotSummary, doc.Description, doc.BotDescription,
		boolToInt(doc.BotEnabled), rawString(doc.Specification), rawString(doc.Next),
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert documentation: %w", err)
	}
	return nil
}

func (s *Store) GetDocumentation(ctx context.Context, id string) (*DocumentationEntry, error) {
	query := s.bind(`SELECT ` + documentationColumns + ` FROM documentation WHERE id = ?`)
	return s.scanDocumentation(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetDocumentationByVecID(ctx context.Context, vecID string) (*DocumentationEntry, error) {
	query := s.bind(`SELECT ` + documentationColumns + ` FROM documentation WHERE vec_id = ?`)
	return s.scanDocumentation(s.db.QueryRowContext(ctx, query, vecID))
}

// GetFullDocumentation returns the aggregate specification entry for
// an app, used as a prompt-building fallback when no single endpoint
// entry fits.
func (s *Store) GetFullDocumentation(ctx context.Context, appID string) (*DocumentationEntry, error) {
	query := s.bind(`SELECT ` + documentationColumns + ` FROM documentation WHERE app_id = ? AND doc_type = ?`)
	return s.scanDocumentation(s.db.QueryRowContext(ctx, query, appID, DocTypeFull))
}

func (s *Store) ListDocumentationByApp(ctx context.Context, appID string) ([]*DocumentationEntry, error) {
	query := s.bind(`SELECT ` + documentationColumns + ` FROM documentation WHERE app_id = ? ORDER BY path, method`)
	rows, err := s.db.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documentation: %w", err)
	}
	defer rows.Close()

	var docs []*DocumentationEntry
	for rows.Next() {
		doc, err := s.scanDocumentation(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) UpdateDocumentation(ctx context.Context, doc *DocumentationEntry) error {
	doc.UpdatedAt = time.Now().UTC()

	query := s.bind(`
UPDATE documentation SET summary = ?, bot_summary = ?, description = ?, bot_description = ?,
bot_enabled = ?, specification = ?, next_tasks = ?, updated_at = ?
WHERE id = ?
`)
	result, err := s.db.ExecContext(ctx, query,
		doc.Summary, doc.BotSummary, doc.Description, doc.BotDescription,
		boolToInt(doc.BotEnabled), rawString(doc.Specification), rawString(doc.Next),
		doc.UpdatedAt, doc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update documentation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocumentationByApp clears all entries for an app before a
// re-sync rebuilds them.
func (s *Store) DeleteDocumentationByApp(ctx context.Context, appID string) error {
	query := s.bind(`DELETE FROM documentation WHERE app_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, appID); err != nil {
		return fmt.Errorf("failed to delete documentation: %w", err)
	}
	return nil
}

func (s *Store) scanDocumentation(row rowScanner) (*DocumentationEntry, error) {
	var doc DocumentationEntry
	var path, method, summary, botSummary, description, botDescription sql.NullString
	var spec, next sql.NullString
	var botEnabled int

	err := row.Scan(
		&doc.ID, &doc.VecID, &doc.AppID, &doc.Type, &path, &method,
		&summary, &botSummary, &description, &botDescription,
		&botEnabled, &spec, &next, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan documentation: %w", err)
	}

	doc.Path = path.String
	doc.Method = method.String
	doc.Summary = summary.String
	doc.BotSummary = botSummary.String
	doc.Description = description.String
	doc.BotDescription = botDescription.String
	doc.BotEnabled = botEnabled != 0
	if spec.Valid && spec.String != "" {
		doc.Specification = json.RawMessage(spec.String)
	}
	if next.Valid && next.String != "" {
		doc.Next = json.RawMessage(next.String)
	}
	return &doc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rawString(raw json.RawMessage) string {
	return string(raw)
}
