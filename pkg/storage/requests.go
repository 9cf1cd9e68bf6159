package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const requestColumns = `id, conversation_id, user_id, app_id, user_request, documentation_id,
doc_string, endpoint, request_payload, response_payload, status_code, tasks, state,
created_at, updated_at`

func (s *Store) CreateRequest(ctx context.Context, req *Request) error {
	if req.ConversationID == "" || req.UserID == "" {
		return fmt.Errorf("conversation id and user id are required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	query := s.bind(`
INSERT INTO requests (` + requestColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	_, err := s.db.ExecContext(ctx, query,
		req.ID, req.ConversationID, req.UserID, req.AppID, req.UserRequest,
		req.DocumentationID, req.DocString, req.Endpoint,
		rawString(req.RequestPayload), rawString(req.ResponsePayload),
		req.StatusCode, rawString(req.Tasks), req.State,
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*Request, error) {
	query := s.bind(`SELECT ` + requestColumns + ` FROM requests WHERE id = ?`)
	return s.scanRequest(s.db.QueryRowContext(ctx, query, id))
}

// LatestRequest returns the most recent request in a conversation, used
// to resume a clarification turn and to read follow-up task hints.
func (s *Store) LatestRequest(ctx context.Context, conversationID string) (*Request, error) {
	query := s.bind(`
SELECT ` + requestColumns + ` FROM requests
WHERE conversation_id = ? ORDER BY created_at DESC LIMIT 1
`)
	return s.scanRequest(s.db.QueryRowContext(ctx, query, conversationID))
}

func (s *Store) UpdateRequest(ctx context.Context, req *Request) error {
	req.UpdatedAt = time.Now().UTC()

	query := s.bind(`
UPDATE requests SET app_id = ?, user_request = ?, documentation_id = ?, doc_string = ?,
endpoint = ?, request_payload = ?, response_payload = ?, status_code = ?, tasks = ?,
state = ?, updated_at = ?
WHERE id = ?
`)
	result, err := s.db.ExecContext(ctx, query,
		req.AppID, req.UserRequest, req.DocumentationID, req.DocString,
		req.Endpoint, rawString(req.RequestPayload), rawString(req.ResponsePayload),
		req.StatusCode, rawString(req.Tasks), req.State, req.UpdatedAt, req.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scanRequest(row rowScanner) (*Request, error) {
	var req Request
	var appID, docID, docString, endpoint, state sql.NullString
	var reqPayload, respPayload, tasks sql.NullString
	var statusCode sql.NullInt64

	err := row.Scan(
		&req.ID, &req.ConversationID, &req.UserID, &appID, &req.UserRequest,
		&docID, &docString, &endpoint, &reqPayload, &respPayload,
		&statusCode, &tasks, &state, &req.CreatedAt, &req.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}

	req.AppID = appID.String
	req.DocumentationID = docID.String
	req.DocString = docString.String
	req.Endpoint = endpoint.String
	req.State = state.String
	req.StatusCode = int(statusCode.Int64)
	if reqPayload.Valid && reqPayload.String != "" {
		req.RequestPayload = json.RawMessage(reqPayload.String)
	}
	if respPayload.Valid && respPayload.String != "" {
		req.ResponsePayload = json.RawMessage(respPayload.String)
	}
	if tasks.Valid && tasks.String != "" {
		req.Tasks = json.RawMessage(tasks.String)
	}
	return &req, nil
}
