package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrTokenConflict reports that an optimistic token update lost a race
// with a concurrent refresh. The caller should reload the connection
// and use the tokens already persisted.
var ErrTokenConflict = fmt.Errorf("token update conflict")

const connectionColumns = `id, user_id, app_id, access_token, refresh_token, expires_at,
api_url, external_user_id, user_inputs, created_at, updated_at`

func (s *Store) CreateConnection(ctx context.Context, conn *Connection) error {
	if conn.UserID == "" || conn.AppID == "" {
		return fmt.Errorf("user id and app id are required")
	}
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}

	inputs, err := json.Marshal(conn.UserInputs)
	if err != nil {
		return fmt.Errorf("failed to marshal user inputs: %w", err)
	}

	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	query := s.bind(`
INSERT INTO connections (` + connectionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	_, err = s.db.ExecContext(ctx, query,
		conn.ID, conn.UserID, conn.AppID, conn.AccessToken, conn.RefreshToken,
		conn.ExpiresAt, conn.APIURL, conn.ExternalUserID, string(inputs),
		conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert connection: %w", err)
	}
	return nil
}

func (s *Store) GetConnection(ctx context.Context, id string) (*Connection, error) {
	query := s.bind(`SELECT ` + connectionColumns + ` FROM connections WHERE id = ?`)
	return s.scanConnection(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetConnectionByUserAndApp(ctx context.Context, userID, appID string) (*Connection, error) {
	query := s.bind(`SELECT ` + connectionColumns + ` FROM connections WHERE user_id = ? AND app_id = ?`)
	return s.scanConnection(s.db.QueryRowContext(ctx, query, userID, appID))
}

func (s *Store) ListConnectionsByUser(ctx context.Context, userID string) ([]*Connection, error) {
	query := s.bind(`SELECT ` + connectionColumns + ` FROM connections WHERE user_id = ?`)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		conn, err := s.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func (s *Store) UpdateConnection(ctx context.Context, conn *Connection) error {
	inputs, err := json.Marshal(conn.UserInputs)
	if err != nil {
		return fmt.Errorf("failed to marshal user inputs: %w", err)
	}

	conn.UpdatedAt = time.Now().UTC()

	query := s.bind(`
UPDATE connections SET access_token = ?, refresh_token = ?, expires_at = ?,
api_url = ?, external_user_id = ?, user_inputs = ?, updated_at = ?
WHERE id = ?
`)
	result, err := s.db.ExecContext(ctx, query,
		conn.AccessToken, conn.RefreshToken, conn.ExpiresAt,
		conn.APIURL, conn.ExternalUserID, string(inputs), conn.UpdatedAt, conn.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTokens persists a refreshed token pair. The previous refresh
// token guards the write so that if a concurrent refresh already
// rotated the tokens, this write is a no-op and ErrTokenConflict is
// returned instead of clobbering the newer pair.
func (s *Store) UpdateTokens(ctx context.Context, id, prevRefreshToken, accessToken, refreshToken string, expiresAt *time.Time) error {
	query := s.bind(`
UPDATE connections SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
WHERE id = ? AND refresh_token = ?
`)
	result, err := s.db.ExecContext(ctx, query,
		accessToken, refreshToken, expiresAt, time.Now().UTC(), id, prevRefreshToken,
	)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrTokenConflict
	}
	return nil
}

func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	query := s.bind(`DELETE FROM connections WHERE id = ?`)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scanConnection(row rowScanner) (*Connection, error) {
	var conn Connection
	var accessToken, refreshToken, apiURL, externalUserID, inputs sql.NullString
	var expiresAt sql.NullTime

	err := row.Scan(
		&conn.ID, &conn.UserID, &conn.AppID, &accessToken, &refreshToken,
		&expiresAt, &apiURL, &externalUserID, &inputs,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	conn.AccessToken = accessToken.String
	conn.RefreshToken = refreshToken.String
	conn.APIURL = apiURL.String
	conn.ExternalUserID = externalUserID.String
	if expiresAt.Valid {
		t := expiresAt.Time
		conn.ExpiresAt = &t
	}

	if inputs.Valid && inputs.String != "" {
		if err := json.Unmarshal([]byte(inputs.String), &conn.UserInputs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user inputs: %w", err)
		}
	}
	return &conn, nil
}
