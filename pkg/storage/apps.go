package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = fmt.Errorf("record not found")

const appColumns = `id, name, system_name, auth_type, auth_flow_type, client_id, client_secret,
auth_url, access_token_url, api_url, documentation_url, logo_url, website, form_fields,
created_at, updated_at`

func (s *Store) CreateApp(ctx context.Context, app *App) error {
	if app.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if app.ID == "" {
		app.ID = uuid.NewString()
	}

	fields, err := json.Marshal(app.FormFields)
	if err != nil {
		return fmt.Errorf("failed to marshal form fields: %w", err)
	}

	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now

	query := s.bind(`
INSERT INTO apps (` + appColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	_, err = s.db.ExecContext(ctx, query,
		app.ID, app.Name, app.SystemName, app.AuthType, app.AuthFlowType,
		app.ClientID, app.ClientSecret, app.AuthURL, app.AccessTokenURL,
		app.APIURL, app.DocumentationURL, app.LogoURL, app.Website,
		string(fields), app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert app: %w", err)
	}
	return nil
}

func (s *Store) GetApp(ctx context.Context, id string) (*App, error) {
	query := s.bind(`SELECT ` + appColumns + ` FROM apps WHERE id = ?`)
	return s.scanApp(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetAppBySystemName(ctx context.Context, systemName string) (*App, error) {
	query := s.bind(`SELECT ` + appColumns + ` FROM apps WHERE system_name = ?`)
	return s.scanApp(s.db.QueryRowContext(ctx, query, systemName))
}

func (s *Store) ListApps(ctx context.Context) ([]*App, error) {
	query := `SELECT ` + appColumns + ` FROM apps ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query apps: %w", err)
	}
	defer rows.Close()

	var apps []*App
	for rows.Next() {
		app, err := s.scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func (s *Store) UpdateApp(ctx context.Context, app *App) error {
	fields, err := json.Marshal(app.FormFields)
	if err != nil {
		return fmt.Errorf("failed to marshal form fields: %w", err)
	}

	app.UpdatedAt = time.Now().UTC()

	query := s.bind(`
UPDATE apps SET name = ?, system_name = ?, auth_type = ?, auth_flow_type = ?,
client_id = ?, client_secret = ?, auth_url = ?, access_token_url = ?, api_url = ?,
documentation_url = ?, logo_url = ?, website = ?, form_fields = ?, updated_at = ?
WHERE id = ?
`)
	result, err := s.db.ExecContext(ctx, query,
		app.Name, app.SystemName, app.AuthType, app.AuthFlowType,
		app.ClientID, app.ClientSecret, app.AuthURL, app.AccessTokenURL,
		app.APIURL, app.DocumentationURL, app.LogoURL, app.Website,
		string(fields), app.UpdatedAt, app.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update app: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanApp(row rowScanner) (*App, error) {
	var app App
	var fields sql.NullString
	var authType, authFlowType, clientID, clientSecret sql.NullString
	var authURL, accessTokenURL, apiURL, docURL, logoURL, website sql.NullString

	err := row.Scan(
		&app.ID, &app.Name, &app.SystemName, &authType, &authFlowType,
		&clientID, &clientSecret, &authURL, &accessTokenURL, &apiURL,
		&docURL, &logoURL, &website, &fields, &app.CreatedAt, &app.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan app: %w", err)
	}

	app.AuthType = authType.String
	app.AuthFlowType = authFlowType.String
	app.ClientID = clientID.String
	app.ClientSecret = clientSecret.String
	app.AuthURL = authURL.String
	app.AccessTokenURL = accessTokenURL.String
	app.APIURL = apiURL.String
	app.DocumentationURL = docURL.String
	app.LogoURL = logoURL.String
	app.Website = website.String

	if fields.Valid && fields.String != "" {
		if err := json.Unmarshal([]byte(fields.String), &app.FormFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal form fields: %w", err)
		}
	}
	return &app, nil
}
