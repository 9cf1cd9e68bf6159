package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/appbridge-ai/appbridge/pkg/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the relational database holding apps, connections,
// documentation records, and conversation history. Queries are written
// with "?" placeholders and rewritten for postgres at execution time.
type Store struct {
	db      *sql.DB
	dialect string
}

const (
	createAppsTableSQL = `
CREATE TABLE IF NOT EXISTS apps (
    id VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    system_name VARCHAR(255) NOT NULL,
    auth_type VARCHAR(50),
    auth_flow_type VARCHAR(50),
    client_id VARCHAR(255),
    client_secret VARCHAR(255),
    auth_url TEXT,
    access_token_url TEXT,
    api_url TEXT,
    documentation_url TEXT,
    logo_url TEXT,
    website TEXT,
    form_fields TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_apps_system_name ON apps(system_name);
`

	createConnectionsTableSQL = `
CREATE TABLE IF NOT EXISTS connections (
    id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    app_id VARCHAR(255) NOT NULL,
    access_token TEXT,
    refresh_token TEXT,
    expires_at TIMESTAMP,
    api_url TEXT,
    external_user_id VARCHAR(255),
    user_inputs TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_connections_user_app ON connections(user_id, app_id);
`

	createDocumentationTableSQL = `
CREATE TABLE IF NOT EXISTS documentation (
    id VARCHAR(255) PRIMARY KEY,
    vec_id VARCHAR(255) NOT NULL,
    app_id VARCHAR(255) NOT NULL,
    doc_type VARCHAR(20) NOT NULL,
    path TEXT,
    method VARCHAR(20),
    summary TEXT,
    bot_summary TEXT,
    description TEXT,
    bot_description TEXT,
    bot_enabled INTEGER NOT NULL DEFAULT 0,
    specification TEXT,
    next_tasks TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documentation_vec_id ON documentation(vec_id);
CREATE INDEX IF NOT EXISTS idx_documentation_app_id ON documentation(app_id);
`

	createConversationsTableSQL = `
CREATE TABLE IF NOT EXISTS conversations (
    id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    title TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);
`

	createMessagesTableSQL = `
CREATE TABLE IF NOT EXISTS messages (
    id VARCHAR(255) PRIMARY KEY,
    conversation_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255),
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    sequence_num BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sequence_num);
`

	createRequestsTableSQL = `
CREATE TABLE IF NOT EXISTS requests (
    id VARCHAR(255) PRIMARY KEY,
    conversation_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    app_id VARCHAR(255),
    user_request TEXT NOT NULL,
    documentation_id VARCHAR(255),
    doc_string TEXT,
    endpoint TEXT,
    request_payload TEXT,
    response_payload TEXT,
    status_code INTEGER,
    tasks TEXT,
    state VARCHAR(50),
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_conversation ON requests(conversation_id, created_at);
`
)

func New(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":

	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &Store{db: db, dialect: dialect}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func NewFromConfig(cfg *config.StorageConfig) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage configuration is required")
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	driverName := cfg.Driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	return New(db, cfg.Driver)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tables := []string{
		createAppsTableSQL,
		createConnectionsTableSQL,
		createDocumentationTableSQL,
		createConversationsTableSQL,
		createMessagesTableSQL,
		createRequestsTableSQL,
	}

	for _, ddl := range tables {
		if s.dialect == "mysql" {
			// MySQL has no CREATE INDEX IF NOT EXISTS; drop the index
			// statements and rely on table-level lookups by PK.
			ddl = stripIndexStatements(ddl)
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

func stripIndexStatements(ddl string) string {
	var kept []string
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.Contains(stmt, "CREATE INDEX") {
			continue
		}
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		kept = append(kept, stmt)
	}
	return strings.Join(kept, ";") + ";"
}

// bind rewrites "?" placeholders to "$1, $2, ..." for postgres.
func (s *Store) bind(query string) string {
	if s.dialect != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
