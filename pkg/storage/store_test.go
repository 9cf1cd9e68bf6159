package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := New(db, "sqlite")
	require.NoError(t, err)
	return store
}

func TestNew_RejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = New(db, "oracle")
	assert.Error(t, err)
}

func TestAppStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	app := &App{
		Name:             "Jira",
		SystemName:       "jira",
		AuthType:         "oauth2",
		ClientID:         "client-id",
		ClientSecret:     "client-secret",
		AuthURL:          "https://auth.atlassian.com/authorize",
		AccessTokenURL:   "https://auth.atlassian.com/oauth/token",
		DocumentationURL: "https://example.com/openapi.json",
		FormFields: []FormField{
			{Name: "scopes", Label: "Scopes", ForAuth: true},
		},
	}
	require.NoError(t, store.CreateApp(ctx, app))
	require.NotEmpty(t, app.ID)

	got, err := store.GetApp(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jira", got.Name)
	assert.Equal(t, "jira", got.SystemName)
	assert.Equal(t, "client-secret", got.ClientSecret)
	require.Len(t, got.FormFields, 1)
	assert.True(t, got.FormFields[0].ForAuth)

	bySystem, err := store.GetAppBySystemName(ctx, "jira")
	require.NoError(t, err)
	assert.Equal(t, app.ID, bySystem.ID)
}

func TestAppStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetApp(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppStore_Update(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	app := &App{Name: "Asana", SystemName: "asana"}
	require.NoError(t, store.CreateApp(ctx, app))

	app.DocumentationURL = "https://app.asana.com/api/openapi.yaml"
	require.NoError(t, store.UpdateApp(ctx, app))

	got, err := store.GetApp(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://app.asana.com/api/openapi.yaml", got.DocumentationURL)
}

func TestConnectionStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expiry := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	conn := &Connection{
		UserID:       "user-1",
		AppID:        "app-1",
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    &expiry,
		UserInputs: map[string]UserInput{
			"domain": {Value: "https://acme.atlassian.net", ForAuth: true},
		},
	}
	require.NoError(t, store.CreateConnection(ctx, conn))

	got, err := store.GetConnectionByUserAndApp(ctx, "user-1", "app-1")
	require.NoError(t, err)
	assert.Equal(t, "access", got.AccessToken)
	assert.Equal(t, "https://acme.atlassian.net", got.StringInput("domain"))
	require.NotNil(t, got.ExpiresAt)

	require.NoError(t, store.DeleteConnection(ctx, got.ID))
	_, err = store.GetConnection(ctx, got.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConnectionStore_UpdateTokens_OptimisticGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conn := &Connection{
		UserID:       "user-1",
		AppID:        "app-1",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
	}
	require.NoError(t, store.CreateConnection(ctx, conn))

	// First refresh wins.
	err := store.UpdateTokens(ctx, conn.ID, "old-refresh", "new-access", "new-refresh", nil)
	require.NoError(t, err)

	// A concurrent refresh still holding the stale pair must not
	// clobber the rotated tokens.
	err = store.UpdateTokens(ctx, conn.ID, "old-refresh", "stale-access", "stale-refresh", nil)
	assert.ErrorIs(t, err, ErrTokenConflict)

	got, err := store.GetConnection(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, "new-refresh", got.RefreshToken)
}

func TestDocumentationStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &DocumentationEntry{
		VecID:         "vec-1",
		AppID:         "app-1",
		Path:          "/rest/api/3/search",
		Method:        "get",
		Summary:       "Search for issues",
		Specification: json.RawMessage(`{"summary":"Search for issues"}`),
	}
	require.NoError(t, store.CreateDocumentation(ctx, doc))
	assert.Equal(t, DocTypeAPI, doc.Type)

	got, err := store.GetDocumentationByVecID(ctx, "vec-1")
	require.NoError(t, err)
	assert.Equal(t, "/rest/api/3/search", got.Path)
	assert.JSONEq(t, `{"summary":"Search for issues"}`, string(got.Specification))

	got.BotSummary = "Find issues by JQL"
	got.BotEnabled = true
	require.NoError(t, store.UpdateDocumentation(ctx, got))

	updated, err := store.GetDocumentation(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, "Find issues by JQL", updated.BotSummary)
	assert.True(t, updated.BotEnabled)
}

func TestDocumentationStore_FullEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateDocumentation(ctx, &DocumentationEntry{
		VecID: "vec-api", AppID: "app-1", Type: DocTypeAPI, Path: "/a", Method: "get",
	}))
	require.NoError(t, store.CreateDocumentation(ctx, &DocumentationEntry{
		VecID: "vec-full", AppID: "app-1", Type: DocTypeFull,
		Specification: json.RawMessage(`{"openapi":"3.0.0"}`),
	}))

	full, err := store.GetFullDocumentation(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "vec-full", full.VecID)

	docs, err := store.ListDocumentationByApp(ctx, "app-1")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	require.NoError(t, store.DeleteDocumentationByApp(ctx, "app-1"))
	docs, err = store.ListDocumentationByApp(ctx, "app-1")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMessages_SequenceOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{UserID: "user-1", Title: "Sprint planning"}
	require.NoError(t, store.CreateConversation(ctx, conv))

	for _, content := range []string{"first", "second", "third"} {
		require.NoError(t, store.AppendMessage(ctx, &Message{
			ConversationID: conv.ID,
			Role:           "user",
			Content:        content,
		}))
	}

	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "third", msgs[2].Content)
	assert.Equal(t, int64(3), msgs[2].SequenceNum)
}

func TestRequestStore_UpdateAndLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	req := &Request{
		ConversationID: "conv-1",
		UserID:         "user-1",
		UserRequest:    "show my open issues",
		State:          RequestStateClarification,
	}
	require.NoError(t, store.CreateRequest(ctx, req))

	req.Endpoint = "GET /rest/api/3/search"
	req.ResponsePayload = json.RawMessage(`{"issues":[]}`)
	req.StatusCode = 200
	req.State = RequestStateFulfilled
	req.Tasks = json.RawMessage(`["assign the issue"]`)
	require.NoError(t, store.UpdateRequest(ctx, req))

	latest, err := store.LatestRequest(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, req.ID, latest.ID)
	assert.Equal(t, RequestStateFulfilled, latest.State)
	assert.Equal(t, 200, latest.StatusCode)
	assert.JSONEq(t, `["assign the issue"]`, string(latest.Tasks))
}
