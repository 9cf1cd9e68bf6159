package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appbridge-ai/appbridge/pkg/apps"
	"github.com/appbridge-ai/appbridge/pkg/config"
	"github.com/appbridge-ai/appbridge/pkg/databases"
	"github.com/appbridge-ai/appbridge/pkg/httpclient"
	"github.com/appbridge-ai/appbridge/pkg/pipeline"
	"github.com/appbridge-ai/appbridge/pkg/storage"
)

type fakeFulfiller struct {
	inputs []pipeline.Input
	result *pipeline.Result
	err    error
}

func (f *fakeFulfiller) Fulfill(ctx context.Context, input pipeline.Input) (*pipeline.Result, error) {
	f.inputs = append(f.inputs, input)
	return f.result, f.err
}

type nopEmbedder struct{}

func (nopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (nopEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (nopEmbedder) GetDimension() int    { return 2 }
func (nopEmbedder) GetModelName() string { return "nop" }
func (nopEmbedder) Close() error         { return nil }

type nopVectors struct{ upserts int }

func (v *nopVectors) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	v.upserts++
	return nil
}

func (v *nopVectors) Search(ctx context.Context, collection string, vector []float32, topK int) ([]databases.SearchResult, error) {
	return nil, nil
}

func (v *nopVectors) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]databases.SearchResult, error) {
	return nil, nil
}

func (v *nopVectors) Delete(ctx context.Context, collection, id string) error { return nil }

func (v *nopVectors) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	return nil
}

func (v *nopVectors) CreateCollection(ctx context.Context, collection string, vectorSize uint64) error {
	return nil
}

func (v *nopVectors) Close() error { return nil }

type env struct {
	store     *storage.Store
	vectors   *nopVectors
	fulfiller *fakeFulfiller
	server    *Server
	handler   http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := storage.New(db, "sqlite")
	require.NoError(t, err)

	vectors := &nopVectors{}
	registry := apps.NewRegistry(apps.Deps{
		Store:           store,
		Embedder:        nopEmbedder{},
		Vectors:         vectors,
		Collection:      "test-endpoints",
		HTTP:            httpclient.New(),
		CallbackBaseURL: "https://hub.example.com",
	})

	fulfiller := &fakeFulfiller{result: &pipeline.Result{
		State: pipeline.StateFulfilled,
		Reply: "done",
	}}

	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, store, registry, fulfiller)
	return &env{
		store:     store,
		vectors:   vectors,
		fulfiller: fulfiller,
		server:    srv,
		handler:   srv.Handler(),
	}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestChat_NewConversation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	app := &storage.App{Name: "Tracker", SystemName: "tracker"}
	require.NoError(t, e.store.CreateApp(ctx, app))
	require.NoError(t, e.store.CreateConnection(ctx, &storage.Connection{
		UserID: "user-1", AppID: app.ID,
	}))

	rec := e.do(t, http.MethodPost, "/api/chat", map[string]string{
		"userId": "user-1", "message": "list my projects",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "done", resp.Reply)
	assert.Equal(t, pipeline.StateFulfilled, resp.State)
	assert.NotEmpty(t, resp.ConversationID)

	require.Len(t, e.fulfiller.inputs, 1)
	input := e.fulfiller.inputs[0]
	assert.Equal(t, "user-1", input.UserID)
	assert.Equal(t, "list my projects", input.Message)
	require.Len(t, input.ConnectedApps, 1)
	assert.Equal(t, "Tracker", input.ConnectedApps[0].Name)
	assert.Nil(t, input.Prior)

	msgs, err := e.store.ListMessages(ctx, resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "done", msgs[1].Content)
}

func TestChat_ResumesPendingClarification(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	conv := &storage.Conversation{UserID: "user-1"}
	require.NoError(t, e.store.CreateConversation(ctx, conv))

	pending := &storage.Request{
		ConversationID: conv.ID,
		UserID:         "user-1",
		UserRequest:    "list my projects",
		State:          storage.RequestStateClarification,
	}
	require.NoError(t, e.store.CreateRequest(ctx, pending))

	rec := e.do(t, http.MethodPost, "/api/chat", map[string]string{
		"userId":         "user-1",
		"conversationId": conv.ID,
		"message":        "the Engineering workspace",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, e.fulfiller.inputs, 1)
	require.NotNil(t, e.fulfiller.inputs[0].Prior)
	assert.Equal(t, pending.ID, e.fulfiller.inputs[0].Prior.ID)
}

func TestChat_RequiresUserAndMessage(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/chat", map[string]string{"userId": "user-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_UnknownConversation(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/chat", map[string]string{
		"userId": "user-1", "conversationId": "missing", "message": "hello",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleConnect_CreatesConnectionAndAuthURL(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	app := &storage.App{
		Name:       "Tracker",
		SystemName: "tracker",
		ClientID:   "client-123",
		AuthURL:    "https://auth.tracker.io/authorize",
	}
	require.NoError(t, e.store.CreateApp(ctx, app))

	rec := e.do(t, http.MethodPost, "/api/handle-connect/"+app.ID, map[string]any{
		"userId": "user-1",
		"userInputs": map[string]any{
			"domain": map[string]any{"value": "https://acme.tracker.io", "forApi": true},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["authUrl"], "client_id=client-123")
	assert.Contains(t, resp["authUrl"], "state=user-1")

	conn, err := e.store.GetConnectionByUserAndApp(ctx, "user-1", app.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.tracker.io", conn.StringInput("domain"))

	// A second connect replaces the stored inputs.
	rec = e.do(t, http.MethodPost, "/api/handle-connect/"+app.ID, map[string]any{
		"userId": "user-1",
		"userInputs": map[string]any{
			"domain": map[string]any{"value": "https://other.tracker.io", "forApi": true},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	conn, err = e.store.GetConnectionByUserAndApp(ctx, "user-1", app.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://other.tracker.io", conn.StringInput("domain"))
}

func TestHandleConnect_UnknownApp(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/handle-connect/missing", map[string]any{
		"userId": "user-1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserApp_GetAndDisconnect(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	app := &storage.App{Name: "Tracker", SystemName: "tracker"}
	require.NoError(t, e.store.CreateApp(ctx, app))
	require.NoError(t, e.store.CreateConnection(ctx, &storage.Connection{
		UserID: "user-1", AppID: app.ID,
	}))

	rec := e.do(t, http.MethodGet, "/api/user-app/"+app.ID+"?userId=user-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/user-app/"+app.ID+"?userId=user-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/user-app/"+app.ID+"?userId=user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncDocumentation(t *testing.T) {
	spec := `{
		"openapi": "3.0.0",
		"paths": {
			"/projects": {
				"get": {"summary": "List projects", "description": "All projects."}
			}
		}
	}`
	docServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(spec))
	}))
	defer docServer.Close()

	e := newEnv(t)
	ctx := context.Background()

	app := &storage.App{
		Name:             "Tracker",
		SystemName:       "tracker",
		DocumentationURL: docServer.URL,
	}
	require.NoError(t, e.store.CreateApp(ctx, app))

	rec := e.do(t, http.MethodPost, "/api/app/"+app.ID+"/documentation", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// One endpoint entry plus the aggregate entry.
	assert.Equal(t, 2, resp["indexed"])
	assert.Equal(t, 1, e.vectors.upserts)
}

func TestEditDocumentation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	app := &storage.App{Name: "Tracker", SystemName: "tracker"}
	require.NoError(t, e.store.CreateApp(ctx, app))

	doc := &storage.DocumentationEntry{
		VecID:       "vec-1",
		AppID:       app.ID,
		Path:        "/projects",
		Method:      "get",
		Summary:     "List projects",
		Description: "All projects.",
	}
	require.NoError(t, e.store.CreateDocumentation(ctx, doc))

	rec := e.do(t, http.MethodPatch, "/api/documentation/vec-1", map[string]string{
		"botSummary":     "Show the user's projects",
		"botDescription": "Lists every project the user can see.",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := e.store.GetDocumentationByVecID(ctx, "vec-1")
	require.NoError(t, err)
	assert.Equal(t, "Show the user's projects", updated.BotSummary)
	assert.True(t, updated.BotEnabled)
	assert.Equal(t, 1, e.vectors.upserts)
}

func TestEditDocumentation_UnknownVecID(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPatch, "/api/documentation/missing", map[string]string{
		"botSummary": "x",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
