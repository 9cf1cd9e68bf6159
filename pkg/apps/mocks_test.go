package apps

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/appbridge-ai/appbridge/pkg/databases"
	"github.com/appbridge-ai/appbridge/pkg/httpclient"
	"github.com/appbridge-ai/appbridge/pkg/storage"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) GetDimension() int    { return 3 }
func (f *fakeEmbedder) GetModelName() string { return "fake-embedder" }
func (f *fakeEmbedder) Close() error         { return nil }

type upsertCall struct {
	ID       string
	Metadata map[string]any
}

type fakeVectors struct {
	mu       sync.Mutex
	upserts  []upsertCall
	deletes  []map[string]any
	results  []databases.SearchResult
	searches []string
}

func (f *fakeVectors) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, upsertCall{ID: id, Metadata: metadata})
	return nil
}

func (f *fakeVectors) Search(ctx context.Context, collection string, vector []float32, topK int) ([]databases.SearchResult, error) {
	return f.results, nil
}

func (f *fakeVectors) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]databases.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if app, ok := filter["app"].(string); ok {
		f.searches = append(f.searches, app)
	}
	if topK < len(f.results) {
		return f.results[:topK], nil
	}
	return f.results, nil
}

func (f *fakeVectors) Delete(ctx context.Context, collection, id string) error { return nil }

func (f *fakeVectors) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, filter)
	return nil
}

func (f *fakeVectors) CreateCollection(ctx context.Context, collection string, vectorSize uint64) error {
	return nil
}

func (f *fakeVectors) Close() error { return nil }

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := storage.New(db, "sqlite")
	require.NoError(t, err)
	return store
}

func newTestDeps(t *testing.T) (Deps, *fakeEmbedder, *fakeVectors) {
	t.Helper()

	embedder := &fakeEmbedder{}
	vectors := &fakeVectors{}
	deps := Deps{
		Store:           newTestStore(t),
		Embedder:        embedder,
		Vectors:         vectors,
		Collection:      "test-endpoints",
		HTTP:            httpclient.New(),
		CallbackBaseURL: "https://hub.example.com",
	}
	return deps, embedder, vectors
}
