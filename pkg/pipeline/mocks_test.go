package pipeline

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/appbridge-ai/appbridge/pkg/apps"
	"github.com/appbridge-ai/appbridge/pkg/databases"
	"github.com/appbridge-ai/appbridge/pkg/httpclient"
	"github.com/appbridge-ai/appbridge/pkg/oracle"
	"github.com/appbridge-ai/appbridge/pkg/storage"
)

// scriptedOracle returns queued decisions in call order and records
// every prompt it saw.
type scriptedOracle struct {
	mu        sync.Mutex
	decisions []oracle.Decision
	prompts   []string
	systems   []string
}

func (s *scriptedOracle) Complete(ctx context.Context, systemPrompt, userPrompt string, tools []oracle.ToolDefinition) (oracle.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.systems = append(s.systems, systemPrompt)
	s.prompts = append(s.prompts, userPrompt)

	if len(s.decisions) == 0 {
		return oracle.Decision{Text: "out of scripted decisions"}, nil
	}
	next := s.decisions[0]
	s.decisions = s.decisions[1:]
	return next, nil
}

func (s *scriptedOracle) ModelName() string { return "scripted" }
func (s *scriptedOracle) Close() error      { return nil }

func call(name string, args map[string]any) oracle.Decision {
	return oracle.Decision{Call: &oracle.ToolCall{Name: name, Args: args}}
}

func text(t string) oracle.Decision {
	return oracle.Decision{Text: t}
}

type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.5, 0.5}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.5, 0.5}
	}
	return out, nil
}

func (f *fakeEmbedder) GetDimension() int    { return 2 }
func (f *fakeEmbedder) GetModelName() string { return "fake-embedder" }
func (f *fakeEmbedder) Close() error         { return nil }

// fakeVectors serves canned search results keyed by the "app" filter.
type fakeVectors struct {
	mu        sync.Mutex
	resultsBy map[string][]databases.SearchResult
	topKs     []int
}

func (f *fakeVectors) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	return nil
}

func (f *fakeVectors) Search(ctx context.Context, collection string, vector []float32, topK int) ([]databases.SearchResult, error) {
	return nil, nil
}

func (f *fakeVectors) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]databases.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topKs = append(f.topKs, topK)

	app, _ := filter["app"].(string)
	results := f.resultsBy[app]
	if topK < len(results) {
		return results[:topK], nil
	}
	return results, nil
}

func (f *fakeVectors) Delete(ctx context.Context, collection, id string) error { return nil }

func (f *fakeVectors) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
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

func newTestRegistry(t *testing.T, store *storage.Store, vectors *fakeVectors) *apps.Registry {
	t.Helper()

	return apps.NewRegistry(apps.Deps{
		Store:           store,
		Embedder:        &fakeEmbedder{},
		Vectors:         vectors,
		Collection:      "test-endpoints",
		HTTP:            httpclient.New(),
		CallbackBaseURL: "https://hub.example.com",
	})
}
