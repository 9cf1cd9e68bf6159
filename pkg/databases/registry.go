// Package databases provides vector index providers. The index holds one
// vector per (application, path, method) documentation entry; similarity
// search is scoped per application through a metadata filter on the
// application name.
package databases

import (
	"context"
	"fmt"

	"github.com/appbridge-ai/appbridge/pkg/config"
	"github.com/appbridge-ai/appbridge/pkg/registry"
)

type Provider interface {
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]interface{}) error

	Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error)

	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]interface{}) ([]SearchResult, error)

	Delete(ctx context.Context, collection string, id string) error

	DeleteByFilter(ctx context.Context, collection string, filter map[string]interface{}) error

	CreateCollection(ctx context.Context, collection string, vectorSize uint64) error

	Close() error
}

type SearchResult struct {
	ID       string                 `json:"id"`
	Score    float32                `json:"score"`
	Vector   []float32              `json:"vector,omitempty"`
	Metadata map[string]interface{} `json:"metadata"`
}

type DatabaseRegistry struct {
	*registry.BaseRegistry[Provider]
}

func NewDatabaseRegistry() *DatabaseRegistry {
	return &DatabaseRegistry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

func (r *DatabaseRegistry) CreateDatabaseFromConfig(name string, cfg *config.VectorStoreConfig) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("database name cannot be empty")
	}
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	var provider Provider
	var err error

	switch cfg.Type {
	case "qdrant":
		provider, err = NewQdrantProviderFromConfig(cfg)
	case "pinecone":
		provider, err = NewPineconeProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create database provider: %w", err)
	}

	if err := r.Register(name, provider); err != nil {
		return nil, fmt.Errorf("failed to register database: %w", err)
	}

	return provider, nil
}

func (r *DatabaseRegistry) GetDatabase(name string) (Provider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("database provider '%s' not found", name)
	}
	return provider, nil
}
