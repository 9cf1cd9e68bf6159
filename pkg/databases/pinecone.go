package databases

import (
	"context"
	"fmt"

	"github.com/appbridge-ai/appbridge/pkg/config"
	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

type pineconeProvider struct {
	client    *pinecone.Client
	config    *config.VectorStoreConfig
	indexName string
}

func NewPineconeProviderFromConfig(cfg *config.VectorStoreConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
		Host:   cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	indexName := cfg.IndexName
	if indexName == "" {
		indexName = cfg.Collection
	}
	if indexName == "" {
		return nil, fmt.Errorf("index_name is required for Pinecone")
	}

	return &pineconeProvider{
		client:    client,
		config:    cfg,
		indexName: indexName,
	}, nil
}

// indexConnection resolves the index host and opens a connection for the
// given collection, which maps onto a Pinecone index name.
func (db *pineconeProvider) indexConnection(ctx context.Context, collection string) (*pinecone.IndexConnection, error) {
	name := db.indexName
	if collection != "" {
		name = collection
	}

	index, err := db.client.DescribeIndex(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %s: %w", name, err)
	}

	indexConn, err := db.client.Index(pinecone.NewIndexConnParams{
		Host: index.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}

	return indexConn, nil
}

func (db *pineconeProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]interface{}) error {
	indexConn, err := db.indexConnection(ctx, collection)
	if err != nil {
		return err
	}
	defer indexConn.Close()

	var pineconeMetadata *pinecone.Metadata
	if len(metadata) > 0 {
		pineconeMetadata, err = structpb.NewStruct(metadata)
		if err != nil {
			return fmt.Errorf("failed to convert metadata: %w", err)
		}
	}

	_, err = indexConn.UpsertVectors(ctx, []*pinecone.Vector{{
		Id:       id,
		Values:   vector,
		Metadata: pineconeMetadata,
	}})
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}

	return nil
}

func (db *pineconeProvider) Search(ctx context.Context, collection string, queryVector []float32, topK int) ([]SearchResult, error) {
	return db.SearchWithFilter(ctx, collection, queryVector, topK, nil)
}

func (db *pineconeProvider) SearchWithFilter(ctx context.Context, collection string, queryVector []float32, topK int, filter map[string]interface{}) ([]SearchResult, error) {
	indexConn, err := db.indexConnection(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer indexConn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	queryResponse, err := indexConn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          queryVector,
		TopK:            uint32(topK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}

	return convertPineconeResults(queryResponse.Matches), nil
}

func convertPineconeResults(matches []*pinecone.ScoredVector) []SearchResult {
	results := make([]SearchResult, 0, len(matches))
	for _, scoredVector := range matches {
		if scoredVector.Vector == nil {
			continue
		}

		metadata := make(map[string]interface{})
		if scoredVector.Vector.Metadata != nil {
			metadata = scoredVector.Vector.Metadata.AsMap()
		}

		results = append(results, SearchResult{
			ID:       scoredVector.Vector.Id,
			Score:    scoredVector.Score,
			Metadata: metadata,
		})
	}

	return results
}

func (db *pineconeProvider) Delete(ctx context.Context, collection string, id string) error {
	indexConn, err := db.indexConnection(ctx, collection)
	if err != nil {
		return err
	}
	defer indexConn.Close()

	if err := indexConn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}

	return nil
}

func (db *pineconeProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]interface{}) error {
	indexConn, err := db.indexConnection(ctx, collection)
	if err != nil {
		return err
	}
	defer indexConn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	if err := indexConn.DeleteVectorsByFilter(ctx, metadataFilter); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}

	return nil
}

func (db *pineconeProvider) CreateCollection(ctx context.Context, collection string, vectorSize uint64) error {
	name := collection
	if name == "" {
		name = db.indexName
	}

	indexes, err := db.client.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list indexes: %w", err)
	}

	for _, idx := range indexes {
		if idx.Name == name {
			return nil
		}
	}

	// Serverless index provisioning stays a console/management concern.
	return fmt.Errorf("index %s does not exist; create it via the Pinecone console or API", name)
}

func (db *pineconeProvider) Close() error {
	return nil
}
