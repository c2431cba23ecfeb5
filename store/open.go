package store

import (
	"context"
	"fmt"

	"fapchat/config"
	"fapchat/logger"
)

// Open connects the backend selected by cfg.Store.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StorePostgres:
		return NewPostgresStore(ctx, cfg.DatabaseURL, cfg.PGTable)
	case config.StoreQdrant:
		return NewQdrantStore(QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Timeout:    cfg.HTTPTimeout,
		})
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// OpenIndex opens the backend and makes sure the collection exists.
func OpenIndex(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Index, error) {
	backend, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	idx := NewIndex(backend, log, WithBatchSize(cfg.UpsertBatchSize), WithCallTimeout(cfg.StoreTimeout))
	if err := idx.EnsureCollection(ctx, cfg.EmbeddingDim, Cosine); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return idx, nil
}
