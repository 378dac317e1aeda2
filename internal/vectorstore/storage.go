package vectorstore

import (
	"errors"
	"fmt"
	"time"

	"mailrag/internal/config"
	"mailrag/internal/domain"
	"mailrag/internal/vectorstore/local"
	"mailrag/internal/vectorstore/qdrant"
)

// ErrDisabled is returned by Open when no vector store is configured.
var ErrDisabled = errors.New("vector store disabled")

// Open builds the configured vector store bound to the configured collection.
func Open(cfg config.VectorStoreConfig) (domain.VectorStore, error) {
	switch cfg.Type {
	case "qdrant", "":
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	case "local":
		return local.NewStorage(local.Config{Path: cfg.Local.Path, Collection: cfg.Collection})
	case "none":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.Type)
	}
}
