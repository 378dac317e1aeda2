package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrag/internal/config"
	"mailrag/internal/vectorstore/local"
	"mailrag/internal/vectorstore/qdrant"
)

func TestOpen(t *testing.T) {
	st, err := Open(config.VectorStoreConfig{Type: "qdrant", Collection: "c", Qdrant: config.QdrantConfig{URL: "http://q:6333"}})
	require.NoError(t, err)
	assert.IsType(t, &qdrant.Storage{}, st)

	st, err = Open(config.VectorStoreConfig{Type: "local", Collection: "c"})
	require.NoError(t, err)
	assert.IsType(t, &local.Storage{}, st)

	_, err = Open(config.VectorStoreConfig{Type: "none"})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = Open(config.VectorStoreConfig{Type: "milvus"})
	assert.Error(t, err)
}
