package domain

import "errors"

var (
	// ErrCollectionMismatch means an existing collection was created with a different
	// vector dimension or distance than requested.
	ErrCollectionMismatch = errors.New("collection schema mismatch")
	// ErrCollectionNotReady means points were written or queried before EnsureCollection.
	ErrCollectionNotReady = errors.New("collection not ensured")
	// ErrPointNotFound means a point id is absent from the collection.
	ErrPointNotFound = errors.New("point not found")
)
