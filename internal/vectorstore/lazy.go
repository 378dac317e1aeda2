package vectorstore

import (
	"context"
	"sync"

	"mailrag/internal/domain"
)

// Lazy ensures the collection on first use, sized by the embedder, then delegates.
// A failed ensure is retried on the next call.
type Lazy struct {
	store    domain.VectorStore
	embedder domain.Embedder

	mu    sync.Mutex
	ready bool
}

func NewLazy(store domain.VectorStore, embedder domain.Embedder) *Lazy {
	return &Lazy{store: store, embedder: embedder}
}

func (l *Lazy) ensure(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return nil
	}
	dim, err := l.embedder.Dimension(ctx)
	if err != nil {
		return err
	}
	if err := l.store.EnsureCollection(ctx, dim, domain.DistanceCosine); err != nil {
		return err
	}
	l.ready = true
	return nil
}

func (l *Lazy) EnsureCollection(ctx context.Context, dimension int, distance domain.Distance) error {
	if err := l.store.EnsureCollection(ctx, dimension, distance); err != nil {
		return err
	}
	l.mu.Lock()
	l.ready = true
	l.mu.Unlock()
	return nil
}

func (l *Lazy) Upsert(ctx context.Context, points []domain.Point) error {
	if err := l.ensure(ctx); err != nil {
		return err
	}
	return l.store.Upsert(ctx, points)
}

func (l *Lazy) Search(ctx context.Context, vector []float32, topK int) ([]domain.Hit, error) {
	if err := l.ensure(ctx); err != nil {
		return nil, err
	}
	return l.store.Search(ctx, vector, topK)
}

func (l *Lazy) SetPayload(ctx context.Context, id uint64, payload map[string]any) error {
	if err := l.ensure(ctx); err != nil {
		return err
	}
	return l.store.SetPayload(ctx, id, payload)
}

func (l *Lazy) Count(ctx context.Context) (int, error) {
	if err := l.ensure(ctx); err != nil {
		return 0, err
	}
	return l.store.Count(ctx)
}
