// Package local is an embedded vector store backed by chromem-go, for running
// without a Qdrant server. Only cosine distance is supported.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"

	"mailrag/internal/domain"
)

const (
	metaFile   = "collections.yaml"
	payloadKey = "payload"
)

type collectionMeta struct {
	Dimension int    `yaml:"dimension"`
	Distance  string `yaml:"distance"`
}

// Storage holds one collection of a chromem database.
type Storage struct {
	path string
	name string
	db   *chromem.DB

	mu        sync.Mutex
	meta      map[string]collectionMeta
	col       *chromem.Collection
	dimension int
}

type Config struct {
	// Path of the persistence directory; empty keeps everything in memory.
	Path       string
	Collection string
}

func NewStorage(cfg Config) (*Storage, error) {
	s := &Storage{path: cfg.Path, name: cfg.Collection, meta: map[string]collectionMeta{}}
	if cfg.Path == "" {
		s.db = chromem.NewDB()
		return s, nil
	}
	db, err := chromem.NewPersistentDB(cfg.Path, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	s.db = db
	data, err := os.ReadFile(filepath.Join(cfg.Path, metaFile))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s.meta); err != nil {
			return nil, fmt.Errorf("read %s: %w", metaFile, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}
	return s, nil
}

// EnsureCollection creates the collection when absent. An existing collection must
// have been created with the same dimension.
func (s *Storage) EnsureCollection(ctx context.Context, dimension int, distance domain.Distance) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	if distance != domain.DistanceCosine {
		return fmt.Errorf("local store supports %s distance only, got %s", domain.DistanceCosine, distance)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.meta[s.name]; ok {
		if m.Dimension != dimension || m.Distance != string(distance) {
			return fmt.Errorf("%w: collection %s has size=%d distance=%s, want size=%d distance=%s",
				domain.ErrCollectionMismatch, s.name, m.Dimension, m.Distance, dimension, distance)
		}
	} else {
		s.meta[s.name] = collectionMeta{Dimension: dimension, Distance: string(distance)}
		if err := s.saveMeta(); err != nil {
			return err
		}
	}
	col, err := s.db.GetOrCreateCollection(s.name, map[string]string{"dimension": strconv.Itoa(dimension)}, precomputedOnly)
	if err != nil {
		return fmt.Errorf("get/create collection: %w", err)
	}
	s.col = col
	s.dimension = dimension
	return nil
}

// Upsert writes points, replacing documents with the same id.
func (s *Storage) Upsert(ctx context.Context, points []domain.Point) error {
	col, dim, err := s.collection()
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != dim {
			return fmt.Errorf("point %d: vector dimension %d, want %d", p.ID, len(p.Vector), dim)
		}
		doc, err := toDocument(p)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil
	}
	return col.AddDocuments(ctx, docs, 1)
}

// Search returns the topK most similar points.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.Hit, error) {
	col, dim, err := s.collection()
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("query vector dimension %d, want %d", len(vector), dim)
	}
	if topK <= 0 {
		topK = 5
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	res, err := col.QueryEmbedding(ctx, vector, min(topK, n), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	hits := make([]domain.Hit, 0, len(res))
	for _, r := range res {
		id, err := strconv.ParseUint(r.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("document id %q: %w", r.ID, err)
		}
		payload, err := decodePayload(r.Metadata)
		if err != nil {
			return nil, err
		}
		hits = append(hits, domain.Hit{ID: id, Score: float64(r.Similarity), Payload: payload})
	}
	return hits, nil
}

// SetPayload merges keys into the payload of an existing point.
func (s *Storage) SetPayload(ctx context.Context, id uint64, payload map[string]any) error {
	col, _, err := s.collection()
	if err != nil {
		return err
	}
	doc, err := col.GetByID(ctx, strconv.FormatUint(id, 10))
	if err != nil {
		return fmt.Errorf("%w: %d", domain.ErrPointNotFound, id)
	}
	merged, err := decodePayload(doc.Metadata)
	if err != nil {
		return err
	}
	for k, v := range payload {
		merged[k] = v
	}
	updated, err := toDocument(domain.Point{ID: id, Vector: doc.Embedding, Payload: merged})
	if err != nil {
		return err
	}
	return col.AddDocument(ctx, updated)
}

// Count returns the number of stored points.
func (s *Storage) Count(ctx context.Context) (int, error) {
	col, _, err := s.collection()
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func (s *Storage) collection() (*chromem.Collection, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col == nil {
		return nil, 0, domain.ErrCollectionNotReady
	}
	return s.col, s.dimension, nil
}

func (s *Storage) saveMeta() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(s.meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.path, metaFile), data, 0o644)
}

func toDocument(p domain.Point) (chromem.Document, error) {
	data, err := json.Marshal(p.Payload)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("encode payload of point %d: %w", p.ID, err)
	}
	content, _ := p.Payload[domain.FieldText].(string)
	if content == "" {
		content = " "
	}
	return chromem.Document{
		ID:        strconv.FormatUint(p.ID, 10),
		Metadata:  map[string]string{payloadKey: string(data)},
		Embedding: p.Vector,
		Content:   content,
	}, nil
}

func decodePayload(meta map[string]string) (map[string]any, error) {
	payload := map[string]any{}
	raw, ok := meta[payloadKey]
	if !ok || raw == "null" {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// precomputedOnly refuses to embed: every document arrives with its vector.
func precomputedOnly(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("local store requires precomputed embeddings")
}
