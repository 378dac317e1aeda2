package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"mailrag/internal/domain"
)

const upsertBatch = 256

// Storage is a minimal REST client to Qdrant bound to one collection.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu        sync.RWMutex
	dimension int
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// EnsureCollection creates the collection when absent. An existing collection must
// have the same vector size and distance.
func (s *Storage) EnsureCollection(ctx context.Context, dimension int, distance domain.Distance) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	err := s.checkCollection(ctx, dimension, distance)
	if !errors.Is(err, errCollectionAbsent) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": string(distance),
		},
	}
	status, payload, err := s.do(ctx, http.MethodPut, s.collectionURL(""), body)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusConflict:
		// created concurrently by another process
		return s.checkCollection(ctx, dimension, distance)
	case status >= 300:
		return s.failure(http.MethodPut, s.collectionURL(""), status, payload)
	}
	s.setDimension(dimension)
	return nil
}

var errCollectionAbsent = errors.New("collection absent")

func (s *Storage) checkCollection(ctx context.Context, dimension int, distance domain.Distance) error {
	status, payload, err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return errCollectionAbsent
	}
	if status >= 300 {
		return s.failure(http.MethodGet, s.collectionURL(""), status, payload)
	}
	vectors := gjson.GetBytes(payload, "result.config.params.vectors")
	size, dist := vectors.Get("size"), vectors.Get("distance")
	if !size.Exists() {
		return fmt.Errorf("%w: collection %s does not use a single unnamed vector", domain.ErrCollectionMismatch, s.collection)
	}
	if int(size.Int()) != dimension || dist.String() != string(distance) {
		return fmt.Errorf("%w: collection %s has size=%d distance=%s, want size=%d distance=%s",
			domain.ErrCollectionMismatch, s.collection, size.Int(), dist.String(), dimension, distance)
	}
	s.setDimension(dimension)
	return nil
}

// Upsert writes points, overwriting any point with the same id.
func (s *Storage) Upsert(ctx context.Context, points []domain.Point) error {
	dim := s.getDimension()
	if dim == 0 {
		return domain.ErrCollectionNotReady
	}
	for start := 0; start < len(points); start += upsertBatch {
		end := min(start+upsertBatch, len(points))
		batch := make([]map[string]any, 0, end-start)
		for _, p := range points[start:end] {
			if len(p.Vector) != dim {
				return fmt.Errorf("point %d: vector dimension %d, want %d", p.ID, len(p.Vector), dim)
			}
			payload := p.Payload
			if payload == nil {
				payload = map[string]any{}
			}
			batch = append(batch, map[string]any{
				"id":      p.ID,
				"vector":  p.Vector,
				"payload": payload,
			})
		}
		url := s.collectionURL("/points?wait=true")
		status, body, err := s.do(ctx, http.MethodPut, url, map[string]any{"points": batch})
		if err != nil {
			return err
		}
		if status >= 300 {
			return s.failure(http.MethodPut, url, status, body)
		}
	}
	return nil
}

// Search returns the topK nearest points with their payloads.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
	}
	url := s.collectionURL("/points/search")
	status, body, err := s.do(ctx, http.MethodPost, url, req)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, s.failure(http.MethodPost, url, status, body)
	}
	results := gjson.GetBytes(body, "result").Array()
	hits := make([]domain.Hit, 0, len(results))
	for _, r := range results {
		payload := map[string]any{}
		if raw := r.Get("payload"); raw.IsObject() {
			if err := json.Unmarshal([]byte(raw.Raw), &payload); err != nil {
				return nil, fmt.Errorf("decode payload of point %s: %w", r.Get("id").String(), err)
			}
		}
		hits = append(hits, domain.Hit{
			ID:      r.Get("id").Uint(),
			Score:   r.Get("score").Float(),
			Payload: payload,
		})
	}
	return hits, nil
}

// SetPayload merges the given keys into the payload of an existing point.
func (s *Storage) SetPayload(ctx context.Context, id uint64, payload map[string]any) error {
	url := s.collectionURL("/points/payload?wait=true")
	body := map[string]any{"payload": payload, "points": []uint64{id}}
	status, resp, err := s.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %d", domain.ErrPointNotFound, id)
	}
	if status >= 300 {
		return s.failure(http.MethodPost, url, status, resp)
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (s *Storage) Count(ctx context.Context) (int, error) {
	url := s.collectionURL("/points/count")
	status, body, err := s.do(ctx, http.MethodPost, url, map[string]any{"exact": true})
	if err != nil {
		return 0, err
	}
	if status >= 300 {
		return 0, s.failure(http.MethodPost, url, status, body)
	}
	return int(gjson.GetBytes(body, "result.count").Int()), nil
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Storage) setDimension(d int) {
	s.mu.Lock()
	s.dimension = d
	s.mu.Unlock()
}

func (s *Storage) getDimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *Storage) do(ctx context.Context, method, url string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}

func (s *Storage) failure(method, url string, status int, body []byte) error {
	msg := gjson.GetBytes(body, "status.error").String()
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("qdrant %s %s failed: %d %s", method, url, status, msg)
}
