// Package embedding maps text to normalised vectors through an OpenAI-compatible
// embeddings endpoint (Ollama, text-embeddings-inference, vLLM or OpenAI itself).
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrDimensionMismatch is returned when the endpoint yields vectors of an unexpected length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Config configures the embeddings client.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

// Provider is the process-wide embedding model handle. The client is built on first
// use; the dimension is probed once unless configured.
type Provider struct {
	cfg Config

	mu     sync.Mutex
	client *openai.Client
	dim    int
}

// NewProvider creates a provider; no request is made until the first embedding.
func NewProvider(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "sentence-transformers/paraphrase-multilingual-MiniLM-L12-v2"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Provider{cfg: cfg, dim: cfg.Dimension}
}

// Name returns the embedding model identifier.
func (p *Provider) Name() string { return p.cfg.Model }

// Dimension returns the vector length, embedding a probe text if it is not known yet.
func (p *Provider) Dimension(ctx context.Context) (int, error) {
	p.mu.Lock()
	d := p.dim
	p.mu.Unlock()
	if d > 0 {
		return d, nil
	}
	vecs, err := p.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimension: %w", err)
	}
	return len(vecs[0]), nil
}

// Embed returns one L2-normalised vector per text, in input order.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	client := p.ensureClient()
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(texts))
		vecs, err := p.embedBatch(ctx, client, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *Provider) embedBatch(ctx context.Context, client *openai.Client, batch []string) ([][]float32, error) {
	inputs := make([]string, len(batch))
	for i, t := range batch {
		// the endpoint rejects empty inputs
		if t == "" {
			t = " "
		}
		inputs[i] = t
	}
	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model: openai.EmbeddingModel(p.cfg.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("embeddings request: got %d vectors for %d inputs", len(resp.Data), len(batch))
	}
	vecs := make([][]float32, len(batch))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(batch) || vecs[d.Index] != nil {
			return nil, fmt.Errorf("embeddings request: unexpected index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, errors.New("embeddings request: empty embedding")
		}
		if err := p.checkDimension(len(d.Embedding)); err != nil {
			return nil, err
		}
		vecs[d.Index] = Normalize(d.Embedding)
	}
	return vecs, nil
}

func (p *Provider) ensureClient() *openai.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client
	}
	key := p.cfg.APIKey
	if key == "" {
		// local servers ignore the key but the client always sends one
		key = "unused"
	}
	c := openai.NewClient(
		option.WithBaseURL(p.cfg.BaseURL),
		option.WithAPIKey(key),
		option.WithHTTPClient(&http.Client{Timeout: p.cfg.Timeout}),
		option.WithMaxRetries(0),
	)
	p.client = &c
	return p.client
}

func (p *Provider) checkDimension(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dim == 0 {
		p.dim = n
		return nil
	}
	if n != p.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, n, p.dim)
	}
	return nil
}

// Normalize converts to float32 and scales the vector to unit length.
// A zero vector is returned unchanged.
func Normalize(v []float64) []float32 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		if norm > 0 {
			x /= norm
		}
		out[i] = float32(x)
	}
	return out
}
