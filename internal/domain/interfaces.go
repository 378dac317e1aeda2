package domain

import "context"

// Embedder maps texts to L2-normalised vectors of a fixed dimension.
// Ingestion and answering must share the same instance.
type Embedder interface {
	Name() string
	Dimension(ctx context.Context) (int, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Classifier assigns one candidate label per text.
type Classifier interface {
	Classify(ctx context.Context, texts []string) ([]Prediction, error)
}

// Distance is the similarity metric of a vector collection.
type Distance string

const (
	DistanceCosine Distance = "Cosine"
	DistanceDot    Distance = "Dot"
)

// VectorStore persists points and answers nearest-neighbour queries.
type VectorStore interface {
	EnsureCollection(ctx context.Context, dimension int, distance Distance) error
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, topK int) ([]Hit, error)
	SetPayload(ctx context.Context, id uint64, payload map[string]any) error
	Count(ctx context.Context) (int, error)
}

// Generator produces free text from a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}
