package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrag/internal/domain"
	"mailrag/internal/vectorstore"
	"mailrag/internal/vectorstore/local"
)

// keywordClassifier labels by keyword; blank texts get no label.
type keywordClassifier struct{ seen []string }

func (k *keywordClassifier) Classify(ctx context.Context, texts []string) ([]domain.Prediction, error) {
	out := make([]domain.Prediction, len(texts))
	for i, t := range texts {
		k.seen = append(k.seen, t)
		switch {
		case strings.TrimSpace(t) == "":
			out[i] = domain.Prediction{Labels: domain.CandidateLabels(), Scores: map[domain.Label]float64{}}
		case strings.Contains(strings.ToLower(t), "quej"):
			out[i] = domain.Prediction{Label: domain.LabelComplaint, Score: 0.9}
		default:
			out[i] = domain.Prediction{Label: domain.LabelRequest, Score: 0.6}
		}
	}
	return out, nil
}

// lengthEmbedder maps text to a 2-d unit vector depending on its first letter.
type lengthEmbedder struct{ calls int }

func (e *lengthEmbedder) Name() string                               { return "test-embedder" }
func (e *lengthEmbedder) Dimension(ctx context.Context) (int, error) { return 2, nil }
func (e *lengthEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.HasPrefix(t, "Q") {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func memStore(t *testing.T) *local.Storage {
	t.Helper()
	s, err := local.NewStorage(local.Config{Collection: "emails"})
	require.NoError(t, err)
	return s
}

func TestClassifyPipeline_Classify(t *testing.T) {
	clf := &keywordClassifier{}
	p := NewClassifyPipeline(clf, nil, nil, quiet())
	recs := []domain.Record{
		{Date: "2023-01-05", Sender: "ana@x.com", Text: "<p>Quiero  quejarme del servicio</p>"},
		{Date: "2023-01-06", Sender: "luis@x.com", Text: "   "},
	}

	out, err := p.Classify(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, domain.LabelComplaint, out[0].Label)
	assert.Greater(t, out[0].Confidence, 0.5)
	assert.Equal(t, RecordID("ana@x.com", "2023-01-05", recs[0].Text), out[0].ID)
	assert.Equal(t, recs[0].Text, out[0].Text)
	assert.Equal(t, "Quiero quejarme del servicio", clf.seen[0])

	assert.Equal(t, domain.LabelNone, out[1].Label)
	assert.Zero(t, out[1].Confidence)
	assert.Empty(t, recs[0].Label)
}

func TestClassifyPipeline_IndexIdempotent(t *testing.T) {
	store := memStore(t)
	p := NewClassifyPipeline(&keywordClassifier{}, &lengthEmbedder{}, store, quiet())
	ctx := context.Background()

	recs, err := p.Classify(ctx, []domain.Record{
		{Date: "2023-01-05", Sender: "ana@x.com", Text: "Queja por cortes"},
		{Date: "2023-01-06", Sender: "luis@x.com", Text: "Solicito fibra"},
	})
	require.NoError(t, err)

	n, err := p.Index(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = p.Index(ctx, recs)
	require.NoError(t, err)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	hits, err := store.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, recs[0].ID, hits[0].ID)
	assert.Equal(t, "Queja", hits[0].Label())
	assert.Equal(t, "ana@x.com", hits[0].Sender())
}

func TestClassifyPipeline_IndexWithoutStore(t *testing.T) {
	p := NewClassifyPipeline(&keywordClassifier{}, &lengthEmbedder{}, nil, quiet())
	_, err := p.Index(context.Background(), []domain.Record{{Text: "x"}})
	assert.ErrorIs(t, err, vectorstore.ErrDisabled)
}

type failingStore struct{ domain.VectorStore }

func (failingStore) EnsureCollection(ctx context.Context, dimension int, distance domain.Distance) error {
	return domain.ErrCollectionMismatch
}

func TestClassifyPipeline_IndexPropagatesStoreErrors(t *testing.T) {
	emb := &lengthEmbedder{}
	p := NewClassifyPipeline(&keywordClassifier{}, emb, failingStore{}, quiet())
	_, err := p.Index(context.Background(), []domain.Record{{Text: "x"}})
	assert.True(t, errors.Is(err, domain.ErrCollectionMismatch))
	assert.Zero(t, emb.calls)
}

func TestDirectPipeline_Run(t *testing.T) {
	store := memStore(t)
	p := NewDirectPipeline(&lengthEmbedder{}, store, quiet())
	ctx := context.Background()

	sheet, err := ReadSheet(strings.NewReader("id,texto,prioridad,nota\n10,Queja formal,2,\n11,Alta de línea,1.5,urgente\n"), OutputDelimiter)
	require.NoError(t, err)

	n, err := p.Run(ctx, sheet)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := store.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, uint64(10), hits[0].ID)
	assert.Equal(t, "Queja formal", hits[0].Text())
	assert.Equal(t, float64(2), hits[0].Payload["prioridad"])
	assert.Nil(t, hits[0].Payload["nota"])
	assert.Equal(t, "urgente", hits[1].Payload["nota"])
}

func TestDirectPipeline_RequiresColumns(t *testing.T) {
	p := NewDirectPipeline(&lengthEmbedder{}, memStore(t), quiet())
	sheet, err := ReadSheet(strings.NewReader("texto\nhola\n"), OutputDelimiter)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), sheet)
	assert.ErrorIs(t, err, ErrMissingColumn)

	sheet, err = ReadSheet(strings.NewReader("id,texto\nabc,hola\n"), OutputDelimiter)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), sheet)
	assert.Error(t, err)
}
