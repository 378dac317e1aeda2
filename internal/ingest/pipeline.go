// Package ingest turns CSV rows into classified records and indexed points.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mailrag/internal/domain"
	"mailrag/internal/textnorm"
	"mailrag/internal/vectorstore"
)

const indexBatch = 128

// ClassifyPipeline labels raw emails and optionally indexes them.
type ClassifyPipeline struct {
	classifier domain.Classifier
	embedder   domain.Embedder
	store      domain.VectorStore
	log        *slog.Logger
}

// NewClassifyPipeline wires the pipeline. embedder and store may be nil when the
// records are only written to CSV.
func NewClassifyPipeline(classifier domain.Classifier, embedder domain.Embedder, store domain.VectorStore, log *slog.Logger) *ClassifyPipeline {
	if log == nil {
		log = slog.Default()
	}
	return &ClassifyPipeline{classifier: classifier, embedder: embedder, store: store, log: log}
}

// Classify returns copies of recs with label, confidence and id set.
// Texts are normalised before classification; the stored text is left as read.
func (p *ClassifyPipeline) Classify(ctx context.Context, recs []domain.Record) ([]domain.Record, error) {
	texts := make([]string, len(recs))
	for i, r := range recs {
		texts[i] = textnorm.Normalize(r.Text)
	}
	preds, err := p.classifier.Classify(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(preds) != len(recs) {
		return nil, fmt.Errorf("classifier returned %d predictions for %d texts", len(preds), len(recs))
	}
	out := make([]domain.Record, len(recs))
	empty := 0
	for i, r := range recs {
		r.Label = preds[i].Label
		r.Confidence = preds[i].Score
		r.ID = RecordID(r.Sender, r.Date, r.Text)
		if r.Label == domain.LabelNone {
			empty++
		}
		out[i] = r
	}
	p.log.Info("classified emails", "rows", len(out), "unlabelled", empty)
	return out, nil
}

// Index embeds the records and upserts them with their payload. Records already
// present under the same id are overwritten.
func (p *ClassifyPipeline) Index(ctx context.Context, recs []domain.Record) (int, error) {
	points := make([]domain.Point, len(recs))
	texts := make([]string, len(recs))
	for i, r := range recs {
		points[i] = domain.Point{ID: r.ID, Payload: r.Payload()}
		texts[i] = textnorm.Normalize(r.Text)
	}
	return index(ctx, p.embedder, p.store, p.log, points, texts)
}

// DirectPipeline indexes rows that already carry an id, keeping every column as payload.
type DirectPipeline struct {
	embedder domain.Embedder
	store    domain.VectorStore
	log      *slog.Logger
}

func NewDirectPipeline(embedder domain.Embedder, store domain.VectorStore, log *slog.Logger) *DirectPipeline {
	if log == nil {
		log = slog.Default()
	}
	return &DirectPipeline{embedder: embedder, store: store, log: log}
}

// Run indexes the rows of sheet, which must have id and texto columns.
func (p *DirectPipeline) Run(ctx context.Context, sheet Sheet) (int, error) {
	idx, err := sheet.require(domain.FieldID, domain.FieldText)
	if err != nil {
		return 0, err
	}
	points := make([]domain.Point, len(sheet.Rows))
	texts := make([]string, len(sheet.Rows))
	for i, row := range sheet.Rows {
		id, err := ParseID(row[idx[domain.FieldID]])
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", i+1, err)
		}
		payload := make(map[string]any, len(sheet.Columns))
		for j, col := range sheet.Columns {
			payload[col] = InferValue(row[j])
		}
		points[i] = domain.Point{ID: id, Payload: payload}
		texts[i] = textnorm.Normalize(row[idx[domain.FieldText]])
	}
	return index(ctx, p.embedder, p.store, p.log, points, texts)
}

func index(ctx context.Context, embedder domain.Embedder, store domain.VectorStore, log *slog.Logger, points []domain.Point, texts []string) (int, error) {
	if store == nil {
		return 0, vectorstore.ErrDisabled
	}
	if embedder == nil {
		return 0, errors.New("no embedder configured")
	}
	dim, err := embedder.Dimension(ctx)
	if err != nil {
		return 0, err
	}
	if err := store.EnsureCollection(ctx, dim, domain.DistanceCosine); err != nil {
		return 0, fmt.Errorf("ensure collection: %w", err)
	}
	done := 0
	for start := 0; start < len(points); start += indexBatch {
		end := min(start+indexBatch, len(points))
		vecs, err := embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return done, fmt.Errorf("embed rows %d-%d: %w", start+1, end, err)
		}
		batch := points[start:end]
		for i := range batch {
			batch[i].Vector = vecs[i]
		}
		if err := store.Upsert(ctx, batch); err != nil {
			return done, fmt.Errorf("upsert rows %d-%d: %w", start+1, end, err)
		}
		done = end
		log.Debug("indexed batch", "rows", done, "total", len(points))
	}
	log.Info("indexed points", "count", done, "model", embedder.Name())
	return done, nil
}
