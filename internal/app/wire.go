// Package app assembles components from configuration for the command-line tools.
package app

import (
	"context"
	"io"
	"log/slog"
	"time"

	"mailrag/internal/classifier"
	"mailrag/internal/config"
	"mailrag/internal/embedding"
)

// NewLogger returns a text logger writing to w at the configured level.
func NewLogger(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// NewEmbedder returns the shared embedding provider. Ingestion and answering in
// one process must use the same instance.
func NewEmbedder(cfg *config.AppConfig) *embedding.Provider {
	e := cfg.Embedder
	return embedding.NewProvider(embedding.Config{
		BaseURL:   e.BaseURL,
		APIKey:    e.APIKey,
		Model:     e.Model,
		Dimension: e.Dimension,
		BatchSize: e.BatchSize,
		Timeout:   time.Duration(e.TimeoutSecs) * time.Second,
	})
}

// NewClassifier loads the zero-shot classifier; an error here is fatal.
func NewClassifier(ctx context.Context, cfg *config.AppConfig) (*classifier.Client, error) {
	c := cfg.Classifier
	return classifier.New(ctx, classifier.Config{
		URL:     c.URL,
		Model:   c.Model,
		Token:   c.Token,
		Seed:    cfg.Seed,
		Timeout: time.Duration(c.TimeoutSecs) * time.Second,
	})
}
