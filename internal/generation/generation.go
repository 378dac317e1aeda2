// Package generation selects the answer generator from configuration.
package generation

import (
	"context"
	"fmt"
	"time"

	"mailrag/internal/config"
	"mailrag/internal/domain"
	"mailrag/internal/generation/gemini"
	"mailrag/internal/generation/ollama"
)

// New builds the generator named by cfg.Type. The seed is forwarded to the backend.
func New(ctx context.Context, cfg config.GeneratorConfig, seed int) (domain.Generator, error) {
	switch cfg.Type {
	case "ollama", "":
		return ollama.New(ollama.Config{
			URL:     cfg.Ollama.URL,
			Model:   cfg.Ollama.Model,
			Seed:    seed,
			Timeout: time.Duration(cfg.Ollama.TimeoutSecs) * time.Second,
		}), nil
	case "gemini":
		g, err := gemini.New(ctx, gemini.Config{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
			Seed:   seed,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown generator: %s", cfg.Type)
	}
}
