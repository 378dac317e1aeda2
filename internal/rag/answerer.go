// Package rag answers questions over the indexed emails: it retrieves the nearest
// emails, builds a grounded Spanish prompt and asks the generator.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"mailrag/internal/domain"
)

const (
	// NoResultsText is returned when the index holds nothing close to the question.
	NoResultsText = "No se encontraron correos relevantes en la base de datos."

	contextRunes = 800
	defaultTopK  = 5
)

var (
	ErrEmptyQuestion = errors.New("empty question")
	ErrRetrieval     = errors.New("retrieval failed")
)

// Status tells how an answer was produced.
type Status int

const (
	StatusGenerated Status = iota
	StatusNoResults
	StatusGenerationFailed
)

func (s Status) String() string {
	switch s {
	case StatusGenerated:
		return "generated"
	case StatusNoResults:
		return "no_results"
	case StatusGenerationFailed:
		return "generation_failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Answer is the outcome of one question. Docs are the retrieved hits in rank order,
// also when generation failed.
type Answer struct {
	Text   string
	Status Status
	Docs   []domain.Hit
	// Err is the generator error when Status is StatusGenerationFailed.
	Err error
}

// Answerer must be given the same embedder instance that indexed the collection.
type Answerer struct {
	embedder  domain.Embedder
	store     domain.VectorStore
	generator domain.Generator
	log       *slog.Logger
}

func NewAnswerer(embedder domain.Embedder, store domain.VectorStore, generator domain.Generator, log *slog.Logger) *Answerer {
	if log == nil {
		log = slog.Default()
	}
	return &Answerer{embedder: embedder, store: store, generator: generator, log: log}
}

// Ask retrieves the k nearest emails and generates an answer from them.
// Embedding and search failures are returned as errors wrapping ErrRetrieval;
// a generator failure is reported inside the Answer.
func (a *Answerer) Ask(ctx context.Context, question string, k int) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}
	if k <= 0 {
		k = defaultTopK
	}
	hits, err := a.Retrieve(ctx, question, k)
	if err != nil {
		return Answer{}, err
	}
	if len(hits) == 0 {
		return Answer{Text: NoResultsText, Status: StatusNoResults}, nil
	}

	prompt := BuildPrompt(question, hits)
	text, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		a.log.Warn("generation failed", "backend", a.generator.Name(), "error", err)
		return Answer{
			Text:   fmt.Sprintf("(⚠️ Error al conectar con %s: %v)", a.generator.Name(), err),
			Status: StatusGenerationFailed,
			Docs:   hits,
			Err:    err,
		}, nil
	}
	a.log.Debug("answer generated", "backend", a.generator.Name(), "docs", len(hits))
	return Answer{Text: text, Status: StatusGenerated, Docs: hits}, nil
}

// Retrieve embeds the question and returns up to k hits ordered by similarity.
func (a *Answerer) Retrieve(ctx context.Context, question string, k int) ([]domain.Hit, error) {
	vecs, err := a.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("%w: embed question: %v", ErrRetrieval, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors", ErrRetrieval, len(vecs))
	}
	hits, err := a.store.Search(ctx, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrRetrieval, err)
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// FormatContext renders the numbered context block, one entry per hit.
func FormatContext(hits []domain.Hit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = fmt.Sprintf("[Doc %d] Remitente: %s | Fecha: %s\n%s",
			i+1, h.Sender(), h.Date(), truncateRunes(h.Text(), contextRunes))
	}
	return strings.Join(parts, "\n\n")
}

// BuildPrompt asks for a brief answer grounded only in the context, with [Doc X] citations.
func BuildPrompt(question string, hits []domain.Hit) string {
	var b strings.Builder
	b.WriteString("Eres un asistente que ayuda a revisar correos de clientes de una empresa de telecomunicaciones.\n")
	b.WriteString("Responde de forma breve, precisa y profesional usando solo la información del CONTEXTO.\n")
	b.WriteString("Cita los [Doc X] de los que saques la información.\n\n")
	b.WriteString("PREGUNTA: ")
	b.WriteString(question)
	b.WriteString("\n\nCONTEXTO:\n")
	b.WriteString(FormatContext(hits))
	b.WriteString("\n")
	return b.String()
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
