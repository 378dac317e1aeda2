package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"mailrag/internal/app"
	"mailrag/internal/config"
	"mailrag/internal/domain"
	"mailrag/internal/ingest"
	"mailrag/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	var (
		input, output, cfgPath, dumpConfig string
		toIndex                            bool
	)
	flag.StringVar(&input, "input", "", "CSV (;) with columns Fecha, Email, Descripción")
	flag.StringVar(&output, "output", "", "Output CSV with predictions")
	flag.BoolVar(&toIndex, "to-qdrant", false, "Insert/update the classified emails in the vector store")
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional)")
	flag.StringVar(&dumpConfig, "dump-config", "", "Write the effective config (secrets redacted) to this path and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := app.NewLogger(cfg, os.Stderr)
	slog.SetDefault(log)

	if dumpConfig != "" {
		if err := config.Save(dumpConfig, cfg); err != nil {
			fatal(log, "write config", err)
		}
		log.Info("config written", "path", dumpConfig)
		return
	}
	if input == "" || output == "" {
		fmt.Fprintln(os.Stderr, "Usage: classify --input emails.csv --output predicciones.csv [--to-qdrant] [--config config.yaml]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	f, err := os.Open(input)
	if err != nil {
		fatal(log, "open input", err)
	}
	recs, err := ingest.ReadInput(f, ingest.InputDelimiter)
	f.Close()
	if err != nil {
		fatal(log, "read input", err, "path", input)
	}

	clf, err := app.NewClassifier(ctx, cfg)
	if err != nil {
		fatal(log, "load classifier", err, "model", cfg.Classifier.Model)
	}
	err = run(ctx, log, job{
		records:    recs,
		output:     output,
		toIndex:    toIndex,
		classifier: clf,
		embedder:   app.NewEmbedder(cfg),
		openStore:  func() (domain.VectorStore, error) { return vectorstore.Open(cfg.VectorStore) },
	})
	if err != nil {
		fatal(log, "classify emails", err, "collection", cfg.VectorStore.Collection)
	}
}

type job struct {
	records    []domain.Record
	output     string
	toIndex    bool
	classifier domain.Classifier
	embedder   domain.Embedder
	openStore  func() (domain.VectorStore, error)
}

// run classifies the records and writes the output file. The vector store is
// only opened afterwards, when indexing was asked for.
func run(ctx context.Context, log *slog.Logger, j job) error {
	classified, err := ingest.NewClassifyPipeline(j.classifier, nil, nil, log).Classify(ctx, j.records)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if err := writeOutput(j.output, classified); err != nil {
		return fmt.Errorf("write output %s: %w", j.output, err)
	}
	log.Info("output written", "path", j.output, "rows", len(classified))

	if !j.toIndex {
		return nil
	}
	store, err := j.openStore()
	if errors.Is(err, vectorstore.ErrDisabled) {
		log.Warn("vector store disabled; skipping upsert")
		return nil
	}
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	n, err := ingest.NewClassifyPipeline(j.classifier, j.embedder, store, log).Index(ctx, classified)
	if err != nil {
		return fmt.Errorf("index emails (%d upserted): %w", n, err)
	}
	log.Info("upserted points", "count", n)
	return nil
}

func writeOutput(path string, recs []domain.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ingest.WriteRecords(f, recs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fatal(log *slog.Logger, msg string, err error, args ...any) {
	log.Error(msg, append([]any{"error", err}, args...)...)
	os.Exit(1)
}
