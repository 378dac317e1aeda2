package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"mailrag/internal/app"
	"mailrag/internal/config"
	"mailrag/internal/ingest"
	"mailrag/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	var input, cfgPath string
	flag.StringVar(&input, "input", "", "CSV (,) with at least the columns id and texto")
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional)")
	flag.Parse()
	if input == "" {
		fmt.Fprintln(os.Stderr, "Usage: ingest --input emails.csv [--config config.yaml]")
		os.Exit(2)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := app.NewLogger(cfg, os.Stderr)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	f, err := os.Open(input)
	if err != nil {
		fatal(log, "open input", err)
	}
	sheet, err := ingest.ReadSheet(f, ingest.OutputDelimiter)
	f.Close()
	if err != nil {
		fatal(log, "read input", err, "path", input)
	}

	store, err := vectorstore.Open(cfg.VectorStore)
	if err != nil {
		fatal(log, "open vector store", err)
	}
	n, err := ingest.NewDirectPipeline(app.NewEmbedder(cfg), store, log).Run(ctx, sheet)
	if err != nil {
		fatal(log, "ingest", err, "indexed", n)
	}
	log.Info("ingested points", "count", n, "collection", cfg.VectorStore.Collection)
}

func fatal(log *slog.Logger, msg string, err error, args ...any) {
	log.Error(msg, append([]any{"error", err}, args...)...)
	os.Exit(1)
}
