package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"mailrag/internal/app"
	"mailrag/internal/config"
	"mailrag/internal/digest"
	"mailrag/internal/generation"
	"mailrag/internal/journal"
	"mailrag/internal/rag"
	"mailrag/internal/review"
	"mailrag/internal/tui"
	"mailrag/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	var (
		input, cfgPath string
		k              int
	)
	flag.StringVar(&input, "input", "", "CSV with predictions (fecha, remitente, texto, etiqueta_predicha, confianza, id)")
	flag.IntVar(&k, "k", 5, "Number of emails retrieved per question (1-20)")
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional)")
	flag.Parse()
	if k < 1 || k > 20 {
		fmt.Fprintln(os.Stderr, "--k must be between 1 and 20")
		os.Exit(2)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	// the terminal belongs to the dashboard
	var logOut io.Writer = io.Discard
	if path := os.Getenv("LOG_FILE"); path != "" {
		lf, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
			os.Exit(1)
		}
		defer lf.Close()
		logOut = lf
	}
	log := app.NewLogger(cfg, logOut)
	slog.SetDefault(log)
	ctx := context.Background()

	deps := tui.Deps{TopK: k}
	if input != "" {
		tb, err := review.Load(input)
		if err != nil {
			fatal("load input", err)
		}
		deps.Table = tb
		deps.Summary = digest.NewFrequencyDigest().Summary(tb.Records(), 4)
	}

	store, err := vectorstore.Open(cfg.VectorStore)
	switch {
	case errors.Is(err, vectorstore.ErrDisabled):
		log.Warn("vector store disabled; questions and save-back to the index are unavailable")
	case err != nil:
		fatal("open vector store", err)
	default:
		embedder := app.NewEmbedder(cfg)
		lazy := vectorstore.NewLazy(store, embedder)
		deps.Store = lazy
		gen, err := generation.New(ctx, cfg.Generator, cfg.Seed)
		if err != nil {
			fatal("create generator", err)
		}
		deps.Asker = rag.NewAnswerer(embedder, lazy, gen, log)
	}

	j, err := journal.Open(ctx, cfg.Journal.Path)
	if err != nil {
		fatal("open journal", err)
	}
	defer j.Close()
	deps.Journal = j
	deps.History = j

	if _, err := tea.NewProgram(tui.New(deps), tea.WithAltScreen()).Run(); err != nil {
		log.Error("dashboard", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if deps.Table != nil && len(deps.Table.Pending()) > 0 {
		fmt.Fprintf(os.Stderr, "%d corrections were not saved\n", len(deps.Table.Pending()))
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
