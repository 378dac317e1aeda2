package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LocalStoreConfig configures the embedded vector store. An empty path keeps it in memory.
type LocalStoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type       string           `yaml:"type" mapstructure:"type"`
	Collection string           `yaml:"collection" mapstructure:"collection"`
	Qdrant     QdrantConfig     `yaml:"qdrant" mapstructure:"qdrant"`
	Local      LocalStoreConfig `yaml:"local" mapstructure:"local"`
}

// EmbedderConfig configures the OpenAI-compatible embeddings endpoint.
type EmbedderConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	Model       string `yaml:"model" mapstructure:"model"`
	Dimension   int    `yaml:"dimension" mapstructure:"dimension"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ClassifierConfig configures the zero-shot classification service.
type ClassifierConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	Model       string `yaml:"model" mapstructure:"model"`
	Token       string `yaml:"token" mapstructure:"token"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OllamaConfig configures the local generation server.
type OllamaConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// GeminiConfig configures the Gemini generation backend.
type GeminiConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	Model  string `yaml:"model" mapstructure:"model"`
}

// GeneratorConfig selects and configures the answer generator.
type GeneratorConfig struct {
	Type   string       `yaml:"type" mapstructure:"type"`
	Ollama OllamaConfig `yaml:"ollama" mapstructure:"ollama"`
	Gemini GeminiConfig `yaml:"gemini" mapstructure:"gemini"`
}

// JournalConfig configures the correction journal database.
type JournalConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	VectorStore VectorStoreConfig `yaml:"vector_store" mapstructure:"vector_store"`
	Embedder    EmbedderConfig    `yaml:"embedder" mapstructure:"embedder"`
	Classifier  ClassifierConfig  `yaml:"classifier" mapstructure:"classifier"`
	Generator   GeneratorConfig   `yaml:"generator" mapstructure:"generator"`
	Journal     JournalConfig     `yaml:"journal" mapstructure:"journal"`
	Seed        int               `yaml:"seed" mapstructure:"seed"`
	LogLevel    string            `yaml:"log_level" mapstructure:"log_level"`
}

var defaults = map[string]any{
	"vector_store.type":                "qdrant",
	"vector_store.collection":          "emailclassification",
	"vector_store.qdrant.url":          "http://localhost:6333",
	"vector_store.qdrant.api_key":      "",
	"vector_store.qdrant.timeout_secs": 15,
	"vector_store.local.path":          "",
	"embedder.base_url":                "http://localhost:11434/v1",
	"embedder.api_key":                 "",
	"embedder.model":                   "sentence-transformers/paraphrase-multilingual-MiniLM-L12-v2",
	"embedder.dimension":               0,
	"embedder.batch_size":              32,
	"embedder.timeout_secs":            30,
	"classifier.url":                   "http://localhost:8080",
	"classifier.model":                 "MoritzLaurer/mDeBERTa-v3-base-mnli-xnli",
	"classifier.token":                 "",
	"classifier.timeout_secs":          60,
	"generator.type":                   "ollama",
	"generator.ollama.url":             "http://localhost:11434",
	"generator.ollama.model":           "llama3",
	"generator.ollama.timeout_secs":    120,
	"generator.gemini.api_key":         "",
	"generator.gemini.model":           "gemini-2.5-flash",
	"journal.path":                     "corrections.db",
	"seed":                             42,
	"log_level":                        "info",
}

// envKeys maps config keys to the environment variables that override them.
var envKeys = map[string]string{
	"vector_store.type":           "VECTOR_STORE",
	"vector_store.collection":     "QDRANT_COLLECTION",
	"vector_store.qdrant.url":     "QDRANT_URL",
	"vector_store.qdrant.api_key": "QDRANT_API_KEY",
	"vector_store.local.path":     "LOCAL_STORE_PATH",
	"embedder.base_url":           "EMBEDDING_URL",
	"embedder.api_key":            "OPENAI_API_KEY",
	"embedder.model":              "EMBEDDING_MODEL",
	"embedder.dimension":          "EMBEDDING_DIM",
	"classifier.url":              "CLASSIFIER_URL",
	"classifier.model":            "CLASSIFIER_MODEL",
	"classifier.token":            "HF_TOKEN",
	"generator.type":              "GENERATOR",
	"generator.ollama.url":        "OLLAMA_URL",
	"generator.ollama.model":      "OLLAMA_MODEL",
	"generator.gemini.api_key":    "GEMINI_API_KEY",
	"generator.gemini.model":      "GEMINI_MODEL",
	"journal.path":                "JOURNAL_PATH",
	"seed":                        "SEED",
	"log_level":                   "LOG_LEVEL",
}

// Load builds the configuration from defaults, an optional YAML file and the environment,
// in increasing order of precedence. A missing file is not an error.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for k, env := range envKeys {
		if err := v.BindEnv(k, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Redacted returns a copy with credentials masked.
func (c *AppConfig) Redacted() *AppConfig {
	out := *c
	out.VectorStore.Qdrant.APIKey = redact(out.VectorStore.Qdrant.APIKey)
	out.Embedder.APIKey = redact(out.Embedder.APIKey)
	out.Classifier.Token = redact(out.Classifier.Token)
	out.Generator.Gemini.APIKey = redact(out.Generator.Gemini.APIKey)
	return &out
}

// Validate reports settings that no component can work with.
func (c *AppConfig) Validate() error {
	switch c.VectorStore.Type {
	case "qdrant":
		if c.VectorStore.Qdrant.URL == "" {
			return errors.New("vector_store.qdrant.url is required")
		}
	case "local", "none":
	default:
		return fmt.Errorf("unknown vector store: %s", c.VectorStore.Type)
	}
	if c.VectorStore.Collection == "" {
		return errors.New("vector_store.collection is required")
	}
	switch c.Generator.Type {
	case "ollama", "gemini":
	default:
		return fmt.Errorf("unknown generator: %s", c.Generator.Type)
	}
	if c.Embedder.Dimension < 0 {
		return fmt.Errorf("embedder.dimension must not be negative: %d", c.Embedder.Dimension)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *AppConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *AppConfig) normalize() {
	c.VectorStore.Type = strings.ToLower(strings.TrimSpace(c.VectorStore.Type))
	c.Generator.Type = strings.ToLower(strings.TrimSpace(c.Generator.Type))
	c.VectorStore.Qdrant.URL = strings.TrimRight(c.VectorStore.Qdrant.URL, "/")
	c.Embedder.BaseURL = strings.TrimRight(c.Embedder.BaseURL, "/")
	c.Classifier.URL = strings.TrimRight(c.Classifier.URL, "/")
	c.Generator.Ollama.URL = strings.TrimRight(c.Generator.Ollama.URL, "/")
	if c.Embedder.BatchSize <= 0 {
		c.Embedder.BatchSize = 32
	}
}

func redact(s string) string {
	n := len(s)
	if n == 0 {
		return ""
	}
	if n <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[n-4:]
}
