// Package ollama talks to a local Ollama server through its streaming generate endpoint.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrGeneration is returned when the server reports a failure in the stream.
var ErrGeneration = errors.New("ollama generation failed")

type Config struct {
	URL     string
	Model   string
	Seed    int
	Timeout time.Duration
}

// Client calls POST {url}/api/generate and joins the streamed fragments.
type Client struct {
	url    string
	model  string
	seed   int
	client *http.Client
}

func New(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		url:    strings.TrimRight(cfg.URL, "/"),
		model:  cfg.Model,
		seed:   cfg.Seed,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return "Ollama" }

// Generate streams a completion and returns the concatenated, trimmed text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":   c.model,
		"prompt":  prompt,
		"options": map[string]any{"seed": c.seed},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := gjson.GetBytes(b, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(b))
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrGeneration, resp.StatusCode, msg)
	}

	var sb strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return "", fmt.Errorf("%w: malformed stream line %q", ErrGeneration, line)
		}
		if e := gjson.GetBytes(line, "error"); e.Exists() {
			return "", fmt.Errorf("%w: %s", ErrGeneration, e.String())
		}
		sb.WriteString(gjson.GetBytes(line, "response").String())
		if gjson.GetBytes(line, "done").Bool() {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}
