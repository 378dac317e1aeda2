// Package classifier assigns intent labels to emails with a zero-shot NLI model
// served over HTTP in the Hugging Face inference format.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"mailrag/internal/domain"
	"mailrag/internal/textnorm"
)

// HypothesisTemplate is the NLI hypothesis each candidate label is substituted into.
const HypothesisTemplate = "El propósito de este texto es expresar una {}."

var (
	// ErrModelUnavailable means the model could not be loaded at startup.
	ErrModelUnavailable = errors.New("classification model unavailable")
	// ErrBadResponse means the service answered with something that is not a ranking.
	ErrBadResponse = errors.New("unexpected classifier response")
)

// Config configures the zero-shot classification service.
type Config struct {
	URL     string
	Model   string
	Token   string
	Seed    int
	Timeout time.Duration
}

// Client classifies texts against the fixed candidate label set.
type Client struct {
	cfg    Config
	labels []domain.Label
	client *http.Client
}

// New creates a client and loads the model with a probe request. A load failure
// wraps ErrModelUnavailable and must stop the process.
func New(ctx context.Context, cfg Config) (*Client, error) {
	c := newClient(cfg)
	if _, err := c.classifyOne(ctx, "Hola, quería hacer una consulta."); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, c.cfg.Model, err)
	}
	return c, nil
}

func newClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:8080"
	}
	if cfg.Model == "" {
		cfg.Model = "MoritzLaurer/mDeBERTa-v3-base-mnli-xnli"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		labels: domain.CandidateLabels(),
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Classify returns one prediction per text. Blank texts get a null prediction
// without calling the model.
func (c *Client) Classify(ctx context.Context, texts []string) ([]domain.Prediction, error) {
	preds := make([]domain.Prediction, 0, len(texts))
	for i, t := range texts {
		if textnorm.IsBlank(t) {
			preds = append(preds, NullPrediction())
			continue
		}
		p, err := c.classifyOne(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("classify text %d: %w", i, err)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// NullPrediction is the result for texts that cannot be classified.
func NullPrediction() domain.Prediction {
	return domain.Prediction{
		Label:  domain.LabelNone,
		Score:  0,
		Scores: map[domain.Label]float64{},
		Labels: domain.CandidateLabels(),
	}
}

func (c *Client) classifyOne(ctx context.Context, text string) (domain.Prediction, error) {
	candidates := make([]string, len(c.labels))
	for i, l := range c.labels {
		candidates[i] = string(l)
	}
	body := map[string]any{
		"inputs": text,
		"parameters": map[string]any{
			"candidate_labels":    candidates,
			"hypothesis_template": HypothesisTemplate,
			"multi_label":         false,
		},
		"options": map[string]any{
			"wait_for_model": true,
			"use_cache":      true,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return domain.Prediction{}, err
	}
	url := fmt.Sprintf("%s/models/%s", c.cfg.URL, c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return domain.Prediction{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Seed", strconv.Itoa(c.cfg.Seed))
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Prediction{}, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Prediction{}, err
	}
	if resp.StatusCode >= 300 {
		return domain.Prediction{}, fmt.Errorf("classifier POST %s failed: %s: %s", url, resp.Status, snippet(payload))
	}
	raw, err := parseScores(payload)
	if err != nil {
		return domain.Prediction{}, err
	}
	return c.rank(raw)
}

// parseScores accepts {"labels": [...], "scores": [...]} and [{"label": .., "score": ..}].
func parseScores(payload []byte) (map[string]float64, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrBadResponse)
	}
	root := gjson.ParseBytes(payload)
	out := make(map[string]float64)
	switch {
	case root.IsArray():
		items := root.Array()
		if len(items) > 0 && items[0].IsArray() {
			items = items[0].Array()
		}
		for _, it := range items {
			label, score := it.Get("label"), it.Get("score")
			if !label.Exists() || !score.Exists() {
				return nil, fmt.Errorf("%w: item without label or score", ErrBadResponse)
			}
			out[label.String()] = score.Float()
		}
	case root.Get("labels").IsArray():
		labels, scores := root.Get("labels").Array(), root.Get("scores").Array()
		if len(labels) != len(scores) {
			return nil, fmt.Errorf("%w: %d labels, %d scores", ErrBadResponse, len(labels), len(scores))
		}
		for i := range labels {
			out[labels[i].String()] = scores[i].Float()
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrBadResponse, snippet(payload))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty ranking", ErrBadResponse)
	}
	return out, nil
}

// rank renormalises the scores over the candidates and orders labels by score,
// ties keeping candidate order.
func (c *Client) rank(raw map[string]float64) (domain.Prediction, error) {
	scores := make(map[domain.Label]float64, len(c.labels))
	known := 0
	var sum float64
	for _, l := range c.labels {
		s, ok := raw[string(l)]
		if ok {
			known++
		}
		if s < 0 {
			s = 0
		}
		scores[l] = s
		sum += s
	}
	if known != len(raw) {
		return domain.Prediction{}, fmt.Errorf("%w: labels outside the candidate set", ErrBadResponse)
	}
	if sum <= 0 {
		return domain.Prediction{}, fmt.Errorf("%w: scores sum to zero", ErrBadResponse)
	}
	for l := range scores {
		scores[l] /= sum
	}
	labels := append([]domain.Label(nil), c.labels...)
	sort.SliceStable(labels, func(i, j int) bool { return scores[labels[i]] > scores[labels[j]] })
	return domain.Prediction{
		Label:  labels[0],
		Score:  scores[labels[0]],
		Scores: scores,
		Labels: labels,
	}, nil
}

func snippet(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
