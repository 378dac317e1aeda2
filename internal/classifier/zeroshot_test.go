package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrag/internal/domain"
)

type nliRequest struct {
	Inputs     string `json:"inputs"`
	Parameters struct {
		CandidateLabels    []string `json:"candidate_labels"`
		HypothesisTemplate string   `json:"hypothesis_template"`
		MultiLabel         bool     `json:"multi_label"`
	} `json:"parameters"`
}

// fakeNLI scores labels by keywords, deterministically, in the object shape unless
// listShape is set.
type fakeNLI struct {
	calls     atomic.Int32
	listShape bool
	status    int
	lastReq   nliRequest
	lastSeed  string
	lastPath  string
}

func (f *fakeNLI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if f.status != 0 {
		http.Error(w, `{"error":"Model is currently loading"}`, f.status)
		return
	}
	f.lastPath = r.URL.Path
	f.lastSeed = r.Header.Get("X-Seed")
	var req nliRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.lastReq = req

	text := strings.ToLower(req.Inputs)
	raw := map[string]float64{"Queja": 1, "Petición de servicio": 1, "Sugerencia de mejora": 1}
	switch {
	case strings.Contains(text, "quej"):
		raw["Queja"] = 8
	case strings.Contains(text, "suger") || strings.Contains(text, "mejor"):
		raw["Sugerencia de mejora"] = 6
	case strings.Contains(text, "solicit") || strings.Contains(text, "alta"):
		raw["Petición de servicio"] = 5
	}
	// deliberately unnormalised and unordered
	labels := []string{"Sugerencia de mejora", "Queja", "Petición de servicio"}
	w.Header().Set("Content-Type", "application/json")
	if f.listShape {
		items := make([]map[string]any, 0, len(labels))
		for _, l := range labels {
			items = append(items, map[string]any{"label": l, "score": raw[l]})
		}
		_ = json.NewEncoder(w).Encode([][]map[string]any{items})
		return
	}
	scores := make([]float64, len(labels))
	for i, l := range labels {
		scores[i] = raw[l]
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"sequence": req.Inputs, "labels": labels, "scores": scores})
}

func newTestClient(t *testing.T, f *fakeNLI) *Client {
	t.Helper()
	ts := httptest.NewServer(f)
	t.Cleanup(ts.Close)
	c, err := New(context.Background(), Config{URL: ts.URL, Model: "org/nli-model", Seed: 42})
	require.NoError(t, err)
	return c
}

func TestNew_FailsWhenModelUnavailable(t *testing.T) {
	ts := httptest.NewServer(&fakeNLI{status: http.StatusServiceUnavailable})
	defer ts.Close()

	_, err := New(context.Background(), Config{URL: ts.URL, Model: "org/nli-model"})
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestClassify_ComplaintScenario(t *testing.T) {
	f := &fakeNLI{}
	c := newTestClient(t, f)

	preds, err := c.Classify(context.Background(), []string{"Quiero quejarme del servicio"})
	require.NoError(t, err)
	require.Len(t, preds, 1)

	p := preds[0]
	assert.Equal(t, domain.LabelComplaint, p.Label)
	assert.Greater(t, p.Score, 0.5)
	assert.Equal(t, "/models/org/nli-model", f.lastPath)
	assert.Equal(t, "42", f.lastSeed)
	assert.Equal(t, HypothesisTemplate, f.lastReq.Parameters.HypothesisTemplate)
	assert.False(t, f.lastReq.Parameters.MultiLabel)
	assert.Equal(t, []string{"Queja", "Petición de servicio", "Sugerencia de mejora"}, f.lastReq.Parameters.CandidateLabels)
}

func TestClassify_ScoresSumToOneAndTopIsArgmax(t *testing.T) {
	for _, listShape := range []bool{false, true} {
		c := newTestClient(t, &fakeNLI{listShape: listShape})
		preds, err := c.Classify(context.Background(), []string{
			"Quiero quejarme del servicio",
			"Sugiero mejorar la app",
			"Solicito el alta de la línea",
			"Buenos días",
		})
		require.NoError(t, err)

		for _, p := range preds {
			var sum, best float64
			for _, s := range p.Scores {
				sum += s
				if s > best {
					best = s
				}
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
			assert.Equal(t, best, p.Score)
			assert.Equal(t, p.Scores[p.Label], p.Score)
			assert.Len(t, p.Labels, 3)
			assert.Equal(t, p.Label, p.Labels[0])
		}
		assert.Equal(t, domain.LabelSuggestion, preds[1].Label)
		assert.Equal(t, domain.LabelRequest, preds[2].Label)
		// all-equal scores keep candidate order
		assert.Equal(t, domain.CandidateLabels(), preds[3].Labels)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := newTestClient(t, &fakeNLI{})
	texts := []string{"Quiero quejarme del servicio", "Sugiero mejorar la web"}

	first, err := c.Classify(context.Background(), texts)
	require.NoError(t, err)
	second, err := c.Classify(context.Background(), texts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClassify_BlankTextShortCircuits(t *testing.T) {
	f := &fakeNLI{}
	c := newTestClient(t, f)
	before := f.calls.Load()

	preds, err := c.Classify(context.Background(), []string{"", "   \n"})
	require.NoError(t, err)
	assert.Equal(t, before, f.calls.Load())
	for _, p := range preds {
		assert.Equal(t, domain.LabelNone, p.Label)
		assert.Zero(t, p.Score)
		assert.Empty(t, p.Scores)
		assert.Equal(t, domain.CandidateLabels(), p.Labels)
	}
}

func TestParseScores_RejectsGarbage(t *testing.T) {
	_, err := parseScores([]byte(`not json`))
	assert.ErrorIs(t, err, ErrBadResponse)
	_, err = parseScores([]byte(`{"labels":["Queja"],"scores":[]}`))
	assert.ErrorIs(t, err, ErrBadResponse)
	_, err = parseScores([]byte(`{"error":"boom"}`))
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestRank_RejectsUnknownLabels(t *testing.T) {
	c := newClient(Config{})
	_, err := c.rank(map[string]float64{"Queja": 0.5, "Spam": 0.5})
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestRank_FillsMissingCandidates(t *testing.T) {
	c := newClient(Config{})
	p, err := c.rank(map[string]float64{"Queja": 0.2, "Sugerencia de mejora": 0.6})
	require.NoError(t, err)
	assert.Equal(t, domain.LabelSuggestion, p.Label)
	assert.InDelta(t, 0.75, p.Score, 1e-9)
	assert.Zero(t, p.Scores[domain.LabelRequest])
	assert.Equal(t, []domain.Label{domain.LabelSuggestion, domain.LabelComplaint, domain.LabelRequest}, p.Labels)
}
