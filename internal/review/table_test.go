package review

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrag/internal/domain"
	"mailrag/internal/ingest"
	"mailrag/internal/journal"
)

func sample() []domain.Record {
	return []domain.Record{
		{Date: "2023-01-05", Sender: "ana@x.com", Text: "Sin internet", Label: domain.LabelComplaint, Confidence: 0.9, ID: 1},
		{Date: "2020-06-01", Sender: "luis@x.com", Text: "Alta de fibra", Label: domain.LabelRequest, Confidence: 0.6, ID: 2},
		{Date: "05/02/2024 10:30", Sender: "eva@x.com", Text: "Mejorar la app", Label: domain.LabelSuggestion, Confidence: 0.4, ID: 3},
		{Date: "mañana", Sender: "raro@x.com", Text: "???", Label: domain.LabelNone, Confidence: 0, ID: 4},
	}
}

func indexes(rows []Row) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.Index
	}
	return out
}

func TestRows_Filters(t *testing.T) {
	tb := NewTable("emails.csv", sample())

	assert.Equal(t, []int{0, 2}, indexes(tb.Rows(DefaultFilter())))
	assert.Equal(t, []int{0, 1, 2, 3}, indexes(tb.Rows(Filter{})))
	assert.Equal(t, []int{0, 1}, indexes(tb.Rows(Filter{MinConfidence: 0.5})))
	assert.Equal(t, []int{1}, indexes(tb.Rows(Filter{Label: domain.LabelRequest})))

	f := Filter{From: time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, []int{2}, indexes(tb.Rows(f)), "bounds are inclusive by day")
}

func TestParseDate(t *testing.T) {
	d, ok := ParseDate("2023-01-05T10:00:00Z")
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), d)

	d, ok = ParseDate("02/01/2024")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), d, "slash dates are day-first")

	_, ok = ParseDate("ayer")
	assert.False(t, ok)
}

func TestLabels(t *testing.T) {
	tb := NewTable("", sample())
	assert.Equal(t, []domain.Label{domain.LabelRequest, domain.LabelComplaint, domain.LabelSuggestion}, tb.Labels())
}

func TestCorrect(t *testing.T) {
	tb := NewTable("", sample())

	require.NoError(t, tb.Correct(0, domain.LabelRequest))
	assert.Equal(t, domain.LabelRequest, tb.Records()[0].Label)
	assert.Equal(t, []Correction{{Row: 0, PointID: 1, Previous: domain.LabelComplaint, Label: domain.LabelRequest}}, tb.Pending())

	require.NoError(t, tb.Correct(0, domain.LabelSuggestion))
	require.Len(t, tb.Pending(), 1)
	assert.Equal(t, domain.LabelSuggestion, tb.Pending()[0].Label)

	require.NoError(t, tb.Correct(0, domain.LabelComplaint))
	assert.Empty(t, tb.Pending())

	require.NoError(t, tb.Correct(1, domain.LabelRequest))
	assert.Empty(t, tb.Pending())

	assert.ErrorIs(t, tb.Correct(9, domain.LabelComplaint), ErrRowOutOfRange)
	assert.ErrorIs(t, tb.Correct(-1, domain.LabelComplaint), ErrRowOutOfRange)
	assert.ErrorIs(t, tb.Correct(0, "Spam"), domain.ErrUnknownLabel)
	assert.ErrorIs(t, tb.Correct(0, domain.LabelNone), domain.ErrUnknownLabel)
	assert.Equal(t, domain.LabelComplaint, tb.Records()[0].Label)
}

func TestExportReflectsCorrections(t *testing.T) {
	tb := NewTable("", sample())
	require.NoError(t, tb.Correct(3, domain.LabelComplaint))

	var buf bytes.Buffer
	require.NoError(t, tb.Export(&buf))
	recs, err := ingest.ReadClassified(&buf, ingest.OutputDelimiter)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, domain.LabelComplaint, recs[3].Label)
	assert.Equal(t, uint64(4), recs[3].ID)
}

func TestLoadAndExportFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(in, []byte("fecha,remitente,texto,etiqueta_predicha,confianza,id\n2023-01-05,ana@x.com,Hola,Queja,0.8,11\n"), 0o644))

	tb, err := Load(in)
	require.NoError(t, err)
	assert.Equal(t, 1, tb.Len())
	assert.Equal(t, in, tb.Source())

	out := filepath.Join(dir, "out.csv")
	require.NoError(t, tb.ExportFile(out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2023-01-05,ana@x.com,Hola,Queja,0.8,11")

	_, err = Load(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

type payloadStore struct {
	domain.VectorStore
	payloads map[uint64]map[string]any
	failOn   uint64
}

func (s *payloadStore) SetPayload(ctx context.Context, id uint64, payload map[string]any) error {
	if id == s.failOn {
		return errors.New("qdrant down")
	}
	p, ok := s.payloads[id]
	if !ok {
		return domain.ErrPointNotFound
	}
	for k, v := range payload {
		p[k] = v
	}
	return nil
}

type memLog struct{ got []journal.Correction }

func (m *memLog) Append(ctx context.Context, cs ...journal.Correction) error {
	m.got = append(m.got, cs...)
	return nil
}

func TestSaveBack(t *testing.T) {
	tb := NewTable("emails.csv", sample())
	store := &payloadStore{payloads: map[uint64]map[string]any{1: {domain.FieldLabel: "Queja"}}}
	log := &memLog{}

	require.NoError(t, tb.Correct(0, domain.LabelSuggestion))
	require.NoError(t, tb.Correct(3, domain.LabelRequest))

	res, err := tb.SaveBack(context.Background(), store, log)
	require.NoError(t, err)
	assert.Equal(t, SaveResult{Updated: 1, NotIndexed: 1}, res)
	assert.Equal(t, "Sugerencia de mejora", store.payloads[1][domain.FieldLabel])
	assert.Empty(t, tb.Pending())

	require.Len(t, log.got, 2)
	assert.Equal(t, uint64(1), log.got[0].PointID)
	assert.Equal(t, domain.LabelComplaint, log.got[0].PreviousLabel)
	assert.Equal(t, domain.LabelSuggestion, log.got[0].NewLabel)
	assert.Equal(t, "emails.csv", log.got[0].Source)
	assert.Equal(t, domain.LabelNone, log.got[1].PreviousLabel)
}

func TestSaveBack_StopsAtStoreError(t *testing.T) {
	tb := NewTable("", sample())
	store := &payloadStore{payloads: map[uint64]map[string]any{1: {}, 2: {}, 3: {}}, failOn: 2}
	log := &memLog{}

	require.NoError(t, tb.Correct(0, domain.LabelRequest))
	require.NoError(t, tb.Correct(1, domain.LabelComplaint))
	require.NoError(t, tb.Correct(2, domain.LabelComplaint))

	res, err := tb.SaveBack(context.Background(), store, log)
	require.Error(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Len(t, log.got, 1)
	require.Len(t, tb.Pending(), 2)
	assert.Equal(t, 1, tb.Pending()[0].Row)
}

func TestSaveBack_WithoutStore(t *testing.T) {
	tb := NewTable("", sample())
	log := &memLog{}
	require.NoError(t, tb.Correct(0, domain.LabelRequest))

	res, err := tb.SaveBack(context.Background(), nil, log)
	require.NoError(t, err)
	assert.Equal(t, SaveResult{}, res)
	assert.Len(t, log.got, 1)
	assert.Empty(t, tb.Pending())
}

type blockingStore struct {
	domain.VectorStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) SetPayload(ctx context.Context, id uint64, payload map[string]any) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func TestSaveBack_CorrectionsDuringSave(t *testing.T) {
	tb := NewTable("", sample())
	store := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}

	require.NoError(t, tb.Correct(0, domain.LabelSuggestion))

	type result struct {
		res SaveResult
		err error
	}
	out := make(chan result, 1)
	go func() {
		res, err := tb.SaveBack(context.Background(), store, &memLog{})
		out <- result{res, err}
	}()

	<-store.entered
	require.NoError(t, tb.Correct(0, domain.LabelComplaint), "undo while the save is in flight")
	require.NoError(t, tb.Correct(1, domain.LabelComplaint))
	close(store.release)

	r := <-out
	require.NoError(t, r.err)
	assert.Equal(t, 1, r.res.Updated)
	assert.Equal(t, []Correction{
		{Row: 1, PointID: 2, Previous: domain.LabelRequest, Label: domain.LabelComplaint},
		{Row: 0, PointID: 1, Previous: domain.LabelSuggestion, Label: domain.LabelComplaint},
	}, tb.Pending())
}

func TestSaveBack_RelabelDuringSave(t *testing.T) {
	tb := NewTable("", sample())
	store := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}

	require.NoError(t, tb.Correct(0, domain.LabelSuggestion))

	errc := make(chan error, 1)
	go func() {
		_, err := tb.SaveBack(context.Background(), store, nil)
		errc <- err
	}()

	<-store.entered
	require.NoError(t, tb.Correct(0, domain.LabelRequest))
	close(store.release)
	require.NoError(t, <-errc)

	assert.Equal(t, []Correction{
		{Row: 0, PointID: 1, Previous: domain.LabelSuggestion, Label: domain.LabelRequest},
	}, tb.Pending())
}
