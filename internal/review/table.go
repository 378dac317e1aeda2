// Package review is the edit buffer behind the review dashboard: it filters
// classified emails, records label corrections and writes them back.
package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"mailrag/internal/domain"
	"mailrag/internal/ingest"
	"mailrag/internal/journal"
)

var ErrRowOutOfRange = errors.New("row out of range")

// Row is a record with its position in the table.
type Row struct {
	Index int
	domain.Record
}

// Filter selects rows. Zero values disable a bound; an empty Label matches all labels.
type Filter struct {
	Label         domain.Label
	From, To      time.Time
	MinConfidence float64
}

// DefaultFilter spans every label and the dashboard's default date range.
func DefaultFilter() Filter {
	return Filter{
		From: time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

// Match reports whether r passes the filter. Dates are compared by calendar day;
// a row whose date cannot be parsed fails any date bound.
func (f Filter) Match(r domain.Record) bool {
	if r.Confidence < f.MinConfidence {
		return false
	}
	if f.Label != domain.LabelNone && r.Label != f.Label {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	d, ok := ParseDate(r.Date)
	if !ok {
		return false
	}
	if !f.From.IsZero() && d.Before(day(f.From)) {
		return false
	}
	if !f.To.IsZero() && d.After(day(f.To)) {
		return false
	}
	return true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"02/01/2006",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	"02-01-2006",
	"2/1/2006",
}

// ParseDate reads a date in the common formats of mailbox exports and returns its day.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return day(t), true
		}
	}
	return time.Time{}, false
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Correction is a label change not yet written back.
type Correction struct {
	Row      int
	PointID  uint64
	Previous domain.Label
	Label    domain.Label
}

// Table holds the records under review in memory. It is safe for concurrent
// use, so a save can run while the dashboard keeps reading.
type Table struct {
	source string

	mu      sync.Mutex
	records []domain.Record
	pending []Correction
}

func NewTable(source string, recs []domain.Record) *Table {
	return &Table{source: source, records: recs}
}

// Load reads a classified CSV file.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := ingest.ReadClassified(f, ingest.OutputDelimiter)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return NewTable(path, recs), nil
}

func (t *Table) Source() string { return t.source }

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Records returns a copy of the current records.
func (t *Table) Records() []domain.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Record(nil), t.records...)
}

// Rows returns the rows that pass f, in table order.
func (t *Table) Rows(f Filter) []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Row
	for i, r := range t.records {
		if f.Match(r) {
			out = append(out, Row{Index: i, Record: r})
		}
	}
	return out
}

// Labels returns the distinct labels present, sorted.
func (t *Table) Labels() []domain.Label {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := map[domain.Label]struct{}{}
	for _, r := range t.records {
		if r.Label != domain.LabelNone {
			seen[r.Label] = struct{}{}
		}
	}
	out := make([]domain.Label, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Correct sets the label of a row in memory and queues the change.
// Only candidate labels are accepted. Setting a row back to its original
// label drops the queued change.
func (t *Table) Correct(row int, label domain.Label) error {
	if _, err := domain.ParseLabel(string(label)); err != nil {
		return err
	}
	if label == domain.LabelNone {
		return fmt.Errorf("%w: empty", domain.ErrUnknownLabel)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if row < 0 || row >= len(t.records) {
		return fmt.Errorf("%w: %d of %d", ErrRowOutOfRange, row, len(t.records))
	}
	rec := &t.records[row]
	if rec.Label == label {
		return nil
	}
	for i, c := range t.pending {
		if c.Row != row {
			continue
		}
		rec.Label = label
		if c.Previous == label {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
		} else {
			t.pending[i].Label = label
		}
		return nil
	}
	t.pending = append(t.pending, Correction{Row: row, PointID: rec.ID, Previous: rec.Label, Label: label})
	rec.Label = label
	return nil
}

// Pending returns the queued corrections in the order they were made.
func (t *Table) Pending() []Correction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Correction(nil), t.pending...)
}

// Export writes every record with its current label as CSV.
func (t *Table) Export(w io.Writer) error {
	return ingest.WriteRecords(w, t.Records())
}

// ExportFile writes the table to path.
func (t *Table) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.Export(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// CorrectionLog is where written-back corrections are recorded.
type CorrectionLog interface {
	Append(ctx context.Context, cs ...journal.Correction) error
}

// SaveResult counts the outcome of a SaveBack.
type SaveResult struct {
	Updated    int
	NotIndexed int
}

// SaveBack writes queued corrections to the vector store payloads and the log,
// then clears them. A nil store or log is skipped. Points missing from the store
// are counted and still logged. On a store error the corrections written so far
// are logged and the rest stay queued. Corrections made while the save runs are
// kept queued.
func (t *Table) SaveBack(ctx context.Context, store domain.VectorStore, log CorrectionLog) (SaveResult, error) {
	var (
		res   SaveResult
		saved []Correction
		done  []journal.Correction
		err   error
	)
	for _, c := range t.Pending() {
		if store != nil {
			serr := store.SetPayload(ctx, c.PointID, map[string]any{domain.FieldLabel: string(c.Label)})
			switch {
			case serr == nil:
				res.Updated++
			case errors.Is(serr, domain.ErrPointNotFound):
				res.NotIndexed++
			default:
				err = fmt.Errorf("update point %d: %w", c.PointID, serr)
			}
			if err != nil {
				break
			}
		}
		saved = append(saved, c)
		done = append(done, journal.Correction{
			PointID:       c.PointID,
			PreviousLabel: c.Previous,
			NewLabel:      c.Label,
			CorrectedAt:   time.Now(),
			Source:        t.source,
		})
	}
	t.settle(saved)
	if log != nil && len(done) > 0 {
		if lerr := log.Append(ctx, done...); lerr != nil {
			return res, errors.Join(err, fmt.Errorf("journal corrections: %w", lerr))
		}
	}
	return res, err
}

// settle drops saved corrections from the queue. A row changed again during
// the save stays queued with the saved label as its previous one.
func (t *Table) settle(saved []Correction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range saved {
		i := slices.IndexFunc(t.pending, func(c Correction) bool { return c.Row == s.Row })
		switch {
		case i < 0:
			if cur := t.records[s.Row].Label; cur != s.Label {
				t.pending = append(t.pending, Correction{Row: s.Row, PointID: s.PointID, Previous: s.Label, Label: cur})
			}
		case t.pending[i].Label == s.Label:
			t.pending = slices.Delete(t.pending, i, i+1)
		default:
			t.pending[i].Previous = s.Label
		}
	}
}
