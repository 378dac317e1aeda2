package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"mailrag/internal/domain"
)

// Delimiters of the files the CLIs read.
const (
	InputDelimiter  = ';'
	OutputDelimiter = ','
)

// ErrMissingColumn is returned when a required column is absent from the header.
var ErrMissingColumn = errors.New("missing column")

// columnRenames maps the column names of exported mailboxes to the record fields.
var columnRenames = map[string]string{
	"Fecha":       domain.FieldDate,
	"Email":       domain.FieldSender,
	"Descripción": domain.FieldText,
}

// OutputColumns is the column order of classified CSV files.
var OutputColumns = []string{
	domain.FieldDate,
	domain.FieldSender,
	domain.FieldText,
	domain.FieldLabel,
	domain.FieldConfidence,
	domain.FieldID,
}

// Sheet is a decoded CSV file: a header and rows padded to the header width.
type Sheet struct {
	Columns []string
	Rows    [][]string
}

// Index returns the position of a column, or -1.
func (s Sheet) Index(col string) int {
	for i, c := range s.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

func (s Sheet) require(cols ...string) (map[string]int, error) {
	idx := make(map[string]int, len(cols))
	for _, c := range cols {
		i := s.Index(c)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
		idx[c] = i
	}
	return idx, nil
}

// ReadSheet decodes a CSV file. A UTF-8 byte order mark is dropped and the known
// mailbox export headers are renamed to record field names.
func ReadSheet(r io.Reader, delim rune) (Sheet, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	header, err := cr.Read()
	if err == io.EOF {
		return Sheet{}, errors.New("empty csv")
	}
	if err != nil {
		return Sheet{}, fmt.Errorf("read header: %w", err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.TrimSpace(h)
		if renamed, ok := columnRenames[h]; ok {
			h = renamed
		}
		cols[i] = h
	}
	sheet := Sheet{Columns: cols}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Sheet{}, fmt.Errorf("read row %d: %w", len(sheet.Rows)+1, err)
		}
		row := make([]string, len(cols))
		copy(row, rec)
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

// ReadInput reads raw emails with date, sender and text columns.
func ReadInput(r io.Reader, delim rune) ([]domain.Record, error) {
	sheet, err := ReadSheet(r, delim)
	if err != nil {
		return nil, err
	}
	idx, err := sheet.require(domain.FieldDate, domain.FieldSender, domain.FieldText)
	if err != nil {
		return nil, err
	}
	recs := make([]domain.Record, len(sheet.Rows))
	for i, row := range sheet.Rows {
		recs[i] = domain.Record{
			Date:   row[idx[domain.FieldDate]],
			Sender: row[idx[domain.FieldSender]],
			Text:   row[idx[domain.FieldText]],
		}
	}
	return recs, nil
}

// ReadClassified reads a file written by WriteRecords. Missing ids are derived
// with RecordID; label and confidence columns are optional.
func ReadClassified(r io.Reader, delim rune) ([]domain.Record, error) {
	sheet, err := ReadSheet(r, delim)
	if err != nil {
		return nil, err
	}
	idx, err := sheet.require(domain.FieldDate, domain.FieldSender, domain.FieldText)
	if err != nil {
		return nil, err
	}
	labelCol := sheet.Index(domain.FieldLabel)
	confCol := sheet.Index(domain.FieldConfidence)
	idCol := sheet.Index(domain.FieldID)

	recs := make([]domain.Record, len(sheet.Rows))
	for i, row := range sheet.Rows {
		rec := domain.Record{
			Date:   row[idx[domain.FieldDate]],
			Sender: row[idx[domain.FieldSender]],
			Text:   row[idx[domain.FieldText]],
		}
		if labelCol >= 0 {
			if rec.Label, err = domain.ParseLabel(strings.TrimSpace(row[labelCol])); err != nil {
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
		}
		if confCol >= 0 && strings.TrimSpace(row[confCol]) != "" {
			if rec.Confidence, err = strconv.ParseFloat(strings.TrimSpace(row[confCol]), 64); err != nil {
				return nil, fmt.Errorf("row %d: confianza: %w", i+1, err)
			}
		}
		if idCol >= 0 && strings.TrimSpace(row[idCol]) != "" {
			if rec.ID, err = ParseID(row[idCol]); err != nil {
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
		} else {
			rec.ID = RecordID(rec.Sender, rec.Date, rec.Text)
		}
		recs[i] = rec
	}
	return recs, nil
}

// WriteRecords writes classified records in OutputColumns order.
func WriteRecords(w io.Writer, recs []domain.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(OutputColumns); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			r.Date,
			r.Sender,
			r.Text,
			string(r.Label),
			strconv.FormatFloat(r.Confidence, 'f', -1, 64),
			strconv.FormatUint(r.ID, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseID reads a point id. Integral floats such as "12.0" are accepted.
func ParseID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseUint(s, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != float64(uint64(f)) {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint64(f), nil
}

// InferValue converts a cell to int64, float64, nil for empty cells, or keeps the string.
func InferValue(cell string) any {
	v := strings.TrimSpace(cell)
	if v == "" {
		return nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return cell
}
