package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// Label is one of the closed set of email intents.
type Label string

const (
	LabelComplaint  Label = "Queja"
	LabelRequest    Label = "Petición de servicio"
	LabelSuggestion Label = "Sugerencia de mejora"
	LabelNone       Label = ""
)

// ErrUnknownLabel is returned when a string is not a candidate label.
var ErrUnknownLabel = errors.New("unknown label")

// CandidateLabels returns the candidate labels in their canonical order.
func CandidateLabels() []Label {
	return []Label{LabelComplaint, LabelRequest, LabelSuggestion}
}

// ParseLabel accepts a candidate label or the empty string.
func ParseLabel(s string) (Label, error) {
	if s == "" {
		return LabelNone, nil
	}
	for _, l := range CandidateLabels() {
		if string(l) == s {
			return l, nil
		}
	}
	return LabelNone, fmt.Errorf("%w: %q", ErrUnknownLabel, s)
}

// Payload keys of an indexed email.
const (
	FieldDate       = "fecha"
	FieldSender     = "remitente"
	FieldText       = "texto"
	FieldLabel      = "etiqueta_predicha"
	FieldConfidence = "confianza"
	FieldID         = "id"
)

// Record is a single customer email.
type Record struct {
	Date       string
	Sender     string
	Text       string
	Label      Label
	Confidence float64
	ID         uint64
}

// Payload returns the metadata stored next to the record's vector.
func (r Record) Payload() map[string]any {
	var label any
	if r.Label != LabelNone {
		label = string(r.Label)
	}
	return map[string]any{
		FieldDate:       r.Date,
		FieldSender:     r.Sender,
		FieldText:       r.Text,
		FieldLabel:      label,
		FieldConfidence: r.Confidence,
	}
}

// Prediction is the classifier output for one text.
// Label is empty and Score is zero for texts that could not be classified.
type Prediction struct {
	Label  Label
	Score  float64
	Scores map[Label]float64
	Labels []Label
}

// Point is a vector with its id and payload.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]any
}

// Hit is a search result.
type Hit struct {
	ID      uint64
	Score   float64
	Payload map[string]any
}

func (h Hit) Sender() string { return payloadString(h.Payload, FieldSender) }
func (h Hit) Date() string   { return payloadString(h.Payload, FieldDate) }
func (h Hit) Text() string   { return payloadString(h.Payload, FieldText) }
func (h Hit) Label() string  { return payloadString(h.Payload, FieldLabel) }

func payloadString(p map[string]any, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}
