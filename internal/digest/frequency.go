// Package digest summarises a set of emails by their most frequent terms.
package digest

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"mailrag/internal/domain"
	"mailrag/internal/textnorm"
)

// Term is a word with its weight.
type Term struct {
	Word  string
	Count int
}

// FrequencyDigest ranks terms by document frequency with Spanish stopwords filtered.
type FrequencyDigest struct {
	stopwords map[string]struct{}
	minLen    int
}

// NewFrequencyDigest creates a frequency-based term digest.
func NewFrequencyDigest() *FrequencyDigest {
	return &FrequencyDigest{stopwords: defaultStopwords(), minLen: 3}
}

// TopTerms returns up to n terms ordered by the number of texts containing them,
// ties broken alphabetically.
func (d *FrequencyDigest) TopTerms(texts []string, n int) []Term {
	if n <= 0 {
		n = 5
	}
	freq := map[string]int{}
	for _, t := range texts {
		for w := range textnorm.WordSet(t) {
			if d.skip(w) {
				continue
			}
			freq[w]++
		}
	}
	terms := make([]Term, 0, len(freq))
	for w, c := range freq {
		terms = append(terms, Term{Word: w, Count: c})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Word < terms[j].Word
	})
	if n < len(terms) {
		terms = terms[:n]
	}
	return terms
}

// ByLabel computes TopTerms for each label present in recs.
func (d *FrequencyDigest) ByLabel(recs []domain.Record, n int) map[domain.Label][]Term {
	texts := map[domain.Label][]string{}
	for _, r := range recs {
		texts[r.Label] = append(texts[r.Label], r.Text)
	}
	out := make(map[domain.Label][]Term, len(texts))
	for l, ts := range texts {
		out[l] = d.TopTerms(ts, n)
	}
	return out
}

// Summary renders one line per candidate label, e.g. "Queja (12): internet, factura".
func (d *FrequencyDigest) Summary(recs []domain.Record, n int) string {
	counts := map[domain.Label]int{}
	for _, r := range recs {
		counts[r.Label]++
	}
	byLabel := d.ByLabel(recs, n)
	var lines []string
	for _, l := range domain.CandidateLabels() {
		if counts[l] == 0 {
			continue
		}
		words := make([]string, len(byLabel[l]))
		for i, t := range byLabel[l] {
			words[i] = t.Word
		}
		lines = append(lines, fmt.Sprintf("%s (%d): %s", l, counts[l], strings.Join(words, ", ")))
	}
	if counts[domain.LabelNone] > 0 {
		lines = append(lines, fmt.Sprintf("sin etiqueta (%d)", counts[domain.LabelNone]))
	}
	return strings.Join(lines, "\n")
}

var sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)

// KeySentence returns the sentence of text that carries the most frequent terms,
// normalised by sentence length.
func (d *FrequencyDigest) KeySentence(text string) string {
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, w := range textnorm.Words(sent) {
			if !d.skip(w) {
				freq[w]++
			}
		}
	}
	best, bestScore := 0, -1.0
	for i, sent := range sentences {
		words := textnorm.Words(sent)
		score := 0.0
		for _, w := range words {
			score += freq[w]
		}
		if len(words) > 0 {
			score /= math.Sqrt(float64(len(words)))
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return strings.TrimSpace(sentences[best])
}

func (d *FrequencyDigest) skip(w string) bool {
	if len([]rune(w)) < d.minLen {
		return true
	}
	_, ok := d.stopwords[w]
	return ok
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"el", "la", "los", "las", "un", "una", "unos", "unas", "lo", "al", "del", "de", "en", "y", "o", "u", "a",
		"que", "por", "para", "con", "sin", "sobre", "entre", "hasta", "desde", "como", "pero", "mas", "más", "muy",
		"ya", "no", "si", "sí", "se", "su", "sus", "mi", "mis", "me", "te", "tu", "tus", "le", "les", "nos", "os",
		"es", "son", "era", "fue", "ser", "estar", "está", "están", "estoy", "he", "ha", "han", "hay", "haber", "tengo",
		"tiene", "este", "esta", "esto", "estos", "estas", "ese", "esa", "eso", "esos", "esas", "aquel", "cuando",
		"donde", "porque", "también", "todo", "todos", "toda", "todas", "otro", "otra", "otros", "otras", "mismo",
		"hola", "buenos", "buenas", "días", "tardes", "gracias", "saludos", "cordial", "cordiales", "atentamente",
		"estimado", "estimados", "quiero", "quisiera", "favor", "ustedes", "usted", "desde", "hace", "ayer", "hoy",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
