// Package textnorm turns raw email bodies into plain text for the models.
package textnorm

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	spaceRe = regexp.MustCompile(`[ \t\f\v\r]+`)
	blankRe = regexp.MustCompile(`\n{3,}`)
	tagRe   = regexp.MustCompile(`(?i)<(html|body|div|p|br|span|table|td|a|b|i|strong|em)[\s/>]`)
	wordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// Words returns the lowercased words of text in order.
func Words(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// WordSet returns the distinct lowercased words of text.
func WordSet(text string) map[string]struct{} {
	words := Words(text)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Normalize returns the visible text of an email body with whitespace collapsed.
// Bodies that look like HTML are rendered to text first.
func Normalize(body string) string {
	text := body
	if LooksLikeHTML(body) {
		text = htmlText(body)
	}
	return collapse(text)
}

// LooksLikeHTML reports whether the body carries common HTML markup.
func LooksLikeHTML(body string) bool {
	return tagRe.MatchString(body)
}

// IsBlank reports whether the text has no visible characters.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

func htmlText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, tr, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return doc.Text()
}

func collapse(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRe.ReplaceAllString(l, " "))
	}
	out := strings.Join(lines, "\n")
	out = blankRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
