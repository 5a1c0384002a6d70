package dispatch

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const envelopeOpen = `<div style="font-family:Arial; line-height:1.6; color:#1a1a1a;">`

var (
	blankLine  = regexp.MustCompile(`\n\s*\n`)
	extraLines = regexp.MustCompile(`\n{3,}`)
	lineSpaces = regexp.MustCompile(`[ \t]+\n`)
)

// TextToHTML escapes plain text and turns blank-line separated paragraphs
// into <p> elements.
func TextToHTML(text string) string {
	var b strings.Builder
	for _, p := range blankLine.Split(strings.TrimSpace(text), -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(p), "\n", "<br/>"))
		b.WriteString("</p>")
	}
	return b.String()
}

// Envelope wraps body and the sender signature in the outgoing HTML shell.
func Envelope(body, signature string) string {
	var b strings.Builder
	b.WriteString(envelopeOpen)
	b.WriteString(body)
	if sig := strings.TrimSpace(signature); sig != "" {
		b.WriteString("<br/><br/>")
		b.WriteString(strings.ReplaceAll(sig, "\n", "<br/>"))
	}
	b.WriteString("</div>")
	return b.String()
}

// PlainText derives the text alternative of an HTML body.
func PlainText(body string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", err
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n\n")
	})
	text := lineSpaces.ReplaceAllString(doc.Text(), "\n")
	text = extraLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}
