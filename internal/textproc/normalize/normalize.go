// Package normalize turns raw page content into plain text.
package normalize

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped elements never contribute text, nor do their descendants.
var skipped = map[atom.Atom]struct{}{
	atom.Script:   {},
	atom.Style:    {},
	atom.Header:   {},
	atom.Footer:   {},
	atom.Nav:      {},
	atom.Noscript: {},
	atom.Template: {},
	atom.Head:     {},
}

// Normalize strips markup from s, dropping script, style, header, footer and
// nav content, decoding entities and collapsing runs of whitespace to single
// spaces. Input without markup tokens is treated as plain text, so a bare
// '<' in prose is kept. Normalize never fails and
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if !hasMarkup(s) {
		return collapse(s)
	}

	var parts []string
	z := html.NewTokenizer(strings.NewReader(s))
	depth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or malformed tail; either way the text so far stands.
			return strings.Join(parts, " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Body {
				// an unclosed <head> ends where the body starts
				depth = 0
			}
			if _, ok := skipped[a]; ok {
				depth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if _, ok := skipped[atom.Lookup(name)]; ok && depth > 0 {
				depth--
			}
		case html.TextToken:
			if depth > 0 {
				continue
			}
			// a decoded '<' would be read as markup on a second pass
			text := strings.ReplaceAll(collapse(string(z.Text())), "<", "‹")
			if text != "" {
				parts = append(parts, text)
			}
		}
	}
}

// hasMarkup reports whether the tokenizer finds any tag, comment or doctype.
func hasMarkup(s string) bool {
	if !strings.Contains(s, "<") {
		return false
	}
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken,
			html.CommentToken, html.DoctypeToken:
			return true
		}
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
