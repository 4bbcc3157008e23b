package enrich

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// SanitizeNote reduces HTML note content to plain text: tags dropped,
// script and style bodies removed, entities decoded, whitespace collapsed,
// and the result cut to at most limit runes.
func SanitizeNote(content string, limit int) string {
	z := html.NewTokenizer(strings.NewReader(content))
	var b strings.Builder
	skipDepth := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				if tt == html.StartTagToken {
					skipDepth++
				}
			case atom.Br, atom.P, atom.Div, atom.Li, atom.Tr, atom.H1, atom.H2, atom.H3:
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				if skipDepth > 0 {
					skipDepth--
				}
			case atom.P, atom.Div, atom.Li, atom.Tr, atom.Td:
				b.WriteByte(' ')
			}
		}
	}
	text := strings.Join(strings.Fields(b.String()), " ")
	if limit > 0 {
		runes := []rune(text)
		if len(runes) > limit {
			text = strings.TrimSpace(string(runes[:limit]))
		}
	}
	return text
}
