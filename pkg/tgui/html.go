package tgui

import (
	"html"
	"strings"
	"unicode/utf8"
)

// H is text already safe for ParseMode "HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes plain text.
func Esc(s string) H { return H(html.EscapeString(s)) }

// B is s escaped and in bold.
func B(s string) H { return "<b>" + Esc(s) + "</b>" }

// JoinH joins the parts that are not blank.
func JoinH(sep string, parts ...H) H {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) != "" {
			kept = append(kept, string(p))
		}
	}
	return H(strings.Join(kept, sep))
}

// TruncRunes cuts s to n runes, marking a cut with "…". Truncate before
// escaping so entities are never split.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
