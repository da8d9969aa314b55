package service

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// stripHTML flattens markup to plain text and collapses whitespace.
func stripHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// shorterNonEmpty prefers the shorter of two texts. A feed's own excerpt is
// usually a concise human-authored abstract, so shorter wins.
func shorterNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case len(a) <= len(b):
		return a
	default:
		return b
	}
}
