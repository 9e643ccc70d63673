package retrieval

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CleanText strips HTML markup left in indexed chunks and collapses
// whitespace. Plain text is returned with whitespace collapsed only.
func CleanText(text string) string {
	if strings.ContainsRune(text, '<') && strings.ContainsRune(text, '>') {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
		if err == nil {
			doc.Find("script, style, noscript").Remove()
			text = doc.Text()
		}
	}
	return strings.Join(strings.Fields(text), " ")
}
