package workflow

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pkm-assistant/internal/domain"
)

// ExtractFeatures computes the deterministic, LLM-independent content
// features SPEC_FULL.md §12 requires (word count, code-block presence,
// link density, meta description), using goquery the way the retrieval
// pack's HTML-processing examples do local DOM analysis rather than relying
// on the LLM for anything that can be computed directly from the markup.
func ExtractFeatures(title, rawHTML string) domain.ContentFeatures {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return domain.ContentFeatures{Title: title}
	}

	text := strings.TrimSpace(doc.Find("body").Text())
	words := strings.Fields(text)

	sample := text
	if len(sample) > 500 {
		sample = sample[:500]
	}

	hasCode := doc.Find("pre, code").Length() > 0

	var anchorChars, totalChars int
	totalChars = len(text)
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		anchorChars += len(strings.TrimSpace(sel.Text()))
	})
	density := 0.0
	if totalChars > 0 {
		density = float64(anchorChars) / float64(totalChars)
	}

	meta, _ := doc.Find(`meta[name="description"]`).Attr("content")

	return domain.ContentFeatures{
		Title:           title,
		ContentSample:   sample,
		WordCount:       len(words),
		HasCodeBlocks:   hasCode,
		LinkDensity:     density,
		MetaDescription: meta,
	}
}
