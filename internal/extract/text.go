package extract

import (
	"context"
	"strings"
)

// TextExtractor reads UTF-8 text; form feeds separate pages.
type TextExtractor struct{}

func (TextExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	text := strings.ToValidUTF8(string(data), "")
	text = strings.TrimPrefix(text, "\uFEFF")

	var pages []Page
	for i, part := range strings.Split(text, "\f") {
		pages = append(pages, Page{Number: i + 1, Text: part})
	}
	return &Result{RawText: joinPages(pages), Pages: pages}, nil
}
