package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads the embedded text layer of a PDF page by page.
// Scanned PDFs without a text layer yield ErrNoTextExtracted.
type PDFExtractor struct{}

func (PDFExtractor) Extract(ctx context.Context, data []byte, mimeType string) (res *Result, err error) {
	// the pdf reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}

	var pages []Page
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return &Result{RawText: joinPages(pages), Pages: pages}, nil
}
