// Package extract turns stored study material into raw text. Each MIME
// family has an Extractor; OCR and ASR are delegated to Google Cloud.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"sync"
)

var (
	// ErrNoTextExtracted is returned when a file yields only whitespace.
	ErrNoTextExtracted = errors.New("no text extracted")
	// ErrUnsupportedMIME is returned when no extractor handles a MIME type.
	ErrUnsupportedMIME = errors.New("unsupported mime type")
)

// Page is one page, section or transcript segment of a file.
type Page struct {
	Number int
	Text   string
}

// Result is the raw, uncleaned output of extraction.
type Result struct {
	RawText string
	Pages   []Page
}

// Extractor extracts text from file bytes of a given MIME type.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (*Result, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, data []byte, mimeType string) (*Result, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	return f(ctx, data, mimeType)
}

// Registry dispatches by MIME type. Patterns are exact types
// ("application/pdf") or family wildcards ("image/*").
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry returns a registry with the local extractors for plain text,
// markdown and PDF. OCR and ASR are registered by the caller when configured.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	r.Register("text/plain", TextExtractor{})
	r.Register("text/markdown", NewMarkdownExtractor())
	r.Register("text/x-markdown", NewMarkdownExtractor())
	r.Register("application/pdf", PDFExtractor{})
	return r
}

// Register binds pattern to e, replacing any previous binding.
func (r *Registry) Register(pattern string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[strings.ToLower(pattern)] = e
}

func (r *Registry) lookup(mimeType string) (Extractor, bool) {
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		base = strings.ToLower(strings.TrimSpace(mimeType))
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.extractors[base]; ok {
		return e, true
	}
	if i := strings.IndexByte(base, '/'); i > 0 {
		if e, ok := r.extractors[base[:i]+"/*"]; ok {
			return e, true
		}
	}
	return nil, false
}

// Extract runs the extractor for mimeType and rejects empty output.
func (r *Registry) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	e, ok := r.lookup(mimeType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMIME, mimeType)
	}
	res, err := e.Extract(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	if res == nil || strings.TrimSpace(res.RawText) == "" {
		return nil, ErrNoTextExtracted
	}
	return res, nil
}

// joinPages builds RawText from pages with blank lines between them.
func joinPages(pages []Page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}
