package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// MarkdownExtractor splits markdown at H1 and H2 boundaries; each section
// becomes a page whose text starts with its header path.
type MarkdownExtractor struct {
	md goldmark.Markdown
}

// NewMarkdownExtractor creates a new markdown extractor configured with goldmark parser.
func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{
		md: goldmark.New(goldmark.WithParserOptions(parser.WithAutoHeadingID())),
	}
}

func (m *MarkdownExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	pages, err := m.Sections(data)
	if err != nil {
		return nil, err
	}
	return &Result{RawText: joinPages(pages), Pages: pages}, nil
}

// Sections returns the preamble (text before the first heading) and every
// H1/H2 section in document order.
func (m *MarkdownExtractor) Sections(source []byte) ([]Page, error) {
	doc := m.md.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	if len(tree.Items) == 0 {
		return []Page{{Number: 1, Text: strings.TrimSpace(string(source))}}, nil
	}

	var pages []Page
	if first := firstHeading(doc); first != nil {
		start := headingStart(source, first)
		if pre := strings.TrimSpace(string(source[:start])); pre != "" {
			pages = append(pages, Page{Number: 1, Text: pre})
		}
	}
	collectSections(doc, source, tree.Items, nil, &pages)
	return pages, nil
}

// collectSections walks TOC items depth-first, emitting one page per heading.
func collectSections(doc ast.Node, source []byte, items toc.Items, ancestors []string, pages *[]Page) {
	for i, item := range items {
		path := append(append([]string(nil), ancestors...), string(item.Title))

		heading := findHeadingByID(doc, string(item.ID))
		if heading == nil {
			continue
		}

		var end ast.Node
		if len(item.Items) > 0 {
			end = findHeadingByID(doc, string(item.Items[0].ID))
		} else if i+1 < len(items) {
			end = findHeadingByID(doc, string(items[i+1].ID))
		} else {
			end = nextBoundary(doc, heading, heading.(*ast.Heading).Level)
		}

		body := sectionBody(source, heading, end)
		*pages = append(*pages, Page{
			Number: len(*pages) + 1,
			Text:   strings.TrimSpace(strings.Join(path, " : ") + "\n\n" + body),
		})

		if len(item.Items) > 0 {
			collectSections(doc, source, item.Items, path, pages)
		}
	}
}

func firstHeading(doc ast.Node) ast.Node {
	var found ast.Node
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			found = n
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

// findHeadingByID locates a heading node by its auto-generated ID.
func findHeadingByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			headingID, ok := n.AttributeString("id")
			if ok && string(headingID.([]byte)) == id {
				found = n
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

// nextBoundary finds the next heading of the same or higher level after current.
func nextBoundary(root, current ast.Node, level int) ast.Node {
	var next ast.Node
	seen := false
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		if !seen {
			seen = n == current
			return ast.WalkContinue, nil
		}
		if n.(*ast.Heading).Level <= level {
			next = n
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return next
}

// headingStart returns the offset of the first byte of the heading's line,
// including its '#' markers.
func headingStart(source []byte, heading ast.Node) int {
	lines := heading.Lines()
	if lines.Len() == 0 {
		return 0
	}
	start := lines.At(0).Start
	for start > 0 && source[start-1] != '\n' {
		start--
	}
	return start
}

// sectionBody returns the text after the heading line up to the end
// heading (or end of document).
func sectionBody(source []byte, heading, end ast.Node) string {
	lines := heading.Lines()
	if lines.Len() == 0 {
		return ""
	}
	from := lines.At(lines.Len() - 1).Stop
	for from < len(source) && source[from] != '\n' {
		from++
	}
	to := len(source)
	if end != nil {
		to = headingStart(source, end)
	}
	if from > to {
		return ""
	}
	return strings.TrimSpace(string(source[from:to]))
}
