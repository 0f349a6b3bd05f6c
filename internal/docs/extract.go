// Package docs stores uploaded course documents and extracts their text by
// page range.
package docs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageRange is a 1-indexed inclusive page span.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// TextExtractor pulls text out of a document by page.
type TextExtractor interface {
	PageCount(path string) (int, error)
	// ExtractPages returns pages [start, end) using 0-indexed page numbers.
	// end <= 0 means "to the last page"; both bounds are clamped.
	ExtractPages(path string, start, end int) (string, error)
	// ExtractRanges returns the pages covered by 1-indexed inclusive ranges.
	ExtractRanges(path string, ranges []PageRange) (string, error)
}

// pageReader is an open document with random page access (0-indexed).
type pageReader interface {
	NumPage() int
	PageText(i int) (string, error)
	Close() error
}

// Extractor reads PDFs through ledongthuc/pdf and everything else as plain
// text, where a form feed separates pages.
type Extractor struct{}

// NewExtractor returns the default extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) open(path string) (pageReader, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return openPDF(path)
	}
	return openText(path)
}

// PageCount returns the number of pages in the document.
func (e *Extractor) PageCount(path string) (int, error) {
	r, err := e.open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()
	return r.NumPage(), nil
}

// ExtractPages implements TextExtractor.
func (e *Extractor) ExtractPages(path string, start, end int) (string, error) {
	r, err := e.open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = r.Close() }()

	total := r.NumPage()
	if end <= 0 || end > total {
		end = total
	}
	if start < 0 {
		start = 0
	}
	var parts []string
	for i := start; i < end; i++ {
		parts = appendPage(parts, r, i)
	}
	return strings.Join(parts, "\n\n"), nil
}

// ExtractRanges implements TextExtractor.
func (e *Extractor) ExtractRanges(path string, ranges []PageRange) (string, error) {
	r, err := e.open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = r.Close() }()

	total := r.NumPage()
	var parts []string
	for _, pr := range ranges {
		start := max(0, pr.Start-1)
		end := min(pr.End, total)
		for i := start; i < end; i++ {
			parts = appendPage(parts, r, i)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// appendPage adds "[Page N]\n<text>" for non-blank pages. Pages that fail to
// decode are skipped.
func appendPage(parts []string, r pageReader, i int) []string {
	text, err := r.PageText(i)
	if err != nil || strings.TrimSpace(text) == "" {
		return parts
	}
	return append(parts, fmt.Sprintf("[Page %d]\n%s", i+1, text))
}

type pdfReader struct {
	f *os.File
	r *pdf.Reader
}

func openPDF(path string) (*pdfReader, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open PDF %s: %w", filepath.Base(path), err)
	}
	return &pdfReader{f: f, r: r}, nil
}

func (p *pdfReader) NumPage() int { return p.r.NumPage() }

func (p *pdfReader) PageText(i int) (text string, err error) {
	// The PDF library panics on some malformed content streams.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d: %v", i+1, rec)
		}
	}()
	page := p.r.Page(i + 1)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func (p *pdfReader) Close() error { return p.f.Close() }

type textReader struct {
	pages []string
}

func openText(path string) (*textReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return &textReader{pages: strings.Split(string(data), "\f")}, nil
}

func (t *textReader) NumPage() int { return len(t.pages) }

func (t *textReader) PageText(i int) (string, error) {
	if i < 0 || i >= len(t.pages) {
		return "", fmt.Errorf("page %d out of range", i+1)
	}
	return t.pages[i], nil
}

func (t *textReader) Close() error { return nil }

// ExtractAll concatenates the full text of every document, labelled by file
// name. Unreadable documents are reported in the returned error list but do
// not stop the others.
func ExtractAll(x TextExtractor, paths []string) (string, []error) {
	var sb strings.Builder
	var errs []error
	for _, p := range paths {
		text, err := x.ExtractPages(p, 0, 0)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "=== %s ===\n%s", filepath.Base(p), text)
	}
	return sb.String(), errs
}
