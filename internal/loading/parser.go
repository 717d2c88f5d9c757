package loading

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"

	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// Parser converts loaded bytes into the text handed to the chunker.
type Parser interface {
	Parse(doc Document) (string, error)
}

// NewParser builds the parser named by a vectorizer's parsing config.
func NewParser(cfg *vectorizer.ParsingConfig) (Parser, error) {
	switch cfg.Implementation {
	case vectorizer.ParsingNone:
		return &NoneParser{}, nil
	case vectorizer.ParsingPyMuPDF:
		return &PDFParser{}, nil
	case vectorizer.ParsingAuto:
		return &AutoParser{pdf: &PDFParser{}, plain: &NoneParser{}}, nil
	default:
		return nil, fmt.Errorf("unknown parsing implementation %q", cfg.Implementation)
	}
}

// NoneParser passes the bytes through as UTF-8 text.
type NoneParser struct{}

// Parse implements Parser.
func (p *NoneParser) Parse(doc Document) (string, error) {
	if !utf8.Valid(doc.Data) {
		return "", fmt.Errorf("content is not valid UTF-8 text")
	}
	return string(doc.Data), nil
}

// PDFParser extracts text from PDF (and other MuPDF-supported) documents.
type PDFParser struct{}

// Parse implements Parser.
func (p *PDFParser) Parse(doc Document) (string, error) {
	d, err := fitz.NewFromMemory(doc.Data)
	if err != nil {
		return "", fmt.Errorf("open document: %w", err)
	}
	defer d.Close()

	var sb strings.Builder
	for i := 0; i < d.NumPage(); i++ {
		text, err := d.Text(i)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i+1, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// AutoParser picks the PDF parser for PDF content and passes everything else
// through as text.
type AutoParser struct {
	pdf   *PDFParser
	plain *NoneParser
}

// Parse implements Parser.
func (p *AutoParser) Parse(doc Document) (string, error) {
	if isPDF(doc) {
		return p.pdf.Parse(doc)
	}
	return p.plain.Parse(doc)
}

func isPDF(doc Document) bool {
	if bytes.HasPrefix(doc.Data, []byte("%PDF-")) {
		return true
	}
	return strings.HasSuffix(strings.ToLower(doc.Name), ".pdf")
}
