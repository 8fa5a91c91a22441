package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// PDFReader reads the text layer of PDF documents. Pages without text are rendered
// and transcribed by the OCR producer when one is set.
type PDFReader struct {
	ocr TextProducer
}

// NewPDFReader creates a PDFReader. ocr may be nil.
func NewPDFReader(ocr TextProducer) *PDFReader {
	return &PDFReader{ocr: ocr}
}

// ProduceText implements TextProducer
func (p *PDFReader) ProduceText(ctx context.Context, data []byte, contentType string) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("%w: opening PDF: %v", ErrCorruptSource, err)
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("%w: reading page %d: %v", ErrCorruptSource, i+1, err)
		}
		if strings.TrimSpace(text) == "" && p.ocr != nil {
			text, err = p.transcribePage(ctx, doc, i)
			if err != nil {
				return "", err
			}
		}
		pages = append(pages, strings.TrimSpace(text))
	}

	return strings.TrimSpace(strings.Join(pages, "\n")), nil
}

func (p *PDFReader) transcribePage(ctx context.Context, doc *fitz.Document, page int) (string, error) {
	slog.Info("PDF page has no text layer, running OCR", "page", page+1)

	img, err := pageToPNG(doc, page)
	if err != nil {
		return "", err
	}
	text, err := p.ocr.ProduceText(ctx, img, "image/png")
	if err != nil {
		return "", fmt.Errorf("transcribing page %d: %w", page+1, err)
	}
	return text, nil
}
