// Package scanning turns uploaded documents into raw text for extraction.
package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedFormat is returned for content types no producer can read
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrCorruptSource is returned when a document cannot be opened or decoded
	ErrCorruptSource = errors.New("corrupt or unreadable document")
)

// TextProducer turns document bytes into plain text
type TextProducer interface {
	// ProduceText returns the text content of data. The result may be empty.
	ProduceText(ctx context.Context, data []byte, contentType string) (string, error)
}

// OCR is a TextProducer for images that holds a remote client
type OCR interface {
	TextProducer
	// Close releases the client
	Close() error
}

// PlainText reads UTF-8 text documents
type PlainText struct{}

// ProduceText implements TextProducer
func (PlainText) ProduceText(ctx context.Context, data []byte, contentType string) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", ErrCorruptSource)
	}
	return string(data), nil
}

// Router dispatches documents to a producer by content type
type Router struct {
	pdf   TextProducer
	text  TextProducer
	image TextProducer
}

// NewRouter creates a Router. ocr may be nil, in which case images are unsupported
// and PDF pages without a text layer produce no text.
func NewRouter(ocr TextProducer) *Router {
	return &Router{
		pdf:   NewPDFReader(ocr),
		text:  PlainText{},
		image: ocr,
	}
}

// ProduceText implements TextProducer
func (r *Router) ProduceText(ctx context.Context, data []byte, contentType string) (string, error) {
	mimeType := normalizeMimeType(contentType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = normalizeMimeType(http.DetectContentType(data))
	}

	switch {
	case mimeType == "application/pdf":
		return r.pdf.ProduceText(ctx, data, mimeType)
	case mimeType == "text/plain":
		return r.text.ProduceText(ctx, data, mimeType)
	case strings.HasPrefix(mimeType, "image/") && r.image != nil:
		return r.image.ProduceText(ctx, data, mimeType)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
}

// normalizeMimeType lowercases a content type and drops its parameters
func normalizeMimeType(contentType string) string {
	mimeType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mimeType))
}
