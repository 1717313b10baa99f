// Package extract pulls plain text out of uploaded PDF files.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

var ErrTooLarge = errors.New("pdf exceeds extraction size limit")

// PDFExtractor reads a whole PDF into memory and concatenates its page text
// in page order.
type PDFExtractor struct {
	MaxBytes int64
}

func NewPDFExtractor(maxBytes int64) *PDFExtractor {
	return &PDFExtractor{MaxBytes: maxBytes}
}

func (e *PDFExtractor) Extract(ctx context.Context, r io.Reader) (string, error) {
	limit := e.MaxBytes
	if limit <= 0 {
		limit = 32 << 20
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	if int64(len(data)) > limit {
		return "", ErrTooLarge
	}
	return extractText(ctx, data)
}

func extractText(ctx context.Context, data []byte) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		b.WriteString(content)
	}
	return b.String(), nil
}
