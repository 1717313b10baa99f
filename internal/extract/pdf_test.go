package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExtractRejectsNonPDF(t *testing.T) {
	e := NewPDFExtractor(1 << 20)
	text, err := e.Extract(context.Background(), strings.NewReader("this is not a pdf"))
	if err == nil {
		t.Fatal("expected error for non-pdf input")
	}
	if text != "" {
		t.Errorf("expected empty text on failure, got %q", text)
	}
}

func TestExtractEmptyInput(t *testing.T) {
	e := NewPDFExtractor(1 << 20)
	if _, err := e.Extract(context.Background(), strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestExtractTooLarge(t *testing.T) {
	e := NewPDFExtractor(8)
	_, err := e.Extract(context.Background(), strings.NewReader("%PDF-1.4 and then some"))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}
