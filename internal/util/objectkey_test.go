package util

import (
	"strings"
	"testing"
)

func TestObjectKeyShape(t *testing.T) {
	key := ObjectKey("contract.pdf")
	if !strings.HasPrefix(key, DocumentPrefix) {
		t.Fatalf("expected prefix %q, got %q", DocumentPrefix, key)
	}
	if !strings.HasSuffix(key, "_contract.pdf") {
		t.Fatalf("expected filename suffix, got %q", key)
	}
	if ObjectKey("contract.pdf") == key {
		t.Fatal("expected unique keys for repeated uploads")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":              "report.pdf",
		"../../etc/passwd":        "passwd",
		`C:\Users\me\scan 1.pdf`:  "scan_1.pdf",
		"жжж.pdf":                 ".pdf",
		"":                        "file",
		"..":                      "file",
		"name with spaces!!.docx": "name_with_spaces_.docx",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}

	long := strings.Repeat("a", 150) + ".pdf"
	got := SanitizeFilename(long)
	if len(got) != 100 || !strings.HasSuffix(got, ".pdf") {
		t.Errorf("expected truncated name ending in .pdf, got %q (%d)", got, len(got))
	}
}

func TestIsPDF(t *testing.T) {
	if !IsPDF("files/documents/x_a.pdf") {
		t.Error("expected .pdf to match")
	}
	if IsPDF("files/documents/x_a.PDF") {
		t.Error("expected uppercase extension not to match")
	}
	if IsPDF("files/documents/x_a.docx") {
		t.Error("expected .docx not to match")
	}
}
