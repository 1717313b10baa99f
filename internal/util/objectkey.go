package util

import (
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const DocumentPrefix = "files/documents/"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey builds a storage key for an uploaded file. The random prefix keeps
// two uploads with the same name from colliding.
func ObjectKey(filename string) string {
	return DocumentPrefix + uuid.NewString() + "_" + SanitizeFilename(filename)
}

// SanitizeFilename strips any directory part and replaces characters outside
// [A-Za-z0-9._-] with underscores.
func SanitizeFilename(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	if len(name) > 100 {
		ext := path.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:100-len(ext)] + ext
	}
	return name
}

// IsPDF reports whether a stored file key names a PDF. The check is a
// case-sensitive suffix match.
func IsPDF(key string) bool {
	return strings.HasSuffix(key, ".pdf")
}
