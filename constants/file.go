package constants

import "strings"

// Upload limits.
const (
	MaxCaseFileSize    = 10 * 1024 * 1024
	MaxHistoryFileSize = 5 * 1024 * 1024
)

// PDFContentType is the only accepted upload type.
const PDFContentType = "application/pdf"

// AllowedExtensions holds the file extensions accepted for case and history uploads.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedExt reports whether ext (with or without dot) may be uploaded.
func IsAllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}
