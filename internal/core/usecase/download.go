package usecase

import (
	"fmt"
	"path/filepath"
	"strings"
)

// downloadKey names a downloaded document in the sink; the id prefix keeps same-named files apart.
func downloadKey(documentID, filename string) string {
	return fmt.Sprintf("%s_%s", sanitizeFilename(documentID), sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "_" {
		return "document.bin"
	}
	return base
}
