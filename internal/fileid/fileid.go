// Package fileid derives document ids for files ingested from disk.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode"
)

// Prefix starts every file-derived document id.
const Prefix = "file-"

const maxSlugRunes = 40

// ForPath returns the document id for the file at absolutePath: a slug of the file
// name followed by a short hash of the cleaned path. The id is stable for a path, and
// files with the same name in different directories get different ids.
func ForPath(absolutePath string) string {
	clean := filepath.Clean(absolutePath)
	sum := sha256.Sum256([]byte(clean))
	base := strings.TrimSuffix(filepath.Base(clean), filepath.Ext(clean))
	if slug := slugify(base); slug != "" {
		return Prefix + slug + "-" + hex.EncodeToString(sum[:6])
	}
	return Prefix + hex.EncodeToString(sum[:6])
}

func slugify(s string) string {
	var b strings.Builder
	n, dash := 0, false
	for _, r := range strings.ToLower(s) {
		if n >= maxSlugRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
				n++
			}
			b.WriteRune(r)
			n++
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}
