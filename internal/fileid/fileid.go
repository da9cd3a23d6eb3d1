// Package fileid derives catalog identifiers for raw documents.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "doc-"

// SourceID returns a stable identifier for a document source path. Paths that
// clean to the same slash-separated form share an ID on every platform.
func SourceID(source string) string {
	normalized := filepath.ToSlash(filepath.Clean(source))
	sum := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(sum[:8])
}
