package extract

import (
	"strings"
)

// extractPlain decodes UTF-8 text, dropping invalid byte sequences and a leading BOM.
func extractPlain(content []byte) (string, error) {
	s := strings.ToValidUTF8(string(content), "")
	return strings.TrimPrefix(s, "\ufeff"), nil
}
