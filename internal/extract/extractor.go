// Package extract reads the raw text of administrative documents.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/dalil/internal/models"
)

type extractFunc func(content []byte) (string, error)

var readers = map[string]extractFunc{
	".txt":  extractPlain,
	".md":   extractPlain,
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".xlsx": extractXLSX,
}

// SupportedExtensions lists every extension Extract understands, sorted.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(readers))
	for ext := range readers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extractor turns document files into text. Paragraph boundaries are kept as
// blank lines so the chunker can split on them.
type Extractor struct {
	allowed map[string]bool
}

// NewExtractor returns an Extractor restricted to exts. With no arguments every
// supported extension is accepted.
func NewExtractor(exts ...string) (*Extractor, error) {
	if len(exts) == 0 {
		exts = SupportedExtensions()
	}
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = normalizeExt(ext)
		if _, ok := readers[ext]; !ok {
			return nil, fmt.Errorf("%w: unsupported document extension %q", models.ErrInvalidArgument, ext)
		}
		allowed[ext] = true
	}
	return &Extractor{allowed: allowed}, nil
}

// Supports reports whether path has an accepted extension.
func (e *Extractor) Supports(path string) bool {
	return e.allowed[normalizeExt(filepath.Ext(path))]
}

// Extract reads the file at path and returns its text.
func (e *Extractor) Extract(path string) (string, error) {
	ext := normalizeExt(filepath.Ext(path))
	if !e.allowed[ext] {
		return "", fmt.Errorf("%w: unsupported document %s", models.ErrInvalidArgument, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content of the given extension (with leading dot).
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	ext = normalizeExt(ext)
	read, ok := readers[ext]
	if !ok || !e.allowed[ext] {
		return "", fmt.Errorf("%w: unsupported extension %q", models.ErrInvalidArgument, ext)
	}
	return read(content)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
