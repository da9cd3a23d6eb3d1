// Package indexer turns raw documents into normalized, overlapping passages and feeds them
// to the retrieval corpus.
package indexer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperjump/dalil/internal/models"
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Chunker splits text into passages of at most Size runes, with Overlap runes carried
// from each passage into the next.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker validates the parameters and returns a chunker.
func NewChunker(size, overlap int) (*Chunker, error) {
	if err := validateChunkParams(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{Size: size, Overlap: overlap}, nil
}

func validateChunkParams(size, overlap int) error {
	switch {
	case size <= 0:
		return fmt.Errorf("%w: chunk size must be > 0, got %d", models.ErrInvalidArgument, size)
	case overlap < 0:
		return fmt.Errorf("%w: chunk overlap must be >= 0, got %d", models.ErrInvalidArgument, overlap)
	case overlap >= size:
		return fmt.Errorf("%w: chunk overlap %d must be < chunk size %d", models.ErrInvalidArgument, overlap, size)
	}
	return nil
}

// Chunk splits text with the chunker's parameters.
func (c *Chunker) Chunk(text string) ([]string, error) {
	return Chunk(text, c.Size, c.Overlap)
}

// ChunkDocument chunks doc and numbers the passages from 0 in text order.
func (c *Chunker) ChunkDocument(doc models.Document) ([]models.Chunk, error) {
	parts, err := c.Chunk(doc.Text)
	if err != nil {
		return nil, err
	}
	chunks := make([]models.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = models.Chunk{Text: p, Source: doc.Source, ChunkID: i}
	}
	return chunks, nil
}

// Chunk normalizes text and splits it into passages. Paragraphs are packed greedily, joined
// by a blank line, while the buffer stays within size runes. A paragraph longer than size is
// hard-split into windows of size runes advancing by size-overlap. Every passage after the
// first is then prefixed with the last overlap runes of the previous output passage.
// Invalid parameters yield models.ErrInvalidArgument and no output.
func Chunk(text string, size, overlap int) ([]string, error) {
	if err := validateChunkParams(size, overlap); err != nil {
		return nil, err
	}
	segs := segments(Normalize(text), size, overlap)
	chunks := make([]string, len(segs))
	for i, s := range segs {
		chunks[i] = s.text
	}
	return withOverlap(chunks, overlap), nil
}

// segment is a passage before the inter-passage overlap is applied. cont marks a hard-split
// window whose first overlap runes repeat the end of the previous window.
type segment struct {
	text string
	cont bool
}

func segments(text string, size, overlap int) []segment {
	segs := []segment{}
	var current []rune
	for _, raw := range paragraphBreak.Split(text, -1) {
		p := []rune(strings.TrimSpace(raw))
		if len(p) == 0 {
			continue
		}
		if current != nil {
			if candidate := len(current) + 2 + len(p); candidate <= size {
				current = append(append(current, '\n', '\n'), p...)
				continue
			}
			segs = append(segs, segment{text: string(current)})
			current = nil
		}
		if len(p) <= size {
			current = p
			continue
		}
		for i, w := range hardSplit(p, size, overlap) {
			segs = append(segs, segment{text: w, cont: i > 0})
		}
	}
	if current != nil {
		segs = append(segs, segment{text: string(current)})
	}
	return segs
}

// withOverlap prefixes every chunk after the first with the last overlap runes of the
// previous output chunk, then trims it.
func withOverlap(chunks []string, overlap int) []string {
	if overlap == 0 || len(chunks) <= 1 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := []rune(out[i-1])
		tail := prev[max(0, len(prev)-overlap):]
		out[i] = strings.TrimSpace(string(tail) + chunks[i])
	}
	return out
}

// hardSplit cuts p into windows of size runes. The last window ends exactly at the end of p.
func hardSplit(p []rune, size, overlap int) []string {
	var windows []string
	for start := 0; start < len(p); {
		end := min(len(p), start+size)
		windows = append(windows, string(p[start:end]))
		if end < len(p) {
			start = end - overlap
		} else {
			start = end
		}
	}
	return windows
}
