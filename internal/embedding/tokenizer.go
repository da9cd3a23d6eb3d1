package embedding

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Tokenizer produces transformer inputs (input_ids, attention_mask, token_type_ids)
// padded or truncated to exactly maxTokens.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64, err error)
}

var _ Tokenizer = (*HFTokenizer)(nil)

// HFTokenizer applies a Hugging Face tokenizer.json, the vocabulary the model was
// exported with. Special tokens are added as the file's post-processor defines them.
type HFTokenizer struct {
	tk *tokenizer.Tokenizer
}

// LoadHFTokenizer reads a tokenizer.json file.
func LoadHFTokenizer(path string) (*HFTokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return &HFTokenizer{tk: tk}, nil
}

// Tokenize encodes text with special tokens.
func (t *HFTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64, err error) {
	enc, err := t.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tokenize: %w", err)
	}
	inputIDs, attentionMask, tokenTypeIDs = fitTokens(enc.Ids, enc.AttentionMask, enc.TypeIds, maxTokens)
	return inputIDs, attentionMask, tokenTypeIDs, nil
}

// fitTokens pads with zeros up to maxTokens, or truncates keeping the final token so
// the end-of-sequence marker survives. A missing mask means every token is attended.
func fitTokens(ids, mask, types []int, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	src := make([]int, 0, maxTokens)
	n := len(ids)
	if n > maxTokens {
		for i := 0; i < maxTokens-1; i++ {
			src = append(src, i)
		}
		src = append(src, n-1)
	} else {
		for i := 0; i < n; i++ {
			src = append(src, i)
		}
	}
	for pos, i := range src {
		inputIDs[pos] = int64(ids[i])
		attentionMask[pos] = 1
		if i < len(mask) {
			attentionMask[pos] = int64(mask[i])
		}
		if i < len(types) {
			tokenTypeIDs[pos] = int64(types[i])
		}
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords splits text into runs of letters, marks and digits in any script.
func SplitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := uint32(2166136261)
	for _, c := range s {
		h ^= uint32(c)
		h *= 16777619
	}
	return int(h & 0x7fffffff)
}
