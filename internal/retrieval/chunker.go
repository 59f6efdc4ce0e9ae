// Package retrieval implements the retrieval-augmented context subsystem:
// token-aware chunking, content-hash de-duplication, embedding, and
// similarity queries scoped to a source file.
package retrieval

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkoukk/tiktoken-go"
)

// Chunker splits raw text into overlapping, token-bounded fragments.
// Overlap preserves cross-boundary semantics so a sentence split across two
// chunks is still retrievable from either side.
type Chunker struct {
	tokenizer   *tiktoken.Tiktoken
	chunkTokens int
	overlap     int // tokens of overlap between consecutive chunks
}

// Fragment is one chunk of source text with byte provenance.
type Fragment struct {
	Text        string
	ContentHash string
	Seq         int
	StartOffset int
	EndOffset   int
}

// NewChunker creates a chunker targeting chunkTokens per fragment with the
// given overlap ratio (e.g. 0.15 for 15%). Falls back to cl100k_base when the
// model-specific encoding is unknown.
func NewChunker(chunkTokens int, overlapRatio float64) (*Chunker, error) {
	if chunkTokens <= 0 {
		chunkTokens = 500
	}
	if overlapRatio < 0 || overlapRatio >= 1 {
		overlapRatio = 0.15
	}

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}

	overlap := int(float64(chunkTokens) * overlapRatio)
	return &Chunker{
		tokenizer:   enc,
		chunkTokens: chunkTokens,
		overlap:     overlap,
	}, nil
}

// CountTokens returns the token count for a string.
func (c *Chunker) CountTokens(text string) int {
	return len(c.tokenizer.Encode(text, nil, nil))
}

// Split divides text into overlapping fragments of at most chunkTokens
// tokens each. Consecutive fragments share `overlap` tokens. Offsets are
// byte offsets into the original text. Empty input yields no fragments.
func (c *Chunker) Split(text string) []Fragment {
	if text == "" {
		return nil
	}

	tokens := c.tokenizer.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil
	}

	step := c.chunkTokens - c.overlap
	if step <= 0 {
		step = c.chunkTokens
	}

	var fragments []Fragment
	for start := 0; start < len(tokens); start += step {
		end := start + c.chunkTokens
		if end > len(tokens) {
			end = len(tokens)
		}

		chunkText := string(c.tokenizer.Decode(tokens[start:end]))
		if chunkText == "" {
			if end == len(tokens) {
				break
			}
			continue
		}

		// Byte provenance: the decoded prefix up to `start` locates the
		// chunk start; overlap means offsets of consecutive chunks overlap.
		startOffset := len(string(c.tokenizer.Decode(tokens[:start])))
		endOffset := startOffset + len(chunkText)

		fragments = append(fragments, Fragment{
			Text:        chunkText,
			ContentHash: HashContent(chunkText),
			Seq:         len(fragments),
			StartOffset: startOffset,
			EndOffset:   endOffset,
		})

		if end == len(tokens) {
			break
		}
	}

	return fragments
}

// HashContent returns the hex sha256 of a fragment's text. This is the
// de-duplication key: identical content always maps to the same chunk.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
