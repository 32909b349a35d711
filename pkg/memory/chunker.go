package memory

import (
	"fmt"
	"strings"
	"unicode"
)

// Piece is one chunk of content produced by the Chunker. Start/End are
// rune offsets into the original content and include the overlap region,
// so content[Start:End] (as runes) always equals Text.
type Piece struct {
	Text  string
	Start int
	End   int
}

// Chunker splits content into bounded pieces, preferring paragraph and
// sentence boundaries and falling back to hard cuts. Identical input and
// config always produce an identical sequence.
type Chunker struct {
	maxSize int
	overlap int
}

// NewChunker validates the chunking configuration. maxSize must exceed
// overlap and overlap must be non-negative.
func NewChunker(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: max chunk size must be positive, got %d", ErrInvalidConfig, maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, fmt.Errorf("%w: overlap must satisfy 0 <= overlap < max chunk size, got %d", ErrInvalidConfig, overlap)
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

// Split chunks content. Empty or whitespace-only content yields zero
// pieces, not an error.
func (c *Chunker) Split(content string) []Piece {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	runes := []rune(content)
	n := len(runes)

	var pieces []Piece
	pos := 0
	for pos < n {
		// Later chunks reserve room for the repeated overlap so the
		// total piece length stays within maxSize.
		budget := c.maxSize
		if len(pieces) > 0 {
			budget = c.maxSize - c.overlap
		}

		end := n
		if n-pos > budget {
			end = c.cutPoint(runes, pos, pos+budget)
		}

		start := pos
		if len(pieces) > 0 && c.overlap > 0 {
			start = pos - c.overlap
			if start < 0 {
				start = 0
			}
		}

		pieces = append(pieces, Piece{
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		pos = end
	}
	return pieces
}

// cutPoint picks a cut position in (from, limit], preferring a paragraph
// break, then a sentence end, then any whitespace, then a hard cut.
func (c *Chunker) cutPoint(runes []rune, from, limit int) int {
	for j := limit; j > from+1; j-- {
		if runes[j-1] == '\n' && runes[j-2] == '\n' {
			return j
		}
	}
	for j := limit; j > from+1; j-- {
		if isSentenceEnd(runes[j-2]) && unicode.IsSpace(runes[j-1]) {
			return j
		}
	}
	for j := limit; j > from; j-- {
		if unicode.IsSpace(runes[j-1]) {
			return j
		}
	}
	return limit
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
