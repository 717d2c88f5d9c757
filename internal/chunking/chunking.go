// Package chunking provides the text splitters applied to source content
// before embedding. Two implementations exist: a single-separator character
// splitter and a recursive splitter that falls through a separator list.
package chunking

import (
	"fmt"
	"unicode/utf8"

	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// Chunk is one piece of split text. Seq is contiguous from 0 per document.
type Chunk struct {
	Seq  int
	Text string
}

// Splitter turns a document into ordered chunks.
type Splitter interface {
	Split(text string) []Chunk
}

// NewSplitter builds the splitter named by a vectorizer's chunking config.
func NewSplitter(cfg *vectorizer.ChunkingConfig) (Splitter, error) {
	overlap := 0
	if cfg.ChunkOverlap != nil {
		overlap = *cfg.ChunkOverlap
	}
	switch cfg.Implementation {
	case vectorizer.ChunkingCharacter:
		return NewCharacterSplitter(CharacterConfig{
			ChunkSize:        cfg.ChunkSize,
			ChunkOverlap:     overlap,
			Separator:        cfg.Separator,
			IsSeparatorRegex: cfg.IsSeparatorRegex,
		})
	case vectorizer.ChunkingRecursiveCharacter:
		return NewRecursiveSplitter(RecursiveConfig{
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: overlap,
			Separators:   cfg.Separators,
		}), nil
	default:
		return nil, fmt.Errorf("unknown chunking implementation %q", cfg.Implementation)
	}
}

// splitIndex returns the largest rune boundary at or before size, so hard
// cuts never land inside a multi-byte rune. A leading rune wider than size
// is kept whole.
func splitIndex(s string, size int) int {
	if size >= len(s) {
		return len(s)
	}
	i := size
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	if i == 0 {
		_, n := utf8.DecodeRuneInString(s)
		return n
	}
	return i
}

// numberChunks assigns contiguous sequence numbers, dropping empty pieces.
func numberChunks(pieces []string) []Chunk {
	chunks := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		if p == "" {
			continue
		}
		chunks = append(chunks, Chunk{Seq: len(chunks), Text: p})
	}
	return chunks
}
