package chunking

import "strings"

// RecursiveSplitter splits with a prioritized separator list: the first
// separator found in the text is used, and any piece still larger than the
// chunk size recurses with the remaining separators. The empty-string
// separator is the character-level fallback.
type RecursiveSplitter struct {
	separators   []string
	chunkSize    int
	chunkOverlap int
}

// RecursiveConfig configures the recursive splitter.
type RecursiveConfig struct {
	Separators   []string
	ChunkSize    int
	ChunkOverlap int
}

// DefaultSeparators returns the default separator priority list.
func DefaultSeparators() []string {
	return []string{"\n\n", "\n", ".", "?", "!", " ", ""}
}

// NewRecursiveSplitter creates a recursive character splitter.
func NewRecursiveSplitter(cfg RecursiveConfig) *RecursiveSplitter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 800
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if len(cfg.Separators) == 0 {
		cfg.Separators = DefaultSeparators()
	}
	return &RecursiveSplitter{
		separators:   cfg.Separators,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
	}
}

// Split implements Splitter.
func (s *RecursiveSplitter) Split(text string) []Chunk {
	pieces := s.splitText(text, s.separators)
	return numberChunks(pieces)
}

func (s *RecursiveSplitter) splitText(text string, separators []string) []string {
	if text == "" {
		return nil
	}

	// Pick the first separator that occurs in the text; the last entry
	// (usually "") is the unconditional fallback.
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var splits []string
	if separator == "" {
		splits = hardSplit(text, s.chunkSize)
	} else {
		splits = strings.Split(text, separator)
	}

	var out []string
	var good []string
	for _, piece := range splits {
		if len(piece) <= s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, mergePieces(good, separator, s.chunkSize, s.chunkOverlap)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, hardSplit(piece, s.chunkSize)...)
		} else {
			out = append(out, s.splitText(piece, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, mergePieces(good, separator, s.chunkSize, s.chunkOverlap)...)
	}
	return out
}

// hardSplit cuts text into pieces of at most size bytes with no separator
// awareness, backing each cut off to a rune boundary.
func hardSplit(text string, size int) []string {
	var out []string
	for len(text) > size {
		cut := splitIndex(text, size)
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
