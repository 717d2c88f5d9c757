package chunking

import (
	"regexp"
	"strings"
)

// CharacterSplitter splits on a single separator and re-packs the pieces into
// chunks of at most ChunkSize characters with ChunkOverlap carried between
// adjacent chunks.
type CharacterSplitter struct {
	chunkSize    int
	chunkOverlap int
	separator    string
	sepRegex     *regexp.Regexp
}

// CharacterConfig configures the character splitter.
type CharacterConfig struct {
	ChunkSize        int
	ChunkOverlap     int
	Separator        string
	IsSeparatorRegex bool
}

// NewCharacterSplitter creates a character splitter. A zero ChunkSize
// defaults to 800; the default separator is a blank line.
func NewCharacterSplitter(cfg CharacterConfig) (*CharacterSplitter, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 800
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.Separator == "" {
		cfg.Separator = "\n\n"
	}

	s := &CharacterSplitter{
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		separator:    cfg.Separator,
	}
	if cfg.IsSeparatorRegex {
		re, err := regexp.Compile(cfg.Separator)
		if err != nil {
			return nil, err
		}
		s.sepRegex = re
	}
	return s, nil
}

// Split implements Splitter.
func (s *CharacterSplitter) Split(text string) []Chunk {
	var pieces []string
	if s.sepRegex != nil {
		pieces = s.sepRegex.Split(text, -1)
	} else {
		pieces = strings.Split(text, s.separator)
	}

	joiner := s.separator
	if s.sepRegex != nil {
		joiner = ""
	}
	merged := mergePieces(pieces, joiner, s.chunkSize, s.chunkOverlap)
	return numberChunks(merged)
}

// mergePieces packs separator-split pieces back into chunks of at most
// chunkSize characters, carrying chunkOverlap characters of trailing pieces
// into the next chunk. Pieces longer than chunkSize are hard-cut.
func mergePieces(pieces []string, joiner string, chunkSize, chunkOverlap int) []string {
	var out []string
	var window []string
	winLen := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		chunk := strings.TrimSpace(strings.Join(window, joiner))
		if chunk != "" {
			out = append(out, chunk)
		}
		// Retain trailing pieces up to the overlap budget.
		for len(window) > 0 && winLen > chunkOverlap {
			window = window[1:]
			winLen = 0
			for i, p := range window {
				winLen += len(p)
				if i > 0 {
					winLen += len(joiner)
				}
			}
		}
	}

	for _, piece := range pieces {
		for len(piece) > chunkSize {
			flush()
			window = nil
			winLen = 0
			out = append(out, strings.TrimSpace(piece[:splitIndex(piece, chunkSize)]))
			step := chunkSize - chunkOverlap
			if step <= 0 {
				step = chunkSize
			}
			piece = piece[splitIndex(piece, step):]
		}
		if piece == "" {
			continue
		}
		addition := len(piece)
		if len(window) > 0 {
			addition += len(joiner)
		}
		if winLen+addition > chunkSize && len(window) > 0 {
			flush()
		}
		window = append(window, piece)
		winLen += addition
	}
	if len(window) > 0 {
		chunk := strings.TrimSpace(strings.Join(window, joiner))
		if chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}
