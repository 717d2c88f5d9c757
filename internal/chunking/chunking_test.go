package chunking

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

func characterSplitter(t *testing.T, size, overlap int, separator string, isRegex bool) Splitter {
	t.Helper()
	s, err := NewCharacterSplitter(CharacterConfig{
		ChunkSize:        size,
		ChunkOverlap:     overlap,
		Separator:        separator,
		IsSeparatorRegex: isRegex,
	})
	require.NoError(t, err)
	return s
}

func TestCharacterSplitter_ShortTextSingleChunk(t *testing.T) {
	s := characterSplitter(t, 800, 0, "\n\n", false)

	chunks := s.Split(strings.Repeat("a", 400))

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Seq)
	assert.Equal(t, 400, len(chunks[0].Text))
}

func TestCharacterSplitter_LongRunHardCut(t *testing.T) {
	s := characterSplitter(t, 800, 0, "\n\n", false)

	// No separators at all, so the splitter must hard-cut at the size limit.
	chunks := s.Split(strings.Repeat("b", 1700))

	require.Len(t, chunks, 3)
	assert.Equal(t, 800, len(chunks[0].Text))
	assert.Equal(t, 800, len(chunks[1].Text))
	assert.Equal(t, 100, len(chunks[2].Text))
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
	}
}

func TestCharacterSplitter_SeparatorMerging(t *testing.T) {
	s := characterSplitter(t, 100, 0, "\n\n", false)

	text := strings.Repeat("x", 40) + "\n\n" + strings.Repeat("y", 40) + "\n\n" + strings.Repeat("z", 40)
	chunks := s.Split(text)

	// 40+40 fits in one chunk of 100, the third piece starts a new chunk.
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0].Text, "x")
	assert.Contains(t, chunks[0].Text, "y")
	assert.Contains(t, chunks[1].Text, "z")
}

func TestCharacterSplitter_Overlap(t *testing.T) {
	s := characterSplitter(t, 60, 20, " ", false)

	words := make([]string, 20)
	for i := range words {
		words[i] = strings.Repeat("w", 9)
	}
	chunks := s.Split(strings.Join(words, " "))

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		head := chunks[i].Text[:9]
		assert.Contains(t, chunks[i-1].Text, head, "chunk %d should overlap its predecessor", i)
	}
}

func TestCharacterSplitter_EmptyText(t *testing.T) {
	s := characterSplitter(t, 800, 0, "\n\n", false)

	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   \n\n   "))
}

func TestRecursiveSplitter_ParagraphsFirst(t *testing.T) {
	s := NewRecursiveSplitter(RecursiveConfig{
		ChunkSize:    100,
		ChunkOverlap: 0,
		Separators:   []string{"\n\n", "\n", ".", " ", ""},
	})

	text := strings.Repeat("p", 90) + "\n\n" + strings.Repeat("q", 90)
	chunks := s.Split(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("p", 90), chunks[0].Text)
	assert.Equal(t, strings.Repeat("q", 90), chunks[1].Text)
}

func TestRecursiveSplitter_FallsThroughSeparators(t *testing.T) {
	s := NewRecursiveSplitter(RecursiveConfig{
		ChunkSize:    50,
		ChunkOverlap: 0,
		Separators:   []string{"\n\n", "\n", " ", ""},
	})

	// One paragraph longer than the chunk size with only spaces inside.
	text := strings.Repeat("word ", 30)
	chunks := s.Split(text)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 50)
	}
}

func TestRecursiveSplitter_HardSplitWithoutSeparators(t *testing.T) {
	s := NewRecursiveSplitter(RecursiveConfig{
		ChunkSize:    64,
		ChunkOverlap: 0,
		Separators:   []string{"\n\n"},
	})

	chunks := s.Split(strings.Repeat("k", 200))

	require.Len(t, chunks, 4)
	assert.Equal(t, 64, len(chunks[0].Text))
	assert.Equal(t, 8, len(chunks[3].Text))
}

func TestCharacterSplitter_HardCutKeepsRunesWhole(t *testing.T) {
	s := characterSplitter(t, 10, 0, "\n\n", false)

	// Three-byte runes never align with the ten-byte limit.
	text := strings.Repeat("日本語テキスト", 10)
	chunks := s.Split(text)

	require.Greater(t, len(chunks), 1)
	var joined strings.Builder
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Text))
		assert.LessOrEqual(t, len(c.Text), 10)
		joined.WriteString(c.Text)
	}
	assert.Equal(t, text, joined.String())
}

func TestRecursiveSplitter_HardSplitKeepsRunesWhole(t *testing.T) {
	s := NewRecursiveSplitter(RecursiveConfig{
		ChunkSize:    10,
		ChunkOverlap: 0,
		Separators:   []string{"\n\n"},
	})

	text := strings.Repeat("€", 20)
	chunks := s.Split(text)

	require.Greater(t, len(chunks), 1)
	var joined strings.Builder
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Text))
		assert.LessOrEqual(t, len(c.Text), 10)
		joined.WriteString(c.Text)
	}
	assert.Equal(t, text, joined.String())
}

func TestNewSplitter_FromVectorizerConfig(t *testing.T) {
	overlap := 100
	cfg := &vectorizer.ChunkingConfig{
		Implementation: vectorizer.ChunkingRecursiveCharacter,
		ChunkSize:      800,
		ChunkOverlap:   &overlap,
		Separators:     []string{"\n\n", "\n", " ", ""},
	}

	s, err := NewSplitter(cfg)
	require.NoError(t, err)
	assert.IsType(t, &RecursiveSplitter{}, s)

	cfg.Implementation = "unknown"
	_, err = NewSplitter(cfg)
	assert.Error(t, err)
}
