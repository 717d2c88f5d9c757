package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

func TestFormatter_RenderChunkOnly(t *testing.T) {
	f, err := NewFormatter(&vectorizer.FormattingConfig{
		Implementation: vectorizer.FormattingPythonTemplate,
		Template:       "$chunk",
	})
	require.NoError(t, err)

	assert.Empty(t, f.Columns())
	assert.Equal(t, "some text", f.Render("some text", nil))
}

func TestFormatter_RenderWithColumns(t *testing.T) {
	f, err := NewFormatter(&vectorizer.FormattingConfig{
		Implementation: vectorizer.FormattingPythonTemplate,
		Template:       "title: $title\nauthor: $author\n$chunk",
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"title", "author"}, f.Columns())

	out := f.Render("body", map[string]string{"title": "T", "author": "A"})
	assert.Equal(t, "title: T\nauthor: A\nbody", out)
}

func TestFormatter_EscapedDollar(t *testing.T) {
	f, err := NewFormatter(&vectorizer.FormattingConfig{
		Implementation: vectorizer.FormattingPythonTemplate,
		Template:       "cost: $$5 $chunk",
	})
	require.NoError(t, err)

	assert.Empty(t, f.Columns())
	assert.Equal(t, "cost: $5 x", f.Render("x", nil))
}

func TestFormatter_UnknownVariableLeftVerbatim(t *testing.T) {
	f, err := NewFormatter(&vectorizer.FormattingConfig{
		Implementation: vectorizer.FormattingPythonTemplate,
		Template:       "$missing $chunk",
	})
	require.NoError(t, err)

	assert.Equal(t, "$missing x", f.Render("x", map[string]string{}))
}

func TestFormatter_UnknownImplementation(t *testing.T) {
	_, err := NewFormatter(&vectorizer.FormattingConfig{Implementation: "jinja"})
	assert.Error(t, err)
}

func TestFormatVector(t *testing.T) {
	assert.Equal(t, "[0.5,-1,0.25]", formatVector([]float32{0.5, -1, 0.25}))
	assert.Equal(t, "[]", formatVector(nil))
}

func TestStringifyValue(t *testing.T) {
	assert.Equal(t, "", stringifyValue(nil))
	assert.Equal(t, "abc", stringifyValue([]byte("abc")))
	assert.Equal(t, "abc", stringifyValue("abc"))
	assert.Equal(t, "42", stringifyValue(int64(42)))
}
