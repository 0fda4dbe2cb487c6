package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	loader := NewLoader()

	t.Run("PlainText", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "knowledge.txt")
		require.NoError(t, os.WriteFile(path, []byte("RAG combines retrieval with generation.\n"), 0o644))

		doc, err := loader.LoadFile(path)
		require.NoError(t, err)

		assert.NotEmpty(t, doc.ID)
		assert.Equal(t, path, doc.Source)
		assert.Equal(t, "text/plain", doc.ContentType)
		assert.Equal(t, "RAG combines retrieval with generation.", doc.Content)
	})

	t.Run("Markdown", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notes.md")
		require.NoError(t, os.WriteFile(path, []byte("# Heading\n\nBody text."), 0o644))

		doc, err := loader.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "text/markdown", doc.ContentType)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := loader.LoadFile(filepath.Join(t.TempDir(), "nope.txt"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("EmptyFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.txt")
		require.NoError(t, os.WriteFile(path, []byte("   \n\n  "), 0o644))

		_, err := loader.LoadFile(path)
		require.ErrorIs(t, err, ErrEmptyDocument)
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "image.png")
		require.NoError(t, os.WriteFile(path, []byte{0x89, 0x50}, 0o644))

		_, err := loader.LoadFile(path)
		require.ErrorIs(t, err, ErrUnsupportedType)
	})
}

func TestLoadDir(t *testing.T) {
	loader := NewLoader()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("first document"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("second document"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.bin"), []byte{0x00}, 0o644))
	// An empty file should be skipped, not abort the load.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	docs, err := loader.LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestCleanText(t *testing.T) {
	t.Run("CollapsesSpaces", func(t *testing.T) {
		assert.Equal(t, "a b c", CleanText("  a   b\t\tc  "))
	})

	t.Run("NormalizesNewlines", func(t *testing.T) {
		assert.Equal(t, "a\nb", CleanText("a\r\nb"))
	})

	t.Run("LimitsBlankRuns", func(t *testing.T) {
		assert.Equal(t, "a\n\nb", CleanText("a\n\n\n\n\nb"))
	})

	t.Run("StripsControlCharacters", func(t *testing.T) {
		assert.Equal(t, "ab", CleanText("a\x00\x07b"))
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Equal(t, "", CleanText("  \n \t "))
	})
}
