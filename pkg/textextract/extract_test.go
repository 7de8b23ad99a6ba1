package textextract

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMarkdown(t *testing.T) {
	doc := []byte("# Title\n\nSome **bold** text.\n")
	got, err := Extract(bytes.NewReader(doc), int64(len(doc)), ".md")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nSome **bold** text.", got.Content)
	assert.Equal(t, 1, got.Pages)
}

func TestExtractTypeAliases(t *testing.T) {
	doc := []byte("plain text")
	for _, ft := range []string{".txt", "txt", "text/plain", ".markdown", "markdown", "text/markdown"} {
		got, err := Extract(bytes.NewReader(doc), int64(len(doc)), ft)
		require.NoError(t, err, ft)
		assert.Equal(t, "plain text", got.Content, ft)
	}
}

func TestExtractUnsupported(t *testing.T) {
	doc := []byte("binary")
	_, err := Extract(bytes.NewReader(doc), int64(len(doc)), ".exe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestSupported(t *testing.T) {
	tests := []struct {
		filename string
		want     bool
	}{
		{"notes.md", true},
		{"notes.MARKDOWN", true},
		{"readme.txt", true},
		{"paper.pdf", true},
		{"image.png", false},
		{"archive.tar.gz", false},
		{"noext", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Supported(tt.filename), tt.filename)
	}
}

func TestExtractPDFInvalid(t *testing.T) {
	doc := []byte("not a pdf at all")
	_, err := Extract(bytes.NewReader(doc), int64(len(doc)), ".pdf")
	require.Error(t, err)
}
