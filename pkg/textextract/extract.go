// Package textextract turns uploaded document bytes into plain text for
// the chunking pipeline. Markdown and plain text pass through untouched;
// PDF pages are flattened with a newline between pages.
package textextract

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

type ExtractedText struct {
	Content string
	Pages   int
}

func Extract(data io.ReaderAt, size int64, fileType string) (*ExtractedText, error) {
	switch normalize(fileType) {
	case ".md", ".markdown":
		return extractPlain(data, size)
	case ".txt":
		return extractPlain(data, size)
	case ".pdf":
		return extractPDF(data, size)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", fileType)
	}
}

func SupportedTypes() []string {
	return []string{".md", ".markdown", ".txt", ".pdf"}
}

// Supported reports whether the filename's extension is one the
// pipeline can process.
func Supported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, t := range SupportedTypes() {
		if ext == t {
			return true
		}
	}
	return false
}

func normalize(fileType string) string {
	t := strings.ToLower(strings.TrimSpace(fileType))
	switch t {
	case "md", "markdown", "text/markdown":
		return ".md"
	case "txt", "text/plain":
		return ".txt"
	case "pdf", "application/pdf":
		return ".pdf"
	}
	if !strings.HasPrefix(t, ".") {
		t = "." + t
	}
	return t
}

func extractPlain(data io.ReaderAt, size int64) (*ExtractedText, error) {
	buf := make([]byte, size)
	if _, err := data.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read text: %w", err)
	}

	return &ExtractedText{
		Content: string(bytes.TrimSpace(buf)),
		Pages:   1,
	}, nil
}

func extractPDF(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	return &ExtractedText{
		Content: strings.TrimSpace(buf.String()),
		Pages:   numPages,
	}, nil
}
