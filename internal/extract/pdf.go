package extract

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// extractPDF pulls the plain text out of a PDF body. Title/description come
// from the first text line, since PDF metadata is unreliable in the wild.
func extractPDF(body []byte) (*Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("parsing pdf: %w", err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting pdf text: %w", err)
	}
	raw, err := io.ReadAll(textReader)
	if err != nil {
		return nil, fmt.Errorf("reading pdf text: %w", err)
	}

	doc := &Document{
		Text:   normalizeText(string(raw)),
		Method: "pdf",
	}
	if i := indexNewline(doc.Text); i > 0 {
		doc.Title = doc.Text[:i]
	} else if doc.Text != "" {
		doc.Title = firstN(doc.Text, 80)
	}
	return doc, nil
}

func indexNewline(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
