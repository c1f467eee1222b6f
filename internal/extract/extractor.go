// Package extract turns a URL into a normalized document: title,
// description, plain text, and markdown. The importer treats every
// extraction failure identically, so implementations are free to fail for
// any reason (timeout, bad status, empty or junk content).
package extract

import (
	"context"
	"errors"
)

// ErrEmptyContent is returned when a page fetches fine but yields no usable
// text after extraction.
var ErrEmptyContent = errors.New("no usable content extracted")

// ErrDisabled is returned by NullExtractor.
var ErrDisabled = errors.New("extraction is disabled")

// Document is the normalized result of extracting one URL.
type Document struct {
	Title       string
	Description string
	Text        string
	Markdown    string
	HTML        string
	WordCount   int
	ReadingTime int // minutes, assuming ~200 words per minute
	Method      string
}

// Extractor fetches and extracts a single URL.
type Extractor interface {
	Extract(ctx context.Context, url string) (*Document, error)
}

// NullExtractor is the configuration-selected stand-in used when extraction
// is disabled. Every call fails with ErrDisabled; the importer records the
// item as failed like any other extraction error.
type NullExtractor struct{}

func (NullExtractor) Extract(context.Context, string) (*Document, error) {
	return nil, ErrDisabled
}
