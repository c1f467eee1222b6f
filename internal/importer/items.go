// Package importer drives batched, rate-limited, retried ingestion of URL
// lists: parsing the input table, partitioning out already-archived URLs,
// and orchestrating extraction, archiving, and chunk embedding.
package importer

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"
)

// ValidationError reports unusable input. It is the only fatal error class:
// a run either fails validation before any work starts or always drains to
// a summary.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid import input: " + e.Reason
}

// Item is one parsed row of an import list. Immutable once parsed.
type Item struct {
	URL       string
	Title     string
	Tags      []string
	TimeAdded time.Time
}

// ParseCSV reads a row-oriented table with a header naming at least a "url"
// column ("title", "tags", and "time_added" are honored when present).
// Data rows are accepted only when the URL field is non-empty and has an
// HTTP scheme; malformed and header-echoing rows are skipped silently.
// Returns a ValidationError when the table has no header, no url column,
// or no importable rows.
func ParseCSV(r io.Reader) ([]Item, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, &ValidationError{Reason: "missing header row"}
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	urlCol, ok := cols["url"]
	if !ok {
		return nil, &ValidationError{Reason: `header has no "url" column`}
	}

	var items []Item
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed row: skip, not error.
			continue
		}

		url := strings.TrimSpace(field(row, urlCol))
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			// Covers empty fields, junk rows, and echoed headers alike.
			continue
		}

		item := Item{URL: url}
		if i, ok := cols["title"]; ok {
			item.Title = strings.TrimSpace(field(row, i))
		}
		if i, ok := cols["tags"]; ok {
			item.Tags = splitTags(field(row, i))
		}
		if i, ok := cols["time_added"]; ok {
			if secs, err := strconv.ParseInt(strings.TrimSpace(field(row, i)), 10, 64); err == nil && secs > 0 {
				item.TimeAdded = time.Unix(secs, 0).UTC()
			}
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		return nil, &ValidationError{Reason: "no importable rows"}
	}
	return items, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// splitTags accepts both comma- and pipe-separated tag lists.
func splitTags(s string) []string {
	sep := ","
	if strings.Contains(s, "|") {
		sep = "|"
	}
	var tags []string
	for _, t := range strings.Split(s, sep) {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
