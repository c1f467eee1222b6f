package search

import (
	"sort"
	"strings"
)

const (
	snippetWidth  = 300
	snippetStep   = 50
	boundarySlack = 20
	ellipsis      = "…"
	emphasis      = "**"
)

// bestSnippet slides a fixed-width window across text and returns the
// window containing the most distinct query terms, nudged to word
// boundaries and wrapped in ellipses where truncated. Ties keep the
// earliest window.
func bestSnippet(text string, terms []string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if len(text) <= snippetWidth {
		return text
	}

	lower := strings.ToLower(text)
	bestStart, bestScore := 0, -1
	for start := 0; start < len(text); start += snippetStep {
		end := start + snippetWidth
		if end > len(text) {
			end = len(text)
		}
		score := countTerms(lower[start:end], terms)
		if score > bestScore {
			bestStart, bestScore = start, score
		}
		if end == len(text) {
			break
		}
	}

	start := bestStart
	end := bestStart + snippetWidth
	if end > len(text) {
		end = len(text)
	}
	start = nudgeToBoundary(text, start)
	end = nudgeToBoundary(text, end)

	var b strings.Builder
	if start > 0 {
		b.WriteString(ellipsis)
	}
	b.WriteString(strings.TrimSpace(text[start:end]))
	if end < len(text) {
		b.WriteString(ellipsis)
	}
	return b.String()
}

// countTerms counts how many distinct terms occur in the window.
func countTerms(window string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(window, t) {
			n++
		}
	}
	return n
}

// nudgeToBoundary moves pos to the nearest word boundary within
// boundarySlack characters, or leaves it as-is when none is close enough.
func nudgeToBoundary(text string, pos int) int {
	if pos <= 0 || pos >= len(text) {
		return pos
	}
	if isBoundary(text, pos) {
		return pos
	}
	for d := 1; d <= boundarySlack; d++ {
		if pos-d >= 0 && isBoundary(text, pos-d) {
			return pos - d
		}
		if pos+d <= len(text) && isBoundary(text, pos+d) {
			return pos + d
		}
	}
	return pos
}

func isBoundary(text string, pos int) bool {
	if pos == 0 || pos == len(text) {
		return true
	}
	return text[pos-1] == ' ' || text[pos-1] == '\n' || text[pos] == ' ' || text[pos] == '\n'
}

// highlight wraps every case-insensitive occurrence of each term in
// emphasis markers. Overlapping matches merge into one marked run so
// markers never nest.
func highlight(s string, terms []string) string {
	if s == "" || len(terms) == 0 {
		return s
	}
	lower := strings.ToLower(s)

	type span struct{ start, end int }
	var spans []span
	for _, t := range terms {
		if t == "" {
			continue
		}
		for from := 0; ; {
			i := strings.Index(lower[from:], t)
			if i < 0 {
				break
			}
			start := from + i
			spans = append(spans, span{start, start + len(t)})
			from = start + len(t)
		}
	}
	if len(spans) == 0 {
		return s
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}

	var b strings.Builder
	prev := 0
	for _, sp := range merged {
		b.WriteString(s[prev:sp.start])
		b.WriteString(emphasis)
		b.WriteString(s[sp.start:sp.end])
		b.WriteString(emphasis)
		prev = sp.end
	}
	b.WriteString(s[prev:])
	return b.String()
}
