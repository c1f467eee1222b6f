// Package chunker splits document text into overlapping, boundary-aware
// segments used as the unit of embedding and retrieval.
package chunker

import "strings"

const (
	// DefaultSize is the target chunk length in characters.
	DefaultSize = 1200

	// DefaultOverlap is how many characters consecutive chunks share.
	DefaultOverlap = 200
)

// Chunk is one bounded segment of a document's text. Index is the chunk's
// position within the document, assigned in emission order starting at 0.
type Chunk struct {
	Index   int
	Content string
}

// Split cuts text into chunks of roughly size characters, each overlapping
// its predecessor by overlap characters. Cuts prefer natural boundaries
// (paragraph break, sentence end, newline) when one falls in the second half
// of the window; otherwise the window is cut at the raw boundary.
//
// Split is a pure function of its inputs. It always terminates, including
// for overlap >= size: the scan position is clamped so it strictly
// increases. Empty segments after trimming are dropped.
func Split(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}

	var chunks []Chunk
	pos := 0
	for pos < len(text) {
		end := pos + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = breakPoint(text, pos, end, size)
		}

		content := strings.TrimSpace(text[pos:end])
		if content != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Content: content})
		}

		if end >= len(text) {
			break
		}

		next := end - overlap
		// The position must strictly advance or degenerate parameters
		// (overlap >= size, size of 1) would loop forever.
		if next <= pos {
			next = pos + 1
		}
		pos = next
	}
	return chunks
}

// breakPoint searches backward from the tentative window end for the best
// natural boundary, accepting it only if it lies at or past the midpoint of
// the window. Returns the raw end when no boundary qualifies.
func breakPoint(text string, pos, end, size int) int {
	min := pos + size/2
	window := text[pos:end]

	for _, sep := range []string{"\n\n", ". ", "\n"} {
		if i := strings.LastIndex(window, sep); i >= 0 {
			cut := pos + i + len(sep)
			if cut >= min {
				return cut
			}
		}
	}
	return end
}
