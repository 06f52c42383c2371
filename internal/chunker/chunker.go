// Package chunker splits long OCR text into ordered, overlapping chunks for
// size-limited extraction methods and stitches their outputs back together.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// Chunk is one ordered slice of the source text. Chunks are cut on line
// boundaries; the first OverlapLines lines repeat the tail of the previous
// chunk.
type Chunk struct {
	Index        int
	Text         string
	OverlapLines int
}

// Splitter divides text into chunks.
type Splitter interface {
	Split(text string) []Chunk
}

// New returns an overlapping splitter, or a passthrough splitter when size
// is not positive.
func New(size, overlap int) Splitter {
	if size <= 0 {
		return Passthrough{}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return Overlapping{Size: size, Overlap: overlap}
}

// Passthrough returns the whole text as a single chunk.
type Passthrough struct{}

// Split implements Splitter.
func (Passthrough) Split(text string) []Chunk {
	return []Chunk{{Index: 0, Text: text}}
}

// Overlapping packs whole lines into chunks of at most Size characters and
// repeats up to Overlap characters of trailing lines at the start of the
// next chunk. A single line longer than Size becomes its own chunk.
type Overlapping struct {
	Size    int
	Overlap int
}

// Split implements Splitter.
func (o Overlapping) Split(text string) []Chunk {
	if utf8.RuneCountInString(text) <= o.Size {
		return []Chunk{{Index: 0, Text: text}}
	}

	lines := splitLines(text)
	widths := make([]int, len(lines))
	for i, l := range lines {
		widths[i] = utf8.RuneCountInString(l)
	}

	var chunks []Chunk
	start, lead := 0, 0
	for start < len(lines) {
		end, size := start, 0
		for end < len(lines) && (end == start || size+widths[end] <= o.Size) {
			size += widths[end]
			end++
		}
		chunks = append(chunks, Chunk{
			Index:        len(chunks),
			Text:         strings.Join(lines[start:end], ""),
			OverlapLines: lead,
		})
		if end >= len(lines) {
			break
		}

		// Back up over trailing lines that fit in the overlap budget while
		// guaranteeing forward progress.
		next, carried := end, 0
		for next-1 > start && carried+widths[next-1] <= o.Overlap {
			next--
			carried += widths[next]
		}
		lead = end - next
		start = next
	}
	return chunks
}

// Merge concatenates per-chunk outputs in chunk order, dropping the start
// of each output that repeats the overlap with its predecessor. The overlap
// is found by content, so outputs may rewrap or join lines.
// outputs[i] must be the processed form of chunks[i].
func Merge(chunks []Chunk, outputs []string) string {
	var b strings.Builder
	for i, out := range outputs {
		if i > 0 && i < len(chunks) && chunks[i].OverlapLines > 0 {
			n := len(words(leadingLines(chunks[i].Text, chunks[i].OverlapLines)))
			out = out[overlapEnd(outputs[i-1], out, n):]
		}
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") && out != "" {
			b.WriteByte('\n')
		}
		b.WriteString(out)
	}
	return b.String()
}

// splitLines splits text after every newline, keeping the terminators.
func splitLines(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// leadingLines returns the first n lines of s.
func leadingLines(s string, n int) string {
	lines := splitLines(s)
	return strings.Join(lines[:min(n, len(lines))], "")
}
