package shell

import (
	"fmt"
	"strings"
)

// Buffer accumulates an ordered sequence of command lines for later
// rendering as a single string, e.g. the directives of a generated
// Dockerfile or the words of a long docker run invocation. Lines are
// append-only and never validated; the buffer is purely a staging area.
type Buffer struct {
	delim string
	lines []string
}

// NewBuffer creates a Buffer joining lines with delim. An empty delim
// defaults to newline.
func NewBuffer(delim string) *Buffer {
	if delim == "" {
		delim = "\n"
	}
	return &Buffer{delim: delim}
}

// Add appends one or more lines in order.
func (b *Buffer) Add(lines ...string) {
	b.lines = append(b.lines, lines...)
}

// Addf appends a single formatted line.
func (b *Buffer) Addf(format string, args ...any) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

// Len returns the number of accumulated lines.
func (b *Buffer) Len() int {
	return len(b.lines)
}

// String renders the accumulated lines joined by the buffer's delimiter.
func (b *Buffer) String() string {
	return strings.Join(b.lines, b.delim)
}
