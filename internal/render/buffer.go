package render

import (
	"fmt"
	"io"
	"strings"
)

// Buffer repaints the sticky window. The first paint clears the screen;
// later paints move back over the previous one and erase downwards, as
// long as nothing else was written in between.
type Buffer struct {
	w     io.Writer
	rows  int
	extra int
	dirty bool
	fresh bool
	bytes int
}

// NewBuffer paints onto w.
func NewBuffer(w io.Writer) *Buffer {
	return &Buffer{w: w, fresh: true}
}

// Rows returns how many rows the cursor sits below the start of the last
// paint.
func Rows(s string) int {
	return strings.Count(s, "\n") - strings.Count(s, LineUp)
}

// Paint writes body, replacing the previous paint. height is the terminal
// height; a paint taller than the screen always clears.
func (b *Buffer) Paint(body string, height int) (int, error) {
	var prefix string
	back := b.rows + b.extra
	switch {
	case b.fresh || b.dirty || back <= 0 || back >= height:
		prefix = ClearScreen
	default:
		prefix = fmt.Sprintf("\x1b[%dF%s", back, EraseDown)
	}
	n, err := io.WriteString(b.w, prefix+body)
	b.bytes = n
	if err != nil {
		b.fresh = true
		return n, err
	}
	b.rows = Rows(body)
	b.extra = 0
	b.dirty = false
	b.fresh = false
	return n, nil
}

// Advance records rows written by the prompt after the last paint.
func (b *Buffer) Advance(rows int) { b.extra += rows }

// Dirty marks that unrelated output followed the last paint, so the next
// paint must clear the screen.
func (b *Buffer) Dirty() { b.dirty = true }

// Reset forgets the previous paint.
func (b *Buffer) Reset() {
	b.fresh = true
	b.rows, b.extra = 0, 0
}

// LastBytes returns the size of the last write.
func (b *Buffer) LastBytes() int { return b.bytes }
