package render

import (
	"fmt"
	"strings"

	"github.com/opposj/pdbp/internal/engine"
)

// sourceLine returns the stripped text of the frame's current line.
func (r *Renderer) sourceLine(f *engine.Frame) string {
	w, err := FileLines(r.opts.Source, f)
	if err != nil {
		return ""
	}
	if f.Line < w.First || f.Line > w.Last() {
		return ""
	}
	return strings.TrimSpace(w.Lines[f.Line-w.First])
}

// FormatEntry formats a frame as "file(line)func()" followed by the current
// source line on its own "-> " line.
func (r *Renderer) FormatEntry(f *engine.Frame) string {
	fn := f.Function
	if fn == "" {
		fn = "<lambda>"
	}
	s := fmt.Sprintf("%s(%s)%s()",
		r.color(r.opts.Palette.Filename, f.File),
		r.color(r.opts.Palette.LineNumber, fmt.Sprint(f.Line)),
		fn)
	if f.Return != nil {
		s += "->" + f.Return.Repr
	}
	if line := r.sourceLine(f); line != "" {
		if h := r.opts.Languages.For(f.File); h != nil && r.opts.Highlight {
			line = h.Paint([]string{line}, r.opts.Theme)[0]
		}
		s += "\n-> " + line
	}
	return s
}

// Entry describes one line of a stack listing.
type Entry struct {
	Frame *engine.Frame
	Index int
	// Current marks the selected frame.
	Current bool
	// Innermost marks the last visible frame.
	Innermost  bool
	PostMortem bool
}

// StackEntry formats one stack entry with its index, marking the current
// frame with a colored indicator.
func (r *Renderer) StackEntry(e Entry) string {
	p := r.opts.Palette
	index := r.color(p.StackColor(e.PostMortem), fmt.Sprint(e.Index))
	var prefix string
	if e.Current {
		code := p.CurrentLine
		if e.PostMortem {
			code = p.ExceptionLine
			if e.Innermost {
				code = p.PostMortemLine
			}
		}
		indicator := " >"
		if r.opts.Highlight {
			indicator = SetBackground(indicator, code)
		}
		prefix = fmt.Sprintf("[%s]%s ", index, indicator)
	} else {
		prefix = fmt.Sprintf("[%s]   ", index)
	}
	return prefix + r.FormatEntry(e.Frame) + "\n"
}

// StackTrace formats every frame, outermost first, and the hidden-frame
// notice when frames were skipped.
func (r *Renderer) StackTrace(frames []*engine.Frame, current, hidden int, postMortem bool) string {
	var b strings.Builder
	for i, f := range frames {
		b.WriteString(r.StackEntry(Entry{
			Frame:      f,
			Index:      i,
			Current:    i == current,
			Innermost:  i == len(frames)-1,
			PostMortem: postMortem,
		}))
	}
	b.WriteString(HiddenCount(hidden))
	return b.String()
}

// HiddenCount is the notice printed under a stack listing when frames are
// hidden. It is empty for zero.
func HiddenCount(n int) string {
	if n <= 0 {
		return ""
	}
	plural := "s"
	if n == 1 {
		plural = ""
	}
	return fmt.Sprintf("   %d frame%s hidden (Use \"u\" and \"d\" to travel)\n", n, plural)
}

// ContinueBanner is the rule printed when the operator resumes without a
// breakpoint to stop at.
func ContinueBanner(width int) string {
	width = max(width, 30)
	title := " PDB continue "
	left := (width - len(title)) / 2
	right := width - len(title) - left
	line := strings.Repeat(">", left) + title + strings.Repeat(">", right)
	return "\n" + line + "\n"
}

// Listing formats lines first..last (inclusive) of the frame's file with
// current-line and error-line markers.
func (r *Renderer) Listing(f *engine.Frame, first, last int, postMortem bool) (string, error) {
	w, err := FileLines(r.opts.Source, f)
	if err != nil {
		return "", err
	}
	return r.listWindow(f, w.Clamp(first, last+1), postMortem), nil
}

// LongList formats the whole function of the frame, or the whole file for
// module-level frames.
func (r *Renderer) LongList(f *engine.Frame, postMortem bool) (string, error) {
	w, err := FunctionLines(r.opts.Source, f)
	if err != nil {
		return "", err
	}
	return r.listWindow(f, w, postMortem), nil
}

func (r *Renderer) listWindow(f *engine.Frame, w Window, postMortem bool) string {
	lines := expandTabs(w.Lines)
	if r.opts.Highlight {
		if h := r.opts.Languages.For(f.File); h != nil {
			lines = h.Paint(lines, r.opts.Theme)
		}
	}
	excLine := 0
	if f.Raised != nil {
		excLine = f.Raised.Line
	}
	var b strings.Builder
	for i, l := range lines {
		lineno := w.First + i
		marker := ""
		switch {
		case lineno == f.Line:
			marker = "->"
		case excLine != 0 && lineno == excLine:
			marker = ">>"
		}
		b.WriteString(r.formatLine(lineno, marker, l, postMortem))
		b.WriteString("\n")
	}
	return b.String()
}

// DisplayChange formats a watched expression whose value changed.
func DisplayChange(expr, old, value string) string {
	return fmt.Sprintf("%s: %s --> %s\n", expr, old, value)
}

// Value colors a printed value by its class.
func (r *Renderer) Value(repr string, postMortem bool) string {
	return r.color(r.opts.Palette.ValueColor(ClassifyValue(repr), postMortem), repr)
}
