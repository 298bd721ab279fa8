// Package render formats frames for the terminal: the sticky source
// window, stack entries, listings and the small status lines around them.
// Every function returns text; writing it is the caller's job.
package render

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/opposj/pdbp/internal/engine"
	"github.com/opposj/pdbp/internal/logging"
)

// Options configure a Renderer.
type Options struct {
	Palette Palette
	// Highlight enables colors and syntax highlighting.
	Highlight bool
	// Truncate cuts long lines to the terminal width.
	Truncate bool
	// HomeDir, when set, is shortened to "~" in displayed paths.
	HomeDir   string
	Source    Source
	Languages *Languages
	Theme     Theme
	Log       *logging.Logger
}

// Renderer formats frames. It is not safe for concurrent use; each session
// owns one.
type Renderer struct {
	opts Options
	log  *logging.Logger
}

// New creates a renderer. Missing collaborators get defaults.
func New(opts Options) *Renderer {
	if opts.Source == nil {
		opts.Source = NewFileSource()
	}
	if opts.Languages == nil {
		opts.Languages = DefaultLanguages()
	}
	if opts.Theme == nil {
		opts.Theme = DefaultTheme()
	}
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	return &Renderer{opts: opts, log: opts.Log.WithComponent("render")}
}

// Source returns the source reader.
func (r *Renderer) Source() Source { return r.opts.Source }

// Palette returns the active palette.
func (r *Renderer) Palette() Palette { return r.opts.Palette }

// Truncate reports whether long lines are cut.
func (r *Renderer) Truncate() bool { return r.opts.Truncate }

// ToggleTruncate flips line truncation and returns the new setting.
func (r *Renderer) ToggleTruncate() bool {
	r.opts.Truncate = !r.opts.Truncate
	return r.opts.Truncate
}

// Highlight reports whether output is colored.
func (r *Renderer) Highlight() bool { return r.opts.Highlight }

func (r *Renderer) color(code, s string) string {
	if !r.opts.Highlight {
		return s
	}
	return Colorize(code, s)
}

// ShortPath replaces a leading home directory with "~" when it occurs
// exactly once in path.
func (r *Renderer) ShortPath(path string) string {
	home := r.opts.HomeDir
	if len(home) <= 4 || !strings.HasPrefix(path, home) || strings.Count(path, home) != 1 {
		return path
	}
	return "~" + strings.TrimPrefix(path, home)
}

// Range is a half-open line range pinned for a frame's sticky view.
type Range struct {
	Start, End int
}

// StickyFrame describes one sticky repaint.
type StickyFrame struct {
	Frame *engine.Frame
	// Index is the frame's position in the visible stack.
	Index         int
	Width, Height int
	// Range, when set, replaces the function bounds.
	Range *Range
	// PostMortem selects post-mortem colors.
	PostMortem bool
}

// Sticky renders the source window around the current line. The result
// ends with a blank line and a cursor-up so the prompt follows directly.
func (r *Renderer) Sticky(s StickyFrame) string {
	f := s.Frame
	win, err := FunctionLines(r.opts.Source, f)
	if err != nil {
		r.log.Debug("sticky source", "file", f.File, "error", err)
		return r.Unavailable(f, err)
	}
	if s.Range != nil {
		if whole, ferr := FileLines(r.opts.Source, f); ferr == nil {
			win = whole.Clamp(s.Range.Start, s.Range.End)
		}
	}

	excLine := 0
	if f.Raised != nil {
		excLine = f.Raised.Line
	}

	offset := 0
	switch last := win.Last(); {
	case last > 99999:
		offset = 2
	case last > 9999:
		offset = 1
	}
	lines := expandTabs(win.Lines)
	width := s.Width - offset
	height := s.Height - 1

	overflow := 0
	if !r.opts.Truncate {
		remaining := height
		for _, l := range lines {
			if Width(l) > width-9 {
				overflow++
			}
			remaining--
			if remaining <= 0 {
				break
			}
		}
	}

	var maxLength int
	if r.opts.Truncate {
		maxLength = max(width-9, 16)
		for i, l := range lines {
			lines[i] = FitWidth(l, maxLength, true)
		}
	} else {
		for _, l := range lines {
			maxLength = max(maxLength, Width(l))
		}
	}
	if r.opts.Highlight {
		// Padding lets the current-line background span the window.
		for i, l := range lines {
			lines[i] = FitWidth(l, maxLength, r.opts.Truncate)
		}
		if h := r.opts.Languages.For(f.File); h != nil {
			lines = h.Paint(lines, r.opts.Theme)
		}
	}

	header := r.stickyHeader(s)
	if height >= 6 {
		lastMarker := max(f.Line, excLine) - win.First
		if lastMarker >= 0 && width > 0 {
			overflow += Width(header) / width
			maxLines := lastMarker + height*2/3 - int(math.Ceil(float64(overflow)/3))
			maxLines = max(maxLines, 0)
			if len(lines) > maxLines {
				lines = append(lines[:maxLines:maxLines], r.color("39;49;1", "..."))
			}
		}
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	if win.First > 1 {
		b.WriteString(r.color(r.opts.Palette.LineNumber, dots(win.First)))
	}
	b.WriteString("\n")

	markedExc := false
	lineno := win.First
	for i, l := range lines {
		marker := ""
		switch {
		case lineno == f.Line:
			marker = "->"
		case excLine != 0 && lineno == excLine:
			marker = ">>"
			markedExc = true
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.formatLine(lineno, marker, l, s.PostMortem))
		lineno++
	}
	b.WriteString("\n\n" + LineUp)

	b.WriteString(r.annotation(f, s.PostMortem, markedExc))
	return b.String()
}

func (r *Renderer) stickyHeader(s StickyFrame) string {
	p := r.opts.Palette
	return fmt.Sprintf("[%s] > %s(%s)",
		r.color(p.StackColor(s.PostMortem), fmt.Sprint(s.Index)),
		r.color(p.Filename, r.ShortPath(s.Frame.File)),
		r.color(p.LineNumber, fmt.Sprint(s.Frame.Line)))
}

// dots marks how far into the file a window starts.
func dots(first int) string {
	switch {
	case first == 1:
		return ""
	case first > 99999:
		return "......"
	case first > 9999:
		return "....."
	case first > 999:
		return "...."
	case first > 99:
		return " ..."
	case first > 9:
		return "  .."
	default:
		return "   ."
	}
}

func (r *Renderer) formatLine(lineno int, marker, line string, postMortem bool) string {
	num := r.color(r.opts.Palette.LineNumber, fmt.Sprintf("%4d", lineno))
	out := fmt.Sprintf("%s  %2s %s", num, marker, line)
	if !r.opts.Highlight {
		return out
	}
	switch marker {
	case "->":
		code := r.opts.Palette.CurrentLine
		if postMortem {
			code = r.opts.Palette.PostMortemLine
		}
		return SetBackground(out, code)
	case ">>":
		return SetBackground(out, r.opts.Palette.ExceptionLine)
	}
	return out
}

// annotation prints the raised error (unless its line is already marked)
// and the return value below the window.
func (r *Renderer) annotation(f *engine.Frame, postMortem, markedExc bool) string {
	var lines []string
	p := r.opts.Palette
	raised := false
	if f.Raised != nil && !markedExc {
		lines = append(lines, r.color(p.PostMortemReturn, f.Raised.String()))
		raised = true
	}
	if f.Return != nil {
		s := " return " + f.Return.Repr
		class := ClassifyValue(f.Return.Repr)
		code := p.ValueColor(class, postMortem || f.Raised != nil)
		if raised && class == ValueNone {
			code = p.ExceptionLine
			s += " "
		}
		lines = append(lines, r.color(code, s))
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n\n" + LineUp
}

// Unavailable is the one-line notice shown when a frame has no readable
// source.
func (r *Renderer) Unavailable(f *engine.Frame, err error) string {
	if err != nil && !errors.Is(err, ErrSourceUnavailable) {
		r.log.Warn("rendering frame", "file", f.File, "error", err)
	}
	return fmt.Sprintf("** location unavailable: %s:%d **\n", r.ShortPath(f.File), f.Line)
}
