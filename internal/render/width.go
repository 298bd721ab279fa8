package render

import (
	"regexp"
	"strings"

	"github.com/rivo/uniseg"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansi.ReplaceAllString(s, "")
}

// Width is the number of terminal cells s occupies. Wide East Asian
// characters count as two.
func Width(s string) int {
	return uniseg.StringWidth(StripANSI(s))
}

// FitWidth trims line to at most width cells, never splitting a grapheme.
// With pad set, shorter lines are filled with spaces to exactly width.
func FitWidth(line string, width int, pad bool) string {
	if width <= 0 {
		return ""
	}
	w := uniseg.StringWidth(line)
	if w == width {
		return line
	}
	if w > width {
		var b strings.Builder
		w = 0
		g := uniseg.NewGraphemes(line)
		for g.Next() {
			cw := g.Width()
			if w+cw > width {
				break
			}
			b.WriteString(g.Str())
			w += cw
		}
		line = b.String()
	}
	if pad && w < width {
		line += strings.Repeat(" ", width-w)
	}
	return line
}

// expandTabs replaces tabs with four spaces and drops trailing blanks.
func expandTabs(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimRight(strings.ReplaceAll(l, "\t", "    "), " \t\r\n")
	}
	return out
}
