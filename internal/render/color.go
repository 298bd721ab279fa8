package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"
)

// Terminal control sequences.
const (
	Reset       = "\x1b[00m"
	ClearScreen = "\x1b[2J\x1b[1;1H"
	// LineUp moves the cursor to the start of the previous line.
	LineUp = "\x1b[F"
	// EraseDown clears from the cursor to the end of the screen.
	EraseDown = "\x1b[J"
)

// Palette holds the SGR codes used by the renderer.
type Palette struct {
	Filename         string
	LineNumber       string
	Stack            string
	PostMortemStack  string
	Return           string
	PostMortemReturn string
	NumberReturn     string
	TrueReturn       string
	FalseReturn      string
	NoneReturn       string
	CurrentLine      string
	PostMortemLine   string
	ExceptionLine    string
}

// DefaultPalette returns the stock colors.
func DefaultPalette() Palette {
	return Palette{
		Filename:         "38;5;167",
		LineNumber:       "38;5;226",
		Stack:            "38;5;120",
		PostMortemStack:  "38;5;217",
		Return:           "38;5;231;1",
		PostMortemReturn: "38;5;231;1",
		NumberReturn:     "38;5;231;1",
		TrueReturn:       "38;5;231;1",
		FalseReturn:      "38;5;231;1",
		NoneReturn:       "38;5;231;1",
		CurrentLine:      "97;48;5;67;1",
		PostMortemLine:   "97;48;5;133;1",
		ExceptionLine:    "38;5;16;48;5;144",
	}
}

// Colorize wraps s in code. An empty code leaves s untouched.
func Colorize(code, s string) string {
	if code == "" {
		return s
	}
	return "\x1b[" + code + "m" + s + Reset
}

var sgrEnd = regexp.MustCompile(`(\x1b\[[0-9;]*?)m`)

// SetBackground paints line with code, re-applying it after every SGR
// sequence inside line so embedded resets do not clear it.
func SetBackground(line, code string) string {
	if code == "" {
		return line
	}
	return "\x1b[" + code + "m" + sgrEnd.ReplaceAllString(line, "${1};"+code+"m") + Reset
}

var sgrCode = regexp.MustCompile(`^[0-9]+(;[0-9]+)*$`)

// ParseColor turns a configured color into an SGR code. It accepts a raw
// code ("38;5;167"), a hex color ("#d75f5f") or a color name ("salmon").
// Hex and named colors become foreground codes unless background is set.
func ParseColor(spec string, background bool) (string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", nil
	}
	if sgrCode.MatchString(spec) {
		return spec, nil
	}

	lead := "38"
	if background {
		lead = "48"
	}
	if strings.HasPrefix(spec, "#") {
		c, err := colorful.Hex(spec)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidColor, spec, err)
		}
		r, g, b := c.RGB255()
		return fmt.Sprintf("%s;2;%d;%d;%d", lead, r, g, b), nil
	}

	c := tcell.GetColor(strings.ToLower(spec))
	if c == tcell.ColorDefault || !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidColor, spec)
	}
	r, g, b := c.RGB()
	return fmt.Sprintf("%s;2;%d;%d;%d", lead, r, g, b), nil
}

// ValueClass buckets a printed value for coloring.
type ValueClass int

// Value classes.
const (
	ValueGeneric ValueClass = iota
	ValueNone
	ValueTrue
	ValueFalse
	ValueNumber
)

// ClassifyValue buckets a printed value by its text.
func ClassifyValue(repr string) ValueClass {
	switch repr {
	case "None", "nil":
		return ValueNone
	case "True", "true":
		return ValueTrue
	case "False", "false", "", "[]", "{}":
		return ValueFalse
	}
	if repr[0] >= '0' && repr[0] <= '9' {
		return ValueNumber
	}
	return ValueGeneric
}

// ValueColor returns the code for a value of class c. Post-mortem values
// all use the post-mortem color.
func (p Palette) ValueColor(c ValueClass, postMortem bool) string {
	if postMortem {
		return p.PostMortemReturn
	}
	switch c {
	case ValueNone:
		return p.NoneReturn
	case ValueTrue:
		return p.TrueReturn
	case ValueFalse:
		return p.FalseReturn
	case ValueNumber:
		return p.NumberReturn
	default:
		return p.Return
	}
}

// StackColor returns the color for frame indices.
func (p Palette) StackColor(postMortem bool) string {
	if postMortem {
		return p.PostMortemStack
	}
	return p.Stack
}
