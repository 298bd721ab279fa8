package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetBackground(t *testing.T) {
	got := SetBackground("a\x1b[31mb\x1b[00m", "44")
	assert.Equal(t, "\x1b[44ma\x1b[31;44mb\x1b[00;44m\x1b[00m", got)
	assert.Equal(t, "x", SetBackground("x", ""))
}

func TestColorize(t *testing.T) {
	assert.Equal(t, "\x1b[1mx\x1b[00m", Colorize("1", "x"))
	assert.Equal(t, "x", Colorize("", "x"))
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		spec       string
		background bool
		want       string
		wantErr    bool
	}{
		{spec: "38;5;167", want: "38;5;167"},
		{spec: " 1 ", want: "1"},
		{spec: "", want: ""},
		{spec: "#ff0000", want: "38;2;255;0;0"},
		{spec: "#00ff00", background: true, want: "48;2;0;255;0"},
		{spec: "Red", want: "38;2;255;0;0"},
		{spec: "#zz0000", wantErr: true},
		{spec: "no-such-color", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseColor(tt.spec, tt.background)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidColor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyValue(t *testing.T) {
	tests := map[string]ValueClass{
		"None":   ValueNone,
		"nil":    ValueNone,
		"True":   ValueTrue,
		"false":  ValueFalse,
		"":       ValueFalse,
		"[]":     ValueFalse,
		"{}":     ValueFalse,
		"42":     ValueNumber,
		"3.5":    ValueNumber,
		"'text'": ValueGeneric,
		"[1]":    ValueGeneric,
	}
	for repr, want := range tests {
		assert.Equal(t, want, ClassifyValue(repr), "repr %q", repr)
	}
}

func TestValueColor(t *testing.T) {
	p := DefaultPalette()
	p.NumberReturn = "num"
	p.PostMortemReturn = "pm"
	assert.Equal(t, "num", p.ValueColor(ValueNumber, false))
	assert.Equal(t, "pm", p.ValueColor(ValueNumber, true))
	assert.Equal(t, p.Return, p.ValueColor(ValueGeneric, false))
}

func TestWidth(t *testing.T) {
	assert.Equal(t, 5, Width("hello"))
	assert.Equal(t, 6, Width("日本語"))
	assert.Equal(t, 3, Width("\x1b[31mabc\x1b[00m"))
}

func TestFitWidth(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		width int
		pad   bool
		want  string
	}{
		{"exact", "abc", 3, true, "abc"},
		{"trim", "abcdef", 4, false, "abcd"},
		{"pad", "ab", 4, true, "ab  "},
		{"no pad", "ab", 4, false, "ab"},
		{"wide trim", "日本語", 5, false, "日本"},
		{"wide pad", "日本語", 5, true, "日本 "},
		{"zero", "abc", 0, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FitWidth(tt.line, tt.width, tt.pad))
		})
	}
}

func TestHighlighterGo(t *testing.T) {
	h := DefaultLanguages().For("main.go")
	require.NotNil(t, h)
	assert.Equal(t, "go", h.Language())

	tokens, state := h.Tokenize(`return "x" // done`, LexNormal)
	assert.Equal(t, LexNormal, state)
	require.Len(t, tokens, 3)
	assert.Equal(t, Token{Kind: TokenKeyword, Start: 0, End: 6}, tokens[0])
	assert.Equal(t, TokenString, tokens[1].Kind)
	assert.Equal(t, TokenComment, tokens[2].Kind)

	_, state = h.Tokenize("x := 1 /* open", LexNormal)
	assert.Equal(t, LexBlockComment, state)
	tokens, state = h.Tokenize("still */ nil", state)
	assert.Equal(t, LexNormal, state)
	require.Len(t, tokens, 2)
	assert.Equal(t, Token{Kind: TokenComment, Start: 0, End: 8}, tokens[0])
	assert.Equal(t, Token{Kind: TokenConstant, Start: 9, End: 12}, tokens[1])
}

func TestHighlighterCommentBeatsString(t *testing.T) {
	h := DefaultLanguages().For("x.py")
	tokens, state := h.Tokenize(`# say """hi`, LexNormal)
	assert.Equal(t, LexNormal, state)
	require.Len(t, tokens, 1)
	assert.Equal(t, TokenComment, tokens[0].Kind)
}

func TestPaint(t *testing.T) {
	h := DefaultLanguages().For("x.py")
	out := h.Paint([]string{"def f(): pass"}, Theme{TokenDeclaration: "1"})
	assert.Equal(t, "\x1b[1mdef\x1b[39;23m f(): pass", out[0])
	assert.Nil(t, DefaultLanguages().For("notes.txt"))
}

func TestBufferRepaint(t *testing.T) {
	var out bytes.Buffer
	b := NewBuffer(&out)
	body := "header\n\nline\n\n" + LineUp

	_, err := b.Paint(body, 40)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.String(), ClearScreen))
	assert.Equal(t, 3, Rows(body))

	out.Reset()
	b.Advance(1)
	_, err = b.Paint(body, 40)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.String(), "\x1b[4F"+EraseDown), "%q", out.String())

	out.Reset()
	b.Dirty()
	_, err = b.Paint(body, 40)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.String(), ClearScreen))

	out.Reset()
	_, err = b.Paint(body, 3)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.String(), ClearScreen), "taller than the screen")
	assert.Equal(t, out.Len(), b.LastBytes())
}
