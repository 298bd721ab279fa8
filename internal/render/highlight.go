package render

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// TokenKind is the syntactic class of a highlighted span.
type TokenKind uint8

// Token kinds.
const (
	TokenNone TokenKind = iota
	TokenComment
	TokenString
	TokenNumber
	TokenKeyword
	TokenDeclaration
	TokenConstant
	TokenBuiltin
	TokenDecorator
)

// Token is a highlighted byte range of a line.
type Token struct {
	Kind       TokenKind
	Start, End int
}

// LexState carries an unterminated multi-line construct to the next line.
type LexState uint8

// Lexer states.
const (
	LexNormal LexState = iota
	LexBlockComment
	LexRawString
	LexTripleDouble
	LexTripleSingle
)

// Theme maps token kinds to SGR codes.
type Theme map[TokenKind]string

// DefaultTheme is a 256-color theme close to the usual terminal lexer output.
func DefaultTheme() Theme {
	return Theme{
		TokenComment:     "38;5;245;3",
		TokenString:      "38;5;186",
		TokenNumber:      "38;5;141",
		TokenKeyword:     "38;5;204",
		TokenDeclaration: "38;5;81",
		TokenConstant:    "38;5;141",
		TokenBuiltin:     "38;5;117",
		TokenDecorator:   "38;5;148",
	}
}

type rule struct {
	pattern *regexp.Regexp
	kind    TokenKind
}

type multiLine struct {
	start, end string
	kind       TokenKind
	state      LexState
}

// Highlighter is a rule-based lexer for one language.
type Highlighter struct {
	language   string
	extensions []string
	rules      []rule
	keywords   map[string]TokenKind
	multi      []multiLine
}

func newHighlighter(language string, extensions ...string) *Highlighter {
	return &Highlighter{
		language:   language,
		extensions: extensions,
		keywords:   make(map[string]TokenKind),
	}
}

func (h *Highlighter) rule(pattern string, kind TokenKind) *Highlighter {
	h.rules = append(h.rules, rule{pattern: regexp.MustCompile(pattern), kind: kind})
	return h
}

func (h *Highlighter) words(kind TokenKind, words ...string) *Highlighter {
	for _, w := range words {
		h.keywords[w] = kind
	}
	return h
}

func (h *Highlighter) span(start, end string, kind TokenKind, state LexState) *Highlighter {
	h.multi = append(h.multi, multiLine{start: start, end: end, kind: kind, state: state})
	return h
}

// Language returns the language name.
func (h *Highlighter) Language() string { return h.language }

// Tokenize splits line into tokens given the state left by the previous line.
func (h *Highlighter) Tokenize(line string, state LexState) ([]Token, LexState) {
	if state != LexNormal {
		m := h.multiFor(state)
		idx := strings.Index(line, m.end)
		if idx < 0 {
			return []Token{{Kind: m.kind, Start: 0, End: len(line)}}, state
		}
		end := idx + len(m.end)
		rest, next := h.tokenize(line[end:])
		tokens := []Token{{Kind: m.kind, Start: 0, End: end}}
		for _, t := range rest {
			t.Start += end
			t.End += end
			tokens = append(tokens, t)
		}
		return tokens, next
	}
	return h.tokenize(line)
}

func (h *Highlighter) multiFor(state LexState) multiLine {
	for _, m := range h.multi {
		if m.state == state {
			return m
		}
	}
	return multiLine{kind: TokenNone}
}

func (h *Highlighter) tokenize(line string) ([]Token, LexState) {
	var tokens []Token
	covered := make([]bool, len(line))
	state := LexNormal

	// The earliest opener wins so a quote inside a comment stays a comment.
	first, firstAt := -1, len(line)
	for i, m := range h.multi {
		if idx := strings.Index(line, m.start); idx >= 0 && idx < firstAt {
			first, firstAt = i, idx
		}
	}
	if first >= 0 && !h.lineCommentBefore(line, firstAt) {
		m := h.multi[first]
		end := len(line)
		if idx := strings.Index(line[firstAt+len(m.start):], m.end); idx >= 0 {
			end = firstAt + len(m.start) + idx + len(m.end)
		} else {
			state = m.state
		}
		tokens = append(tokens, Token{Kind: m.kind, Start: firstAt, End: end})
		mark(covered, firstAt, end)
	}

	for _, r := range h.rules {
		for _, loc := range r.pattern.FindAllStringIndex(line, -1) {
			if loc[1] > loc[0] && !isCovered(covered, loc[0], loc[1]) {
				tokens = append(tokens, Token{Kind: r.kind, Start: loc[0], End: loc[1]})
				mark(covered, loc[0], loc[1])
			}
		}
	}

	for i := 0; i < len(line); {
		c := rune(line[i])
		if covered[i] || !(unicode.IsLetter(c) || c == '_') {
			i++
			continue
		}
		start := i
		for i < len(line) && !covered[i] && (unicode.IsLetter(rune(line[i])) || unicode.IsDigit(rune(line[i])) || line[i] == '_') {
			i++
		}
		if kind, ok := h.keywords[line[start:i]]; ok {
			tokens = append(tokens, Token{Kind: kind, Start: start, End: i})
		}
	}

	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Start < tokens[j].Start })
	return tokens, state
}

// lineCommentBefore reports whether a single-line comment opens before at.
func (h *Highlighter) lineCommentBefore(line string, at int) bool {
	for _, r := range h.rules {
		if r.kind != TokenComment {
			continue
		}
		if loc := r.pattern.FindStringIndex(line); loc != nil && loc[0] < at {
			return true
		}
	}
	return false
}

func isCovered(covered []bool, start, end int) bool {
	for i := start; i < end && i < len(covered); i++ {
		if covered[i] {
			return true
		}
	}
	return false
}

func mark(covered []bool, start, end int) {
	for i := start; i < end && i < len(covered); i++ {
		covered[i] = true
	}
}

// Paint renders lines with theme colors, carrying lexer state across them.
func (h *Highlighter) Paint(lines []string, theme Theme) []string {
	out := make([]string, len(lines))
	state := LexNormal
	for i, line := range lines {
		var tokens []Token
		tokens, state = h.Tokenize(line, state)
		out[i] = paintLine(line, tokens, theme)
	}
	return out
}

func paintLine(line string, tokens []Token, theme Theme) string {
	var b strings.Builder
	pos := 0
	for _, t := range tokens {
		if t.Start < pos {
			continue
		}
		b.WriteString(line[pos:t.Start])
		code := theme[t.Kind]
		if code == "" {
			b.WriteString(line[t.Start:t.End])
		} else {
			b.WriteString("\x1b[" + code + "m" + line[t.Start:t.End] + "\x1b[39;23m")
		}
		pos = t.End
	}
	b.WriteString(line[pos:])
	return b.String()
}

// Languages resolves highlighters by file extension.
type Languages struct {
	byExt map[string]*Highlighter
}

// DefaultLanguages knows Go and Python.
func DefaultLanguages() *Languages {
	l := &Languages{byExt: make(map[string]*Highlighter)}
	l.Register(goHighlighter())
	l.Register(pythonHighlighter())
	return l
}

// Register adds h for each of its extensions.
func (l *Languages) Register(h *Highlighter) {
	for _, ext := range h.extensions {
		l.byExt[ext] = h
	}
}

// For returns the highlighter for path, or nil when none matches.
func (l *Languages) For(path string) *Highlighter {
	if l == nil {
		return nil
	}
	return l.byExt[strings.ToLower(filepath.Ext(path))]
}

func goHighlighter() *Highlighter {
	h := newHighlighter("go", ".go")
	h.span("/*", "*/", TokenComment, LexBlockComment).
		span("`", "`", TokenString, LexRawString)
	h.rule(`//.*$`, TokenComment).
		rule(`"(?:[^"\\]|\\.)*"`, TokenString).
		rule(`'(?:[^'\\]|\\.)+'`, TokenString).
		rule(`\b(?:0[xXoObB][0-9a-fA-F_]+|\d[\d_]*\.?\d*(?:[eE][+-]?\d+)?)\b`, TokenNumber)
	h.words(TokenKeyword,
		"if", "else", "for", "range", "switch", "case", "default", "break",
		"continue", "return", "goto", "fallthrough", "select", "defer", "go",
		"package", "import").
		words(TokenDeclaration, "func", "var", "const", "type", "struct", "interface", "map", "chan").
		words(TokenConstant, "true", "false", "nil", "iota").
		words(TokenBuiltin,
			"make", "new", "len", "cap", "append", "copy", "delete", "close",
			"panic", "recover", "print", "println", "min", "max", "clear",
			"int", "int64", "uint", "float64", "bool", "byte", "rune", "string", "error", "any")
	return h
}

func pythonHighlighter() *Highlighter {
	h := newHighlighter("python", ".py", ".pyw", ".pyi")
	h.span(`"""`, `"""`, TokenString, LexTripleDouble).
		span(`'''`, `'''`, TokenString, LexTripleSingle)
	h.rule(`#.*$`, TokenComment).
		rule(`[rbfRBF]*"(?:[^"\\]|\\.)*"`, TokenString).
		rule(`[rbfRBF]*'(?:[^'\\]|\\.)*'`, TokenString).
		rule(`\b(?:0[xXoObB][0-9a-fA-F_]+|\d[\d_]*\.?\d*(?:[eE][+-]?\d+)?j?)\b`, TokenNumber).
		rule(`@\w+`, TokenDecorator)
	h.words(TokenKeyword,
		"if", "elif", "else", "for", "while", "break", "continue", "return",
		"try", "except", "finally", "raise", "with", "as", "match", "case",
		"import", "from", "global", "nonlocal", "pass", "yield", "assert",
		"del", "in", "is", "not", "and", "or", "await").
		words(TokenDeclaration, "def", "class", "lambda", "async").
		words(TokenConstant, "True", "False", "None").
		words(TokenBuiltin,
			"print", "len", "range", "enumerate", "zip", "isinstance", "open",
			"repr", "str", "int", "float", "bool", "list", "dict", "set", "tuple",
			"super", "type", "object", "self")
	return h
}
