package debugger

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// autoComplete is the line editor's completion hook. It completes on Tab
// only, under the registry's completion lock.
func (s *Session) autoComplete(line string, pos int, key rune) (string, int, bool) {
	if key != '\t' {
		return "", 0, false
	}
	var (
		newLine string
		newPos  int
		ok      bool
	)
	s.d.reg.WithCompletion(s.thread, func() {
		newLine, newPos, ok = s.complete(line, pos)
	})
	return newLine, newPos, ok
}

// complete extends the word before pos to the longest common prefix of
// its candidates: command names for the first word, variable names and
// cached print names after it.
func (s *Session) complete(line string, pos int) (string, int, bool) {
	head, tail := line[:pos], line[pos:]
	start := strings.LastIndexAny(head, " \t(,[") + 1
	word := head[start:]

	var candidates []string
	if start == 0 {
		candidates = s.d.commands.names()
	} else {
		candidates = s.argCandidates(strings.TrimSpace(head[:start]))
	}

	var matches []string
	for _, c := range candidates {
		if strings.HasPrefix(c, word) {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return "", 0, false
	}

	completed := commonPrefix(matches)
	if len(matches) == 1 && start == 0 {
		completed += " "
	}
	if completed == word {
		return "", 0, false
	}
	return head[:start] + completed + tail, start + len(completed), true
}

func (s *Session) argCandidates(before string) []string {
	seen := make(map[string]struct{})
	if f := s.view.Current(); f != nil {
		for name := range f.Locals {
			seen[name] = struct{}{}
		}
		for name := range f.Globals {
			seen[name] = struct{}{}
		}
	}
	if name, _ := splitCommand(before); name == "ep" || name == "ext_print" {
		for _, e := range s.ext.Entries() {
			seen[e.Name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func commonPrefix(words []string) string {
	prefix := words[0]
	for _, w := range words[1:] {
		for !strings.HasPrefix(w, prefix) {
			_, size := utf8.DecodeLastRuneInString(prefix)
			prefix = prefix[:len(prefix)-size]
		}
	}
	return prefix
}
