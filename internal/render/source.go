package render

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/opposj/pdbp/internal/engine"
)

// Source reads the lines of a source file.
type Source interface {
	Lines(path string) ([]string, error)
}

// FileSource reads files from disk and caches them. Files that are not
// valid UTF-8 are decoded as Latin-1.
type FileSource struct {
	mu    sync.Mutex
	cache map[string][]string
}

// NewFileSource creates an empty source cache.
func NewFileSource() *FileSource {
	return &FileSource{cache: make(map[string][]string)}
}

// Lines returns the lines of path without line terminators.
func (s *FileSource) Lines(path string) ([]string, error) {
	s.mu.Lock()
	if lines, ok := s.cache[path]; ok {
		s.mu.Unlock()
		return lines, nil
	}
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if !utf8.Valid(data) {
		if data, err = charmap.ISO8859_1.NewDecoder().Bytes(data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, path, err)
		}
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")

	s.mu.Lock()
	s.cache[path] = lines
	s.mu.Unlock()
	return lines, nil
}

// Invalidate drops path from the cache, or everything when path is empty.
func (s *FileSource) Invalidate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path == "" {
		s.cache = make(map[string][]string)
		return
	}
	delete(s.cache, path)
}

// Window is a contiguous run of source lines starting at First.
type Window struct {
	Lines []string
	First int
}

// Last returns the line number of the final line.
func (w Window) Last() int { return w.First + len(w.Lines) - 1 }

// Clamp restricts the window to the half-open line range [start, end).
func (w Window) Clamp(start, end int) Window {
	start = max(start, w.First)
	end = min(end, w.First+len(w.Lines))
	if start >= end {
		return Window{First: start}
	}
	return Window{Lines: w.Lines[start-w.First : end-w.First], First: start}
}

// FileLines returns every line of the frame's file.
func FileLines(src Source, f *engine.Frame) (Window, error) {
	if len(f.Source) > 0 {
		return Window{Lines: f.Source, First: 1}, nil
	}
	if f.File == "" {
		return Window{}, fmt.Errorf("%w: frame %d has no file", ErrSourceUnavailable, f.ID)
	}
	lines, err := src.Lines(f.File)
	if err != nil {
		return Window{}, err
	}
	return Window{Lines: lines, First: 1}, nil
}

// FunctionLines returns the source of the frame's function, or the whole
// file for module-level frames.
func FunctionLines(src Source, f *engine.Frame) (Window, error) {
	w, err := FileLines(src, f)
	if err != nil {
		return Window{}, err
	}
	if f.Module || f.StartLine <= 0 {
		return w, nil
	}
	end := f.EndLine
	if end < f.StartLine {
		end = w.Last()
	}
	fn := w.Clamp(f.StartLine, end+1)
	if len(fn.Lines) == 0 {
		return Window{}, fmt.Errorf("%w: %s:%d outside file", ErrSourceUnavailable, f.File, f.StartLine)
	}
	return fn, nil
}
