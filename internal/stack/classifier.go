package stack

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opposj/pdbp/internal/engine"
)

// Classifier decides whether a frame is hidden from navigation.
type Classifier interface {
	IsHidden(f *engine.Frame) bool
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(f *engine.Frame) bool

// IsHidden implements Classifier.
func (fn ClassifierFunc) IsHidden(f *engine.Frame) bool { return fn(f) }

// Disabled never hides anything.
var Disabled Classifier = ClassifierFunc(func(*engine.Frame) bool { return false })

// MarkerClassifier hides frames carrying any hide marker.
type MarkerClassifier struct {
	// SkipTestHelpers controls whether test-framework frames are hidden.
	SkipTestHelpers bool
}

// IsHidden implements Classifier.
func (m MarkerClassifier) IsHidden(f *engine.Frame) bool {
	if f.Hints.HideFrame || f.Hints.TracebackHide {
		return true
	}
	return m.SkipTestHelpers && f.Hints.TestHelper
}

// OptOutClassifier hides frames whose function name is in the set.
type OptOutClassifier map[string]struct{}

// NewOptOut builds an OptOutClassifier from function names.
func NewOptOut(functions ...string) OptOutClassifier {
	set := make(OptOutClassifier, len(functions))
	for _, fn := range functions {
		set[fn] = struct{}{}
	}
	return set
}

// IsHidden implements Classifier.
func (o OptOutClassifier) IsHidden(f *engine.Frame) bool {
	_, ok := o[f.Function]
	return ok
}

// GlobClassifier hides frames whose file matches one of the patterns.
// Patterns use doublestar syntax, e.g. "**/vendor/**".
type GlobClassifier struct {
	patterns []string
}

// NewGlobClassifier validates patterns and returns a classifier.
func NewGlobClassifier(patterns ...string) (*GlobClassifier, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(filepath.ToSlash(p)) {
			return nil, doublestar.ErrBadPattern
		}
	}
	return &GlobClassifier{patterns: patterns}, nil
}

// IsHidden implements Classifier.
func (g *GlobClassifier) IsHidden(f *engine.Frame) bool {
	if f.File == "" {
		return false
	}
	path := filepath.ToSlash(f.File)
	rel := strings.TrimPrefix(path, "/")
	for _, p := range g.patterns {
		p = filepath.ToSlash(p)
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// anyOf hides a frame when any member does.
type anyOf []Classifier

// AnyOf combines classifiers; nil members are skipped.
func AnyOf(cs ...Classifier) Classifier {
	var out anyOf
	for _, c := range cs {
		if c != nil {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return Disabled
	}
	return out
}

// IsHidden implements Classifier.
func (a anyOf) IsHidden(f *engine.Frame) bool {
	for _, c := range a {
		if c.IsHidden(f) {
			return true
		}
	}
	return false
}
