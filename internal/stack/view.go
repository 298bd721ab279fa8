// Package stack filters a thread's full call stack into the frames the
// operator navigates and keeps the navigation cursor consistent across
// pauses.
//
// Frames are ordered outermost first: index 0 is the oldest frame, the last
// index is the innermost (newest) frame.
package stack

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/opposj/pdbp/internal/engine"
)

// View is the per-session filtered stack and cursor.
type View struct {
	mu sync.RWMutex

	classifier Classifier
	showHidden bool

	entryID  int
	hasEntry bool

	full    []*engine.Frame
	visible []*engine.Frame
	hidden  []*engine.Frame
	index   int
}

// New creates a view using c to classify hidden frames.
func New(c Classifier) *View {
	if c == nil {
		c = Disabled
	}
	return &View{classifier: c}
}

// SetEntry records the frame that triggered the debugger entry. It is
// never hidden.
func (v *View) SetEntry(frameID int) {
	v.mu.Lock()
	v.entryID = frameID
	v.hasEntry = true
	v.mu.Unlock()
}

// SetShowHidden toggles hidden-frame filtering. It takes effect on the
// next Compute or Refresh.
func (v *View) SetShowHidden(show bool) {
	v.mu.Lock()
	v.showHidden = show
	v.mu.Unlock()
}

// ShowHidden reports whether hidden frames are currently shown.
func (v *View) ShowHidden() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.showHidden
}

// Compute filters full and places the cursor on the visible frame at or
// outside full[current]. It returns the visible frames and cursor index.
func (v *View) Compute(full []*engine.Frame, current int) ([]*engine.Frame, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.compute(full, current)
	return v.visible, v.index
}

func (v *View) compute(full []*engine.Frame, current int) {
	v.full = full
	v.visible = make([]*engine.Frame, 0, len(full))
	v.hidden = v.hidden[:0]

	if current < 0 || current >= len(full) {
		current = len(full) - 1
	}

	upToCurrent := 0
	for i, f := range full {
		if v.isHidden(f) {
			v.hidden = append(v.hidden, f)
			continue
		}
		v.visible = append(v.visible, f)
		if i <= current {
			upToCurrent++
		}
	}

	// Everything hidden: keep the innermost frame navigable.
	if len(v.visible) == 0 && len(full) > 0 {
		last := full[len(full)-1]
		v.hidden = v.hidden[:len(v.hidden)-1]
		v.visible = append(v.visible, last)
		upToCurrent = 1
	}

	v.index = upToCurrent - 1
	if v.index < 0 {
		v.index = 0
	}
}

func (v *View) isHidden(f *engine.Frame) bool {
	if v.showHidden {
		return false
	}
	if v.hasEntry && f.ID == v.entryID {
		return false
	}
	return v.classifier.IsHidden(f)
}

// Refresh recomputes from a new full stack after the engine moved. The
// cursor returns to the previously current frame when it is still visible,
// otherwise to the innermost visible frame; moved reports the fallback.
func (v *View) Refresh(full []*engine.Frame) (moved bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	prevID, hadPrev := 0, false
	if cur := v.current(); cur != nil {
		prevID, hadPrev = cur.ID, true
	}

	v.compute(full, len(full)-1)

	if hadPrev {
		for i, f := range v.visible {
			if f.ID == prevID {
				v.index = i
				return false
			}
		}
	}
	if len(v.visible) > 0 {
		v.index = len(v.visible) - 1
	}
	return true
}

// Move shifts the cursor by delta; negative moves outward (up). Moving
// from the boundary frame fails and leaves the cursor unchanged; larger
// steps are clamped to the boundary.
func (v *View) Move(delta int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.visible) == 0 {
		return ErrEmptyStack
	}
	switch {
	case delta < 0 && v.index == 0:
		return ErrOldestFrame
	case delta > 0 && v.index == len(v.visible)-1:
		return ErrNewestFrame
	}

	v.index = clamp(v.index+delta, 0, len(v.visible)-1)
	return nil
}

// Select places the cursor on visible frame n.
func (v *View) Select(n int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if n < 0 || n >= len(v.visible) {
		return fmt.Errorf("%w: %d", ErrInvalidNavigationArgument, n)
	}
	v.index = n
	return nil
}

// JumpTo moves the execution point of the innermost frame to line.
func (v *View) JumpTo(ctx context.Context, id engine.ThreadID, line int, j engine.Jumper) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.visible) == 0 {
		return ErrEmptyStack
	}
	if v.index != len(v.visible)-1 {
		return ErrInvalidJumpContext
	}
	if j == nil {
		return ErrJumpUnsupported
	}

	f := v.visible[v.index]
	if err := j.Jump(ctx, id, f.ID, line); err != nil {
		return err
	}
	f.Line = line
	return nil
}

// Current returns the frame under the cursor, or nil.
func (v *View) Current() *engine.Frame {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current()
}

func (v *View) current() *engine.Frame {
	if v.index < 0 || v.index >= len(v.visible) {
		return nil
	}
	return v.visible[v.index]
}

// Index returns the cursor position.
func (v *View) Index() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.index
}

// Len returns the number of visible frames.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.visible)
}

// IsInnermost reports whether the cursor is on the newest frame.
func (v *View) IsInnermost() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.visible) > 0 && v.index == len(v.visible)-1
}

// Frames returns a copy of the visible frames.
func (v *View) Frames() []*engine.Frame {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]*engine.Frame(nil), v.visible...)
}

// Hidden returns a copy of the frames filtered out by the last compute.
func (v *View) Hidden() []*engine.Frame {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]*engine.Frame(nil), v.hidden...)
}

// Full returns the last full stack.
func (v *View) Full() []*engine.Frame {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]*engine.Frame(nil), v.full...)
}

// ParseCount parses the optional count argument of up and down.
func ParseCount(arg string) (int, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNavigationArgument, arg)
	}
	return n, nil
}

// ParseIndex parses the frame command argument.
func ParseIndex(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNavigationArgument, arg)
	}
	return n, nil
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
