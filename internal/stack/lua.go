package stack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/opposj/pdbp/internal/engine"
)

// DefaultPredicateTimeout bounds one is_hidden call.
const DefaultPredicateTimeout = 50 * time.Millisecond

// ErrNoPredicate is returned when a script defines no is_hidden function.
var ErrNoPredicate = errors.New("script does not define is_hidden(frame)")

// LuaClassifier hides frames for which the user script's is_hidden(frame)
// returns true. The frame is passed as a table with fields func, file,
// line and module.
//
// gopher-lua states are not goroutine-safe; calls are serialized.
type LuaClassifier struct {
	mu      sync.Mutex
	L       *lua.LState
	fn      lua.LValue
	timeout time.Duration
	onError func(error)
}

// NewLuaClassifier compiles script in a state with only the base, table,
// string and math libraries opened.
func NewLuaClassifier(script string) (*LuaClassifier, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, open := range []lua.LGFunction{lua.OpenBase, lua.OpenTable, lua.OpenString, lua.OpenMath} {
		open(L)
	}
	for _, name := range []string{"dofile", "loadfile", "require"} {
		L.SetGlobal(name, lua.LNil)
	}

	if err := L.DoString(script); err != nil {
		L.Close()
		return nil, fmt.Errorf("load hidden-frame script: %w", err)
	}
	fn := L.GetGlobal("is_hidden")
	if fn.Type() != lua.LTFunction {
		L.Close()
		return nil, ErrNoPredicate
	}

	return &LuaClassifier{L: L, fn: fn, timeout: DefaultPredicateTimeout}, nil
}

// OnError installs a callback for predicate failures. Failing predicates
// leave the frame visible.
func (c *LuaClassifier) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// IsHidden implements Classifier.
func (c *LuaClassifier) IsHidden(f *engine.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.L == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	c.L.SetContext(ctx)
	defer c.L.RemoveContext()

	tbl := c.L.NewTable()
	tbl.RawSetString("func", lua.LString(f.Function))
	tbl.RawSetString("file", lua.LString(f.File))
	tbl.RawSetString("line", lua.LNumber(f.Line))
	tbl.RawSetString("module", lua.LBool(f.Module))

	err := c.L.CallByParam(lua.P{Fn: c.fn, NRet: 1, Protect: true}, tbl)
	if err != nil {
		if c.onError != nil {
			c.onError(err)
		}
		return false
	}
	ret := c.L.Get(-1)
	c.L.Pop(1)
	return lua.LVAsBool(ret)
}

// Close releases the Lua state.
func (c *LuaClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.L != nil {
		c.L.Close()
		c.L = nil
	}
}
