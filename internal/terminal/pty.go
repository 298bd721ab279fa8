package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Pair is the two sides of a session terminal. The control side is what
// the debugger reads commands from and writes output to; the worker side
// is the device the operator connects to.
type Pair struct {
	ControlIn  io.ReadCloser
	ControlOut io.WriteCloser
	Worker     *os.File
	WorkerPath string
}

// Allocator creates a Pair.
type Allocator func() (*Pair, error)

// OpenPTY allocates a pseudo-terminal pair, puts the worker side into raw
// mode and duplicates the control descriptor so input and output close
// independently.
func OpenPTY() (*Pair, error) {
	control, worker, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}

	cleanup := func(cause error) error {
		return errors.Join(cause, worker.Close(), control.Close())
	}

	if _, err := term.MakeRaw(int(worker.Fd())); err != nil {
		return nil, fmt.Errorf("set raw mode on %s: %w", worker.Name(), cleanup(err))
	}

	fd, err := unix.Dup(int(control.Fd()))
	if err != nil {
		return nil, fmt.Errorf("duplicate pty control: %w", cleanup(err))
	}
	unix.CloseOnExec(fd)

	return &Pair{
		ControlIn:  control,
		ControlOut: os.NewFile(uintptr(fd), control.Name()),
		Worker:     worker,
		WorkerPath: worker.Name(),
	}, nil
}

// Resize sets the window size of the worker side.
func (p *Pair) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return ErrInvalidSize
	}
	if p.Worker == nil {
		return nil
	}
	return pty.Setsize(p.Worker, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// IsCharDevice reports whether path names a character device.
func IsCharDevice(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFCHR
}
