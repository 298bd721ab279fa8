package dap

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// errNoReply makes the fake adapter swallow a request.
var errNoReply = errors.New("no reply")

type handlerFunc func(args gjson.Result) (any, error)

// fakeAdapter implements Transport by answering requests from handlers.
type fakeAdapter struct {
	mu       sync.Mutex
	seq      int
	handlers map[string]handlerFunc
	after    map[string][]Event
	sent     [][]byte
	closed   bool
	recv     chan []byte
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		handlers: make(map[string]handlerFunc),
		after:    make(map[string][]Event),
		recv:     make(chan []byte, 64),
	}
}

func (a *fakeAdapter) handle(command string, fn handlerFunc) {
	a.mu.Lock()
	a.handlers[command] = fn
	a.mu.Unlock()
}

// reply answers command with a fixed body.
func (a *fakeAdapter) reply(command string, body any) {
	a.handle(command, func(gjson.Result) (any, error) { return body, nil })
}

// then emits event right after answering command.
func (a *fakeAdapter) then(command, event string, body any) {
	a.mu.Lock()
	a.after[command] = append(a.after[command], Event{Event: event, Body: mustJSON(body)})
	a.mu.Unlock()
}

func (a *fakeAdapter) Send(content []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return io.ErrClosedPipe
	}
	a.sent = append(a.sent, append([]byte(nil), content...))

	msg := gjson.ParseBytes(content)
	if msg.Get("type").String() != kindRequest {
		return nil
	}
	command := msg.Get("command").String()
	resp := Response{Response: dap.Response{RequestSeq: int(msg.Get("seq").Int()), Command: command, Success: true}}
	if h := a.handlers[command]; h != nil {
		body, err := h(msg.Get("arguments"))
		switch {
		case errors.Is(err, errNoReply):
			return nil
		case err != nil:
			resp.Success = false
			resp.Message = err.Error()
		case body != nil:
			resp.Body = mustJSON(body)
		}
	}
	a.seq++
	resp.Seq = a.seq
	resp.Type = kindResponse
	a.push(mustJSON(resp))
	for _, ev := range a.after[command] {
		a.pushEvent(ev)
	}
	return nil
}

func (a *fakeAdapter) Receive() ([]byte, error) {
	content, ok := <-a.recv
	if !ok {
		return nil, io.EOF
	}
	return content, nil
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.recv)
	}
	return nil
}

// emit sends an event to the client.
func (a *fakeAdapter) emit(event string, body any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushEvent(Event{Event: event, Body: mustJSON(body)})
}

// raw sends content to the client as is.
func (a *fakeAdapter) raw(content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.push([]byte(content))
}

func (a *fakeAdapter) pushEvent(ev Event) {
	a.seq++
	ev.Seq = a.seq
	ev.Type = kindEvent
	a.push(mustJSON(ev))
}

func (a *fakeAdapter) push(content []byte) {
	if !a.closed {
		a.recv <- content
	}
}

// requests returns the arguments of every request named command.
func (a *fakeAdapter) requests(command string) []gjson.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []gjson.Result
	for _, content := range a.sent {
		msg := gjson.ParseBytes(content)
		if msg.Get("type").String() == kindRequest && msg.Get("command").String() == command {
			out = append(out, msg.Get("arguments"))
		}
	}
	return out
}

// commands returns every request command in order.
func (a *fakeAdapter) commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, content := range a.sent {
		msg := gjson.ParseBytes(content)
		if msg.Get("type").String() == kindRequest {
			out = append(out, msg.Get("command").String())
		}
	}
	return out
}

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func newTestClient(t *testing.T) (*Client, *fakeAdapter) {
	t.Helper()
	a := newFakeAdapter()
	c := NewClient(a, nil)
	t.Cleanup(func() { _ = c.Close() })
	return c, a
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting")
	}
	var zero T
	return zero
}
