package dap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/google/go-dap"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/opposj/pdbp/internal/logging"
)

// ErrClosed is returned by calls on a client whose connection is gone.
var ErrClosed = errors.New("adapter connection closed")

// RequestError is an adapter's refusal of a request.
type RequestError struct {
	Command string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// Client correlates requests with responses and fans events out to
// subscribers. Event handlers run on the receive goroutine and must not
// block on requests.
type Client struct {
	t   Transport
	log *logging.Logger
	seq atomic.Int64

	mu       sync.Mutex
	pending  map[int]chan *Response
	handlers map[string][]func(Event)
	err      error
	closing  bool

	done chan struct{}
}

// NewClient starts receiving from t.
func NewClient(t Transport, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Nop()
	}
	c := &Client{
		t:        t,
		log:      log.WithComponent("dap"),
		pending:  make(map[int]chan *Response),
		handlers: make(map[string][]func(Event)),
		done:     make(chan struct{}),
	}
	go c.receive()
	return c
}

// On subscribes fn to events named event; "*" receives every event.
func (c *Client) On(event string, fn func(Event)) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], fn)
	c.mu.Unlock()
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil after Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the transport down.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	return c.t.Close()
}

// Call sends command and decodes the response body into out, which may be
// nil.
func (c *Client) Call(ctx context.Context, command string, args, out any) error {
	seq := int(c.seq.Add(1))
	content, err := json.Marshal(newRequest(seq, command, args))
	if err != nil {
		return fmt.Errorf("encode %s: %w", command, err)
	}

	ch := make(chan *Response, 1)
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return ErrClosed
	default:
	}
	c.pending[seq] = ch
	c.mu.Unlock()

	if err := c.t.Send(content); err != nil {
		c.forget(seq)
		return fmt.Errorf("send %s: %w", command, err)
	}

	var resp *Response
	select {
	case <-ctx.Done():
		c.forget(seq)
		return ctx.Err()
	case r, ok := <-ch:
		if !ok {
			if err := c.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return ErrClosed
		}
		resp = r
	}

	if !resp.Success {
		return &RequestError{Command: command, Message: failureMessage(resp)}
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", command, err)
		}
	}
	return nil
}

func (c *Client) forget(seq int) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func (c *Client) receive() {
	var err error
	for {
		var content []byte
		content, err = c.t.Receive()
		if err != nil {
			break
		}
		c.dispatch(content)
	}

	c.mu.Lock()
	closing := c.closing
	if !closing {
		c.err = err
	}
	for seq, ch := range c.pending {
		close(ch)
		delete(c.pending, seq)
	}
	close(c.done)
	c.mu.Unlock()

	if !closing {
		c.log.Debug("adapter connection ended", "error", err)
	}
}

func (c *Client) dispatch(content []byte) {
	switch kind := gjson.GetBytes(content, "type").String(); kind {
	case kindResponse:
		var r Response
		if err := json.Unmarshal(content, &r); err != nil {
			c.log.Warn("malformed response", "error", err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[r.RequestSeq]
		delete(c.pending, r.RequestSeq)
		c.mu.Unlock()
		if ok {
			ch <- &r
		}

	case kindEvent:
		var ev Event
		if err := json.Unmarshal(content, &ev); err != nil {
			c.log.Warn("malformed event", "error", err)
			return
		}
		c.mu.Lock()
		fns := append(append([]func(Event){}, c.handlers[ev.Event]...), c.handlers["*"]...)
		c.mu.Unlock()
		for _, fn := range fns {
			fn(ev)
		}

	case kindRequest:
		c.refuse(content)

	default:
		c.log.Warn("unknown message type", "type", kind)
	}
}

// refuse answers reverse requests such as runInTerminal, which pdbp does
// not serve. The reply is patched from the request so adapter-specific
// commands need no go-dap type.
func (c *Client) refuse(content []byte) {
	command := gjson.GetBytes(content, "command").String()
	reply := []byte(`{"type":"response","success":false}`)
	reply, _ = sjson.SetBytes(reply, "seq", c.seq.Add(1))
	reply, _ = sjson.SetBytes(reply, "request_seq", gjson.GetBytes(content, "seq").Int())
	reply, _ = sjson.SetBytes(reply, "command", command)
	reply, _ = sjson.SetBytes(reply, "message", "not supported by pdbp")
	if err := c.t.Send(reply); err != nil {
		c.log.Debug("refusing reverse request", "command", command, "error", err)
	}
}

// failureMessage expands the structured error of a failed response, falling
// back to its short message.
func failureMessage(r *Response) string {
	var body dap.ErrorResponseBody
	if len(r.Body) == 0 || json.Unmarshal(r.Body, &body) != nil || body.Error == nil || body.Error.Format == "" {
		if r.Message == "" {
			return "request failed"
		}
		return r.Message
	}
	msg := body.Error.Format
	for k, v := range body.Error.Variables {
		msg = strings.ReplaceAll(msg, "{"+k+"}", v)
	}
	return msg
}
