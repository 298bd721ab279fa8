// Package dap drives a Debug Adapter Protocol server as pdbp's step engine.
//
// The Client speaks the wire protocol; Engine maps it onto engine.Engine,
// turning every "stopped" event into a pause delivered on the stopped
// thread's own goroutine. Argument and body types come from go-dap.
package dap

import (
	"github.com/goccy/go-json"
	"github.com/google/go-dap"
)

// Message kinds.
const (
	kindRequest  = "request"
	kindResponse = "response"
	kindEvent    = "event"
)

// request carries any command's arguments. go-dap has one typed request
// per command; the client sends them all through this envelope.
type request struct {
	dap.Request
	Arguments any `json:"arguments,omitempty"`
}

func newRequest(seq int, command string, args any) request {
	return request{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: kindRequest},
			Command:         command,
		},
		Arguments: args,
	}
}

// Response is an adapter reply. The body stays raw until the caller
// decodes it into the go-dap body type it expects.
type Response struct {
	dap.Response
	Body json.RawMessage `json:"body,omitempty"`
}

// Event is an adapter notification with a raw body.
type Event struct {
	dap.ProtocolMessage
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body,omitempty"`
}
