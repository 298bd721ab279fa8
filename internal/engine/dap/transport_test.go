package dap

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bufferConn is a ReadWriteCloser over one buffer, so whatever is sent
// can be received back.
type bufferConn struct{ bytes.Buffer }

func (*bufferConn) Close() error { return nil }

func TestMessageFraming(t *testing.T) {
	conn := &bufferConn{}
	tr := NewStreamTransport(conn)
	require.NoError(t, tr.Send([]byte(`{"seq":1}`)))
	require.NoError(t, tr.Send([]byte(`{"seq":2}`)))
	assert.True(t, strings.HasPrefix(conn.String(), "Content-Length: 9\r\n\r\n{\"seq\":1}"))

	first, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, `{"seq":1}`, string(first))
	second, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, `{"seq":2}`, string(second))

	_, err = tr.Receive()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReceiveRejectsBadFraming(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing length", "Content-Type: x\r\n\r\n{}"},
		{"extra header", "Content-Length: 2\r\nContent-Type: x\r\n\r\n{}"},
		{"bad number", "Content-Length: ten\r\n\r\n"},
		{"truncated body", "Content-Length: 10\r\n\r\n{}"},
		{"truncated header", "Content-Length: 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &bufferConn{}
			conn.WriteString(tt.input)
			_, err := NewStreamTransport(conn).Receive()
			assert.Error(t, err)
		})
	}
}

func TestStreamTransport(t *testing.T) {
	left, right := net.Pipe()
	a := NewStreamTransport(left)
	b := NewStreamTransport(right)
	defer b.Close()

	go func() { _ = a.Send([]byte(`{"type":"event"}`)) }()
	content, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"event"}`, string(content))

	require.NoError(t, a.Close())
	_, err = b.Receive()
	assert.Error(t, err)
}

func TestSpawnRejectsEmptyCommand(t *testing.T) {
	_, err := Spawn(t.Context(), nil, nil)
	assert.Error(t, err)
}
