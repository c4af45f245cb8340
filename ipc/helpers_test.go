package ipc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yllada/hostbridge/transport"
)

const waitFor = 2 * time.Second

// fakeHost drives the host end of an in-memory pipe by hand.
type fakeHost struct {
	t  *testing.T
	tr *transport.Memory
}

func newTestChannel(t *testing.T) (*Channel, *fakeHost) {
	t.Helper()
	ui, host := transport.Pipe()
	ch := NewChannel(ui, nil)
	t.Cleanup(func() { ch.Close() })
	return ch, &fakeHost{t: t, tr: host}
}

// next returns the next message the UI sent.
func (h *fakeHost) next() Message {
	h.t.Helper()
	select {
	case msg, ok := <-h.tr.Receive():
		require.True(h.t, ok, "host receive closed")
		return msg
	case <-time.After(waitFor):
		h.t.Fatal("timed out waiting for a request")
		return Message{}
	}
}

// nextRequest returns the next correlated request the UI sent.
func (h *fakeHost) nextRequest() (string, Request) {
	h.t.Helper()
	msg := h.next()
	var req Request
	require.NoError(h.t, json.Unmarshal(msg.Body, &req))
	return msg.Channel, req
}

// replyRaw sends body verbatim on the correlation id's channel.
func (h *fakeHost) replyRaw(id, body string) {
	h.t.Helper()
	require.NoError(h.t, h.tr.Send(id, json.RawMessage(body)))
}

func (h *fakeHost) reply(id string, value any) {
	h.t.Helper()
	raw, err := json.Marshal(value)
	require.NoError(h.t, err)
	resp, err := json.Marshal(Response{CorrelationID: id, Value: raw})
	require.NoError(h.t, err)
	h.replyRaw(id, string(resp))
}

func (h *fakeHost) fail(id string, errValue any) {
	h.t.Helper()
	raw, err := json.Marshal(errValue)
	require.NoError(h.t, err)
	resp, err := json.Marshal(Response{CorrelationID: id, Error: raw})
	require.NoError(h.t, err)
	h.replyRaw(id, string(resp))
}

func (h *fakeHost) push(name string) {
	h.t.Helper()
	require.NoError(h.t, h.tr.Send(name, json.RawMessage("null")))
}

// recv waits for one value from c.
func recv[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v := <-c:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func mustResponse(id string, value json.RawMessage) json.RawMessage {
	data, err := json.Marshal(Response{CorrelationID: id, Value: value})
	if err != nil {
		panic(err)
	}
	return data
}
