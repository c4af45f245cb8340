// Package transport carries named, ordered messages between the UI process
// and the privileged host process.
//
// A Transport knows nothing about request/response pairing beyond its
// optional native Invoke primitive; correlation of Send-based requests is
// layered on top by package ipc.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/yllada/hostbridge/common"
)

// Message is one named message received from the peer.
type Message struct {
	Channel string
	Body    json.RawMessage
}

// InvokeFunc answers a native invoke on the host side. args is a JSON array.
type InvokeFunc func(ctx context.Context, channel string, args json.RawMessage) (json.RawMessage, error)

// Transport is the raw message-passing connection between the two processes.
type Transport interface {
	// Send transmits one message without waiting for any reply.
	Send(channel string, body json.RawMessage) error
	// Receive yields inbound messages in arrival order. It is closed when
	// the transport closes.
	Receive() <-chan Message
	// Invoke performs a transport-native request/response. Transports
	// without one return common.ErrInvokeUnsupported.
	Invoke(ctx context.Context, channel string, args json.RawMessage) (json.RawMessage, error)
	// Close tears the connection down.
	Close() error
}

// InvokeServer is implemented by host ends able to answer native invokes.
type InvokeServer interface {
	ServeInvoke(fn InvokeFunc)
}

// RemoteError is an error reported by the peer. Payload is the peer's error
// value exactly as it was put on the wire.
type RemoteError struct {
	Payload json.RawMessage
}

func (e *RemoteError) Error() string {
	var s string
	if err := json.Unmarshal(e.Payload, &s); err == nil {
		return s
	}
	return string(e.Payload)
}

// Is makes errors.Is(err, common.ErrRemote) hold for every RemoteError.
func (e *RemoteError) Is(target error) bool {
	return target == common.ErrRemote
}

// Decode unmarshals the error payload into v.
func (e *RemoteError) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// ErrorPayload converts err into the JSON value sent to the peer.
// A RemoteError keeps its payload untouched; anything else becomes its
// message string, never an empty one.
func ErrorPayload(err error) json.RawMessage {
	var remote *RemoteError
	if errors.As(err, &remote) && len(remote.Payload) > 0 {
		return remote.Payload
	}
	msg := err.Error()
	if msg == "" {
		// An empty string would read as no error on the other side.
		msg = "unknown error"
	}
	data, _ := json.Marshal(msg)
	return data
}
