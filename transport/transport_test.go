package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/hostbridge/common"
)

// pair is the shape shared by Pipe and the stream test helper.
type pair struct {
	name string
	ui   Transport
	host Transport
}

func streamPair(t *testing.T) (*Stream, *Stream) {
	t.Helper()
	a, b := net.Pipe()
	ui := NewStream(a, nil)
	host := NewStream(b, nil)
	t.Cleanup(func() {
		ui.Close()
		host.Close()
	})
	return ui, host
}

func pairs(t *testing.T) []pair {
	memUI, memHost := Pipe()
	t.Cleanup(func() { memUI.Close() })
	streamUI, streamHost := streamPair(t)
	return []pair{
		{"memory", memUI, memHost},
		{"stream", streamUI, streamHost},
	}
}

func receive(t *testing.T, tr Transport) Message {
	t.Helper()
	select {
	case msg, ok := <-tr.Receive():
		require.True(t, ok, "receive channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestTransport_SendPreservesOrder(t *testing.T) {
	for _, p := range pairs(t) {
		t.Run(p.name, func(t *testing.T) {
			names := []string{"A", "B", "A", "C"}
			go func() {
				for i, name := range names {
					body, _ := json.Marshal(i)
					p.host.Send(name, body)
				}
			}()

			for i, want := range names {
				msg := receive(t, p.ui)
				assert.Equal(t, want, msg.Channel)
				var got int
				require.NoError(t, json.Unmarshal(msg.Body, &got))
				assert.Equal(t, i, got)
			}
		})
	}
}

func TestTransport_Invoke(t *testing.T) {
	for _, p := range pairs(t) {
		t.Run(p.name, func(t *testing.T) {
			p.host.(InvokeServer).ServeInvoke(func(ctx context.Context, channel string, args json.RawMessage) (json.RawMessage, error) {
				if channel == "fail" {
					return nil, errors.New("ENOENT")
				}
				return json.RawMessage(`{"channel":"` + channel + `","args":` + string(args) + `}`), nil
			})

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			out, err := p.ui.Invoke(ctx, "get-app-info", json.RawMessage(`[1,"x"]`))
			require.NoError(t, err)
			assert.JSONEq(t, `{"channel":"get-app-info","args":[1,"x"]}`, string(out))

			_, err = p.ui.Invoke(ctx, "fail", json.RawMessage(`[]`))
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrRemote)
			var remote *RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, `"ENOENT"`, string(remote.Payload))
			assert.Equal(t, "ENOENT", remote.Error())
		})
	}
}

func TestMemory_InvokeWithoutServer(t *testing.T) {
	ui, _ := Pipe()
	defer ui.Close()

	_, err := ui.Invoke(context.Background(), "ping", nil)
	assert.ErrorIs(t, err, common.ErrInvokeUnsupported)
}

func TestMemory_InvokeHonoursContext(t *testing.T) {
	ui, host := Pipe()
	defer ui.Close()
	release := make(chan struct{})
	defer close(release)
	host.ServeInvoke(func(ctx context.Context, channel string, args json.RawMessage) (json.RawMessage, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ui.Invoke(ctx, "slow", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemory_CloseEndsReceive(t *testing.T) {
	ui, host := Pipe()
	require.NoError(t, ui.Close())

	select {
	case _, ok := <-host.Receive():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("host receive channel not closed")
	}
	assert.ErrorIs(t, ui.Send("x", nil), common.ErrClosed)
	assert.ErrorIs(t, host.Send("x", nil), common.ErrClosed)
}

func TestStream_InvokeUnsupportedByPeer(t *testing.T) {
	ui, _ := streamPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ui.Invoke(ctx, "ping", json.RawMessage(`[]`))
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Error(), "does not support invoke")
}

func TestStream_SkipsMalformedFrames(t *testing.T) {
	a, b := net.Pipe()
	ui := NewStream(a, nil)
	defer ui.Close()
	defer b.Close()

	go func() {
		b.Write([]byte("not json\n"))
		b.Write([]byte(`{"kind":"message","channel":"maximize"}` + "\n"))
	}()

	msg := receive(t, ui)
	assert.Equal(t, "maximize", msg.Channel)
}

func TestStream_PeerCloseFailsInvoke(t *testing.T) {
	ui, host := streamPair(t)
	host.ServeInvoke(func(ctx context.Context, channel string, args json.RawMessage) (json.RawMessage, error) {
		host.Close()
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ui.Invoke(ctx, "ping", json.RawMessage(`[]`))
	require.Error(t, err)
	<-ui.Done()
}

func TestErrorPayload(t *testing.T) {
	assert.Equal(t, `"boom"`, string(ErrorPayload(errors.New("boom"))))
	assert.Equal(t, `"unknown error"`, string(ErrorPayload(errors.New(""))))

	remote := &RemoteError{Payload: json.RawMessage(`{"code":"ENOENT","path":"/missing"}`)}
	assert.Equal(t, string(remote.Payload), string(ErrorPayload(remote)))

	var decoded struct{ Code string }
	require.NoError(t, remote.Decode(&decoded))
	assert.Equal(t, "ENOENT", decoded.Code)
	assert.True(t, strings.HasPrefix(remote.Error(), "{"))
}

func TestMapDBusError(t *testing.T) {
	assert.ErrorIs(t, mapDBusError(dbusErr(errNameUnauthorized)), common.ErrUnauthorized)
	assert.ErrorIs(t, mapDBusError(dbusErr(errNameUnsupported)), common.ErrInvokeUnsupported)

	err := mapDBusError(dbusErr(errNameRemote, `"ENOENT"`))
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, `"ENOENT"`, string(remote.Payload))

	plain := errors.New("no bus")
	assert.Equal(t, plain, mapDBusError(plain))
}

func dbusErr(name string, body ...interface{}) error {
	return dbus.NewError(name, body)
}
