package ipc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/hostbridge/common"
)

func TestChannel_SendEncodesJSON(t *testing.T) {
	ch, host := newTestChannel(t)

	require.NoError(t, ch.Send("ping", map[string]int{"n": 1}))
	msg := host.next()
	assert.Equal(t, "ping", msg.Channel)
	assert.JSONEq(t, `{"n":1}`, string(msg.Body))
}

func TestChannel_OnDeliversInOrder(t *testing.T) {
	ch, host := newTestChannel(t)

	got := make(chan string, 4)
	ch.On("a", func(msg Message) { got <- "first:" + string(msg.Body) })
	ch.On("a", func(msg Message) { got <- "second:" + string(msg.Body) })

	host.replyRaw("a", "1")
	host.replyRaw("a", "2")

	assert.Equal(t, "first:1", recv(t, got))
	assert.Equal(t, "second:1", recv(t, got))
	assert.Equal(t, "first:2", recv(t, got))
	assert.Equal(t, "second:2", recv(t, got))
}

func TestChannel_OnceFiresOnce(t *testing.T) {
	ch, host := newTestChannel(t)

	got := make(chan string, 2)
	ch.Once("x", func(msg Message) { got <- string(msg.Body) })
	assert.Equal(t, 1, ch.Listeners("x"))

	host.replyRaw("x", "1")
	host.replyRaw("x", "2")
	// Sentinel on a persistent listener proves both were dispatched.
	done := make(chan struct{})
	ch.On("sentinel", func(Message) { close(done) })
	host.replyRaw("sentinel", "null")
	recv(t, done)

	assert.Equal(t, "1", recv(t, got))
	assert.Len(t, got, 0)
	assert.Equal(t, 0, ch.Listeners("x"))
}

func TestChannel_SubscriptionCloseRemovesOnlyItsListener(t *testing.T) {
	ch, host := newTestChannel(t)

	got := make(chan string, 4)
	first := ch.On("a", func(Message) { got <- "first" })
	ch.On("a", func(Message) { got <- "second" })

	first.Close()
	first.Close()
	assert.Equal(t, 1, ch.Listeners("a"))

	host.replyRaw("a", "null")
	assert.Equal(t, "second", recv(t, got))
}

func TestChannel_ExactNameMatch(t *testing.T) {
	ch, host := newTestChannel(t)

	got := make(chan string, 2)
	ch.On("update", func(Message) { got <- "update" })
	ch.On("update-check-start", func(Message) { got <- "update-check-start" })

	host.push("update-check-start")
	assert.Equal(t, "update-check-start", recv(t, got))
	assert.Len(t, got, 0)
}

func TestChannel_InvokeSendsArgsArray(t *testing.T) {
	ch, host := newTestChannel(t)

	var seen json.RawMessage
	host.tr.ServeInvoke(func(_ context.Context, channel string, args json.RawMessage) (json.RawMessage, error) {
		seen = args
		return json.RawMessage(`"ok"`), nil
	})

	out, err := ch.Invoke(context.Background(), "echo", 1, "two")
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(out))
	assert.JSONEq(t, `[1,"two"]`, string(seen))

	_, err = ch.Invoke(context.Background(), "echo")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(seen))
}

func TestChannel_Close(t *testing.T) {
	ch, _ := newTestChannel(t)

	require.NoError(t, ch.Close())
	recv(t, ch.Done())
	assert.ErrorIs(t, ch.Send("a", nil), common.ErrClosed)
	_, err := ch.Invoke(context.Background(), "a")
	assert.ErrorIs(t, err, common.ErrClosed)
}
