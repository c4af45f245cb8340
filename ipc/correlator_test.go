package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/hostbridge/common"
)

type result struct {
	value string
	err   error
}

func requestAsync(c *Correlator, ctx context.Context, channel string, payload any, opts ...RequestOption) <-chan result {
	out := make(chan result, 1)
	go func() {
		var v string
		err := c.Request(ctx, channel, payload, &v, opts...)
		out <- result{v, err}
	}()
	return out
}

func TestCorrelator_RequestResolvesWithValue(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch)

	res := requestAsync(c, context.Background(), "get-version", map[string]any{})

	channel, req := host.nextRequest()
	assert.Equal(t, "get-version", channel)
	assert.NotEmpty(t, req.CorrelationID)
	assert.JSONEq(t, `{}`, string(req.Value))

	host.reply(req.CorrelationID, "1.2.3")
	r := recv(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, "1.2.3", r.value)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, 0, ch.Listeners(req.CorrelationID))
}

func TestCorrelator_RemoteErrorKeepsPayload(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch)

	res := requestAsync(c, context.Background(), "delete-file", map[string]string{"path": "/missing"})
	_, req := host.nextRequest()
	host.fail(req.CorrelationID, "ENOENT")

	r := recv(t, res)
	require.Error(t, r.err)
	assert.ErrorIs(t, r.err, common.ErrRemote)

	var remote *RemoteError
	require.True(t, errors.As(r.err, &remote))
	assert.JSONEq(t, `"ENOENT"`, string(remote.Payload))
	assert.Equal(t, "ENOENT", remote.Error())
}

func TestCorrelator_StructuredRemoteError(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch)

	res := requestAsync(c, context.Background(), "install", nil)
	_, req := host.nextRequest()
	host.replyRaw(req.CorrelationID, `{"correlationId":"`+req.CorrelationID+`","error":{"code":13,"message":"denied"}}`)

	r := recv(t, res)
	var remote *RemoteError
	require.True(t, errors.As(r.err, &remote))
	var detail struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, remote.Decode(&detail))
	assert.Equal(t, 13, detail.Code)
	assert.Equal(t, "denied", detail.Message)
}

func TestCorrelator_NullErrorIsSuccess(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch)

	res := requestAsync(c, context.Background(), "get-version", nil)
	_, req := host.nextRequest()
	host.replyRaw(req.CorrelationID, `{"correlationId":"`+req.CorrelationID+`","value":"2.0","error":null}`)

	r := recv(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, "2.0", r.value)
}

func TestCorrelator_RawValueUntouched(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch)

	f, err := c.Send("list", nil)
	require.NoError(t, err)
	_, req := host.nextRequest()
	assert.Equal(t, f.ID(), req.CorrelationID)
	assert.JSONEq(t, `null`, string(req.Value))

	host.replyRaw(req.CorrelationID, `{"correlationId":"`+req.CorrelationID+`","value":{"b":[1,2],"a":"x"}}`)
	value, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"b":[1,2],"a":"x"}`, string(value))
}

func TestCorrelator_RepliesInAnyOrder(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch)

	first := requestAsync(c, context.Background(), "a", "one")
	_, reqA := host.nextRequest()
	second := requestAsync(c, context.Background(), "b", "two")
	_, reqB := host.nextRequest()
	assert.NotEqual(t, reqA.CorrelationID, reqB.CorrelationID)
	assert.Equal(t, 2, c.Pending())

	host.reply(reqB.CorrelationID, "B")
	host.reply(reqA.CorrelationID, "A")

	assert.Equal(t, "B", recv(t, second).value)
	assert.Equal(t, "A", recv(t, first).value)
}

func TestCorrelator_ConcurrentRequests(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch)

	// Echo host: replies with the request payload.
	go func() {
		for msg := range host.tr.Receive() {
			var req Request
			if err := json.Unmarshal(msg.Body, &req); err != nil {
				continue
			}
			host.tr.Send(req.CorrelationID, mustResponse(req.CorrelationID, req.Value))
		}
	}()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var got int
			if err := c.Request(context.Background(), "echo", i, &got); err != nil {
				errs <- err
				return
			}
			if got != i {
				errs <- errors.New("reply delivered to the wrong request")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_DuplicateReplyIgnored(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch)

	f, err := c.Send("get-version", nil)
	require.NoError(t, err)
	_, req := host.nextRequest()

	host.reply(req.CorrelationID, "first")
	host.reply(req.CorrelationID, "second")

	value, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"first"`, string(value))
}

func TestCorrelator_Timeout(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch, WithDefaultTimeout(20*time.Millisecond))

	res := requestAsync(c, context.Background(), "slow", nil)
	_, req := host.nextRequest()

	r := recv(t, res)
	assert.ErrorIs(t, r.err, common.ErrTimeout)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, 0, ch.Listeners(req.CorrelationID))

	// A late reply is dropped without effect.
	host.reply(req.CorrelationID, "late")
}

func TestCorrelator_PerRequestTimeoutOverridesDefault(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch, WithDefaultTimeout(10*time.Millisecond))

	res := requestAsync(c, context.Background(), "slow", nil, WithTimeout(0))
	_, req := host.nextRequest()

	time.Sleep(50 * time.Millisecond)
	host.reply(req.CorrelationID, "eventually")
	r := recv(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, "eventually", r.value)
}

func TestCorrelator_ContextAbandonsRequest(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch)

	ctx, cancel := context.WithCancel(context.Background())
	res := requestAsync(c, ctx, "never", nil)
	_, req := host.nextRequest()
	cancel()

	r := recv(t, res)
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, 0, ch.Listeners(req.CorrelationID))
}

func TestCorrelator_CloseFailsPending(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch)

	res := requestAsync(c, context.Background(), "never", nil)
	host.nextRequest()

	require.NoError(t, ch.Close())
	assert.ErrorIs(t, recv(t, res).err, common.ErrClosed)

	_, err := c.Send("after", nil)
	assert.ErrorIs(t, err, common.ErrClosed)
}

func TestCorrelator_DuplicateIDRejected(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch, WithIDGenerator(func() string { return "fixed" }))

	_, err := c.Send("a", nil)
	require.NoError(t, err)
	host.nextRequest()

	_, err = c.Send("b", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, c.Pending())
}

func TestCorrelator_UnencodablePayload(t *testing.T) {
	ch, _ := newTestChannel(t)
	c := NewCorrelator(ch)

	_, err := c.Send("a", make(chan int))
	assert.Error(t, err)
	assert.Equal(t, 0, c.Pending())
}

func TestFuture_CancelSettlesOnce(t *testing.T) {
	f := newFuture("id", "chan")
	_, ok, _ := f.Result()
	assert.False(t, ok)

	f.Cancel(ErrAbandoned)
	f.Cancel(errors.New("ignored"))
	assert.False(t, f.settle([]byte(`1`), nil))

	_, ok, err := f.Result()
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.Equal(t, "chan", f.Channel())
}

func TestResponse_Failed(t *testing.T) {
	tests := []struct {
		raw    string
		failed bool
	}{
		{``, false},
		{`null`, false},
		{`false`, false},
		{`0`, false},
		{`-0`, false},
		{`0.0`, false},
		{`""`, false},
		{`"denied"`, true},
		{`"0"`, true},
		{`true`, true},
		{`1`, true},
		{`{}`, true},
		{`[]`, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r := Response{Error: json.RawMessage(tt.raw)}
			assert.Equal(t, tt.failed, r.Failed())
		})
	}
}

func TestCorrelator_FalsyErrorResolves(t *testing.T) {
	ch, host := newTestChannel(t)
	c := NewCorrelator(ch)

	for _, falsy := range []string{`""`, `false`, `0`} {
		res := requestAsync(c, context.Background(), "get-version", nil)
		_, req := host.nextRequest()
		host.replyRaw(req.CorrelationID, `{"correlationId":"`+req.CorrelationID+`","value":"2.0","error":`+falsy+`}`)

		r := recv(t, res)
		require.NoError(t, r.err, "error %s", falsy)
		assert.Equal(t, "2.0", r.value)
	}
}

func TestCorrelator_SettledReplyBeatsDoneContext(t *testing.T) {
	ch, _ := newTestChannel(t)
	c := NewCorrelator(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 100; i++ {
		f := newFuture("id", "get-version")
		require.True(t, f.settle(json.RawMessage(`"3.1"`), nil))

		value, err := c.await(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, `"3.1"`, string(value))
	}
}

func TestCorrelator_AbandonedFutureReportsContext(t *testing.T) {
	ch, _ := newTestChannel(t)
	c := NewCorrelator(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFuture("id", "get-version")

	_, err := c.await(ctx, f)
	assert.ErrorIs(t, err, context.Canceled)
	_, settled, ferr := f.Result()
	assert.True(t, settled)
	assert.ErrorIs(t, ferr, ErrAbandoned)
}
