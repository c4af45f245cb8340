package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/hostbridge/common"
	"github.com/yllada/hostbridge/ipc"
)

type fakeController struct {
	calls []string
	err   error
}

func (c *fakeController) do(name string) error {
	c.calls = append(c.calls, name)
	return c.err
}

func (c *fakeController) Minimize() error   { return c.do("minimize") }
func (c *fakeController) Maximize() error   { return c.do("maximize") }
func (c *fakeController) Unmaximize() error { return c.do("unmaximize") }
func (c *fakeController) Restore() error    { return c.do("restore") }
func (c *fakeController) Hide() error       { return c.do("hide") }
func (c *fakeController) Close() error      { return c.do("close") }

type recordingBroadcaster struct {
	names chan string
}

func (b *recordingBroadcaster) Broadcast(name string) error {
	b.names <- name
	return nil
}

func TestWindow_SettersBroadcastChanges(t *testing.T) {
	out := &recordingBroadcaster{names: make(chan string, 8)}
	w := NewWindow(common.WindowState{}, nil, nil)
	w.out = out

	w.SetMinimized(true)
	w.SetMinimized(true)
	w.SetMaximized(true)
	w.SetMinimized(false)
	w.SetMaximized(false)

	close(out.names)
	var got []string
	for name := range out.names {
		got = append(got, name)
	}
	assert.Equal(t, []string{
		common.ChannelWindowMinimize,
		common.ChannelWindowMaximize,
		common.ChannelWindowRestore,
		common.ChannelWindowUnmaximize,
	}, got)
	assert.Equal(t, common.WindowState{}, w.State())
}

func TestWindow_MirrorFollowsHost(t *testing.T) {
	h := newHarness(t)
	ctrl := &fakeController{}
	w := NewWindow(common.WindowState{Maximized: true}, ctrl, nil)
	w.Attach(h.server)

	m := ipc.NewMirror(context.Background(), h.ch, nil)
	assert.True(t, m.Maximized())
	assert.False(t, m.Minimized())

	_, err := h.ch.Invoke(context.Background(), common.ChannelMinimizeWin)
	require.NoError(t, err)
	assert.Eventually(t, m.Minimized, 2*time.Second, 5*time.Millisecond)
	assert.True(t, m.Maximized(), "minimize must not touch maximized")

	_, err = h.ch.Invoke(context.Background(), common.ChannelUnmaximizeWin)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !m.Maximized() }, 2*time.Second, 5*time.Millisecond)

	_, err = h.ch.Invoke(context.Background(), common.ChannelHideWin)
	require.NoError(t, err)
	assert.Equal(t, []string{"minimize", "unmaximize", "hide"}, ctrl.calls)
}

func TestWindow_ControllerErrorLeavesState(t *testing.T) {
	h := newHarness(t)
	ctrl := &fakeController{err: errors.New("no window")}
	w := NewWindow(common.WindowState{}, ctrl, nil)
	w.Attach(h.server)

	_, err := h.ch.Invoke(context.Background(), common.ChannelMaximizeWin)
	assert.ErrorIs(t, err, common.ErrRemote)
	assert.False(t, w.State().Maximized)
}

// gatedBroadcaster holds every broadcast named gate until release is closed.
type gatedBroadcaster struct {
	gate    string
	entered chan struct{}
	release chan struct{}
	names   chan string
}

func (b *gatedBroadcaster) Broadcast(name string) error {
	if name == b.gate {
		close(b.entered)
		<-b.release
	}
	b.names <- name
	return nil
}

func TestWindow_ConcurrentChangesPushInStateOrder(t *testing.T) {
	out := &gatedBroadcaster{
		gate:    common.ChannelWindowMaximize,
		entered: make(chan struct{}),
		release: make(chan struct{}),
		names:   make(chan string, 4),
	}
	w := NewWindow(common.WindowState{}, nil, nil)
	w.out = out

	go w.SetMaximized(true)
	<-out.entered

	unmaximized := make(chan struct{})
	go func() {
		w.SetMaximized(false)
		close(unmaximized)
	}()

	select {
	case <-unmaximized:
		t.Fatal("second change finished while the first push was still in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(out.release)

	select {
	case <-unmaximized:
	case <-time.After(2 * time.Second):
		t.Fatal("second change never finished")
	}
	assert.Equal(t, common.ChannelWindowMaximize, <-out.names)
	assert.Equal(t, common.ChannelWindowUnmaximize, <-out.names)
	assert.False(t, w.State().Maximized)
}
