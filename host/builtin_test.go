package host

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/hostbridge/common"
)

func TestBuiltins_AppInfoAndPing(t *testing.T) {
	h := newHarness(t)
	Builtins{Version: "1.2.3", Locale: "de-DE"}.Register(h.server)

	raw, err := h.ch.Invoke(context.Background(), common.ChannelGetAppInfo)
	require.NoError(t, err)
	var info common.AppInfo
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, common.AppInfo{Version: "1.2.3", Locale: "de-DE", Platform: runtime.GOOS}, info)

	raw, err = h.ch.Invoke(context.Background(), common.ChannelPing)
	require.NoError(t, err)
	assert.JSONEq(t, `"pong"`, string(raw))
}

func TestBuiltins_RequestLog(t *testing.T) {
	h := newHarness(t)
	rec := &memRecorder{}
	for _, id := range []string{"a", "b", "c"} {
		rec.Record(context.Background(), common.RequestRecord{CorrelationID: id, Channel: "x", Outcome: OutcomeOK})
	}
	Builtins{Log: rec}.Register(h.server)

	raw, err := h.ch.Invoke(context.Background(), common.ChannelRequestLog, 2)
	require.NoError(t, err)
	var records []common.RequestRecord
	require.NoError(t, json.Unmarshal(raw, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].CorrelationID)
}

func TestBuiltins_Restart(t *testing.T) {
	h := newHarness(t)
	Builtins{}.Register(h.server)
	_, err := h.ch.Invoke(context.Background(), common.ChannelRestartApp)
	assert.ErrorIs(t, err, common.ErrRemote)

	restarted := false
	Builtins{Restart: func() error { restarted = true; return nil }}.Register(h.server)
	_, err = h.ch.Invoke(context.Background(), common.ChannelRestartApp)
	require.NoError(t, err)
	assert.True(t, restarted)

	Builtins{Restart: func() error { return errors.New("busy") }}.Register(h.server)
	_, err = h.ch.Invoke(context.Background(), common.ChannelRestartApp)
	assert.EqualError(t, err, "busy")
}

func TestSystemLocale(t *testing.T) {
	tests := []struct {
		lang string
		want string
	}{
		{"en_US.UTF-8", "en-US"},
		{"pt_BR", "pt-BR"},
		{"de_DE@euro", "de-DE"},
		{"C", "en-US"},
		{"", "en-US"},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			t.Setenv("LANG", tt.lang)
			assert.Equal(t, tt.want, systemLocale())
		})
	}
}
