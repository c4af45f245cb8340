package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yllada/hostbridge/common"
	"github.com/yllada/hostbridge/config"
	"github.com/yllada/hostbridge/keyring"
	"github.com/yllada/hostbridge/transport"
)

// Session is what UI code talks to. It is either Connected to a host or
// Standalone, and callers handle both through the same calls.
type Session interface {
	// Request sends a correlated request and decodes the reply into out.
	Request(ctx context.Context, channel string, payload, out any, opts ...RequestOption) error
	// Invoke performs a transport-native request.
	Invoke(ctx context.Context, channel string, args ...any) (json.RawMessage, error)
	// Subscribe follows host broadcasts. fn may issue requests of its own.
	Subscribe(fn func(Event)) *Subscription
	// Window returns the mirrored host window state.
	Window() *Mirror
	// Health returns the last observed host health.
	Health() HostHealth
	// Connected reports whether a host is behind the session.
	Connected() bool

	Version(ctx context.Context) (string, error)
	AppInfo(ctx context.Context) (common.AppInfo, error)
	RequestLog(ctx context.Context, limit int) ([]common.RequestRecord, error)
	MinimizeWindow(ctx context.Context) error
	MaximizeWindow(ctx context.Context) error
	UnmaximizeWindow(ctx context.Context) error
	RestoreWindow(ctx context.Context) error
	HideWindow(ctx context.Context) error
	CloseWindow(ctx context.Context) error
	RestartApplication(ctx context.Context) error

	Close() error

	session()
}

// Options configures a Connected session.
type Options struct {
	// RequestTimeout bounds each correlated request. Zero waits forever.
	RequestTimeout time.Duration
	// Health configures host pinging. A zero CheckInterval disables it.
	Health HealthConfig
	Logger common.Logger
}

// OptionsFromConfig derives session options from cfg.
func OptionsFromConfig(cfg *config.Config, log common.Logger) Options {
	health := DefaultHealthConfig()
	health.CheckInterval = cfg.HealthInterval.Std()
	health.FailureThreshold = cfg.HealthFailureThreshold
	return Options{
		RequestTimeout: cfg.RequestTimeout.Std(),
		Health:         health,
		Logger:         log,
	}
}

// Open selects the configured transport and returns a Connected session,
// or a Standalone one when no host is configured or reachable.
func Open(ctx context.Context, cfg *config.Config, log common.Logger) (Session, error) {
	if log == nil {
		log = common.NopLogger{}
	}
	if cfg.Transport == config.TransportStandalone {
		log.Info("Running standalone")
		return NewStandalone(cfg.Window), nil
	}

	var token string
	if cfg.Transport == config.TransportDBus {
		var err error
		token, err = keyring.SessionToken()
		if errors.Is(err, keyring.ErrNotFound) {
			log.Warn("No session token yet, the host has never run: running standalone")
			return NewStandalone(cfg.Window), nil
		}
		if err != nil {
			return nil, fmt.Errorf("session token: %w", err)
		}
	}

	t, err := transport.Dial(ctx, cfg, token, log)
	if errors.Is(err, common.ErrHostUnreachable) || errors.Is(err, common.ErrStandalone) {
		log.Warn("Host not available, running standalone: %v", err)
		return NewStandalone(cfg.Window), nil
	}
	if err != nil {
		return nil, err
	}
	return Connect(ctx, t, OptionsFromConfig(cfg, log))
}

// Connected is a session backed by a live host.
type Connected struct {
	ch       *Channel
	requests *Correlator
	events   *Bus
	window   *Mirror
	health   *HealthChecker
	log      common.Logger
}

// Connect builds a session over t and takes ownership of it. The window state
// is seeded before Connect returns.
func Connect(ctx context.Context, t transport.Transport, opts Options) (*Connected, error) {
	log := opts.Logger
	if log == nil {
		log = common.NopLogger{}
	}

	ch := NewChannel(t, log)
	c := &Connected{
		ch:       ch,
		requests: NewCorrelator(ch, WithDefaultTimeout(opts.RequestTimeout), WithCorrelatorLogger(log)),
		events:   NewBus(ch),
		log:      log,
	}
	c.window = NewMirror(ctx, ch, log)
	c.health = NewHealthChecker(c.ping, opts.Health, log)
	c.health.Start()
	return c, nil
}

func (c *Connected) session() {}

func (c *Connected) ping(ctx context.Context) error {
	_, err := c.ch.Invoke(ctx, common.ChannelPing)
	return err
}

// Channel returns the underlying channel adapter.
func (c *Connected) Channel() *Channel { return c.ch }

// Requests returns the correlator.
func (c *Connected) Requests() *Correlator { return c.requests }

// Events returns the broadcast bus.
func (c *Connected) Events() *Bus { return c.events }

// Window returns the mirrored host window state.
func (c *Connected) Window() *Mirror { return c.window }

// HealthChecker returns the host health checker.
func (c *Connected) HealthChecker() *HealthChecker { return c.health }

// Health returns the last observed host health.
func (c *Connected) Health() HostHealth { return c.health.Health() }

// Connected reports true.
func (c *Connected) Connected() bool { return true }

// Request sends a correlated request and decodes the reply into out.
func (c *Connected) Request(ctx context.Context, channel string, payload, out any, opts ...RequestOption) error {
	return c.requests.Request(ctx, channel, payload, out, opts...)
}

// Invoke performs a transport-native request.
func (c *Connected) Invoke(ctx context.Context, channel string, args ...any) (json.RawMessage, error) {
	return c.requests.Invoke(ctx, channel, args...)
}

// Subscribe follows host broadcasts.
func (c *Connected) Subscribe(fn func(Event)) *Subscription {
	return c.events.Subscribe(fn)
}

// Version asks the host for its version.
func (c *Connected) Version(ctx context.Context) (string, error) {
	var version string
	if err := c.Request(ctx, common.ChannelGetVersion, struct{}{}, &version); err != nil {
		return "", err
	}
	return version, nil
}

// AppInfo asks the host for its version, locale and platform.
func (c *Connected) AppInfo(ctx context.Context) (common.AppInfo, error) {
	var info common.AppInfo
	raw, err := c.Invoke(ctx, common.ChannelGetAppInfo)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return info, fmt.Errorf("decode app info: %w", err)
	}
	return info, nil
}

// RequestLog returns up to limit of the most recent requests the host served.
func (c *Connected) RequestLog(ctx context.Context, limit int) ([]common.RequestRecord, error) {
	raw, err := c.Invoke(ctx, common.ChannelRequestLog, limit)
	if err != nil {
		return nil, err
	}
	var records []common.RequestRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode request log: %w", err)
	}
	return records, nil
}

func (c *Connected) command(ctx context.Context, channel string) error {
	_, err := c.Invoke(ctx, channel)
	return err
}

// MinimizeWindow asks the host to minimize its window.
func (c *Connected) MinimizeWindow(ctx context.Context) error {
	return c.command(ctx, common.ChannelMinimizeWin)
}

// MaximizeWindow asks the host to maximize its window.
func (c *Connected) MaximizeWindow(ctx context.Context) error {
	return c.command(ctx, common.ChannelMaximizeWin)
}

// UnmaximizeWindow asks the host to restore its window from maximized.
func (c *Connected) UnmaximizeWindow(ctx context.Context) error {
	return c.command(ctx, common.ChannelUnmaximizeWin)
}

// RestoreWindow asks the host to restore its window from minimized.
func (c *Connected) RestoreWindow(ctx context.Context) error {
	return c.command(ctx, common.ChannelRestoreWin)
}

// HideWindow asks the host to hide its window.
func (c *Connected) HideWindow(ctx context.Context) error {
	return c.command(ctx, common.ChannelHideWin)
}

// CloseWindow asks the host to close its window.
func (c *Connected) CloseWindow(ctx context.Context) error {
	return c.command(ctx, common.ChannelCloseWin)
}

// RestartApplication asks the host to restart.
func (c *Connected) RestartApplication(ctx context.Context) error {
	return c.command(ctx, common.ChannelRestartApp)
}

// Close stops health checks, detaches the bus and mirror and closes the
// transport. Pending requests fail with common.ErrClosed.
func (c *Connected) Close() error {
	c.health.Stop()
	c.events.Close()
	c.window.Close()
	return c.ch.Close()
}

// Standalone is a session with no host. Requests fail fast with
// common.ErrStandalone, no events are ever delivered and the window state
// never changes.
type Standalone struct {
	window *Mirror
}

// NewStandalone returns a Standalone session reporting state as the window state.
func NewStandalone(state common.WindowState) *Standalone {
	return &Standalone{window: NewStaticMirror(state)}
}

func (s *Standalone) session() {}

// Request fails with common.ErrStandalone.
func (s *Standalone) Request(context.Context, string, any, any, ...RequestOption) error {
	return common.ErrStandalone
}

// Invoke fails with common.ErrStandalone.
func (s *Standalone) Invoke(context.Context, string, ...any) (json.RawMessage, error) {
	return nil, common.ErrStandalone
}

// Subscribe returns a subscription that never fires.
func (s *Standalone) Subscribe(func(Event)) *Subscription { return &Subscription{} }

// Window returns the static window state.
func (s *Standalone) Window() *Mirror { return s.window }

// Health reports HealthUnknown.
func (s *Standalone) Health() HostHealth { return HostHealth{State: HealthUnknown} }

// Connected reports false.
func (s *Standalone) Connected() bool { return false }

// Version fails with common.ErrStandalone.
func (s *Standalone) Version(context.Context) (string, error) { return "", common.ErrStandalone }

// AppInfo fails with common.ErrStandalone.
func (s *Standalone) AppInfo(context.Context) (common.AppInfo, error) {
	return common.AppInfo{}, common.ErrStandalone
}

// RequestLog fails with common.ErrStandalone.
func (s *Standalone) RequestLog(context.Context, int) ([]common.RequestRecord, error) {
	return nil, common.ErrStandalone
}

func (s *Standalone) MinimizeWindow(context.Context) error     { return common.ErrStandalone }
func (s *Standalone) MaximizeWindow(context.Context) error     { return common.ErrStandalone }
func (s *Standalone) UnmaximizeWindow(context.Context) error   { return common.ErrStandalone }
func (s *Standalone) RestoreWindow(context.Context) error      { return common.ErrStandalone }
func (s *Standalone) HideWindow(context.Context) error         { return common.ErrStandalone }
func (s *Standalone) CloseWindow(context.Context) error        { return common.ErrStandalone }
func (s *Standalone) RestartApplication(context.Context) error { return common.ErrStandalone }

// Close does nothing.
func (s *Standalone) Close() error { return nil }
