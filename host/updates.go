package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/yllada/hostbridge/common"
)

// UpdateInfo describes the result of an update check.
type UpdateInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
}

// Updater checks for and downloads application updates.
type Updater interface {
	Check(ctx context.Context) (UpdateInfo, error)
	Download(ctx context.Context, info UpdateInfo) error
}

// Updates runs update checks and brackets each phase with the lifecycle
// broadcasts the UI follows.
type Updates struct {
	updater      Updater
	out          Broadcaster
	log          common.Logger
	autoDownload bool

	mu      sync.Mutex
	running bool
}

// NewUpdates wraps updater. With autoDownload an available update is
// downloaded right after the check.
func NewUpdates(updater Updater, out Broadcaster, autoDownload bool, log common.Logger) *Updates {
	if log == nil {
		log = common.NopLogger{}
	}
	return &Updates{updater: updater, out: out, autoDownload: autoDownload, log: log}
}

// ErrCheckRunning is returned when a check is already in progress.
var ErrCheckRunning = errors.New("update check already running")

// CheckForUpdates broadcasts update-check-start, checks, and broadcasts
// update-check-end whatever the result. A found update is then downloaded
// between update-download-start and update-downloaded.
func (u *Updates) CheckForUpdates(ctx context.Context) (UpdateInfo, error) {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return UpdateInfo{}, ErrCheckRunning
	}
	u.running = true
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.running = false
		u.mu.Unlock()
	}()

	u.broadcast(common.ChannelUpdateCheckStart)
	info, err := u.updater.Check(ctx)
	u.broadcast(common.ChannelUpdateCheckEnd)
	if err != nil {
		return info, fmt.Errorf("update check: %w", err)
	}
	if !info.Available || !u.autoDownload {
		return info, nil
	}

	u.log.Info("Downloading update %s", info.Version)
	u.broadcast(common.ChannelUpdateDownloadStart)
	if err := u.updater.Download(ctx, info); err != nil {
		return info, fmt.Errorf("download update %s: %w", info.Version, err)
	}
	u.broadcast(common.ChannelUpdateDownloaded)
	return info, nil
}

func (u *Updates) broadcast(name string) {
	if err := u.out.Broadcast(name); err != nil {
		u.log.Warn("%s not delivered: %v", name, err)
	}
}

// Attach answers check-for-updates invokes on s.
func (u *Updates) Attach(s *Server) {
	s.HandleInvoke(common.ChannelCheckUpdates, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return u.CheckForUpdates(ctx)
	})
}

// NoUpdates is an Updater that never finds an update.
type NoUpdates struct{}

// Check reports no update.
func (NoUpdates) Check(context.Context) (UpdateInfo, error) { return UpdateInfo{}, nil }

// Download does nothing.
func (NoUpdates) Download(context.Context, UpdateInfo) error { return nil }
