package host

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/yllada/hostbridge/common"
)

// RequestLog lists recently served requests.
type RequestLog interface {
	Recent(ctx context.Context, limit int) ([]common.RequestRecord, error)
}

// Builtins configures the channels every host answers.
type Builtins struct {
	Version string
	// Locale defaults to the LANG environment.
	Locale string
	// Log answers get-request-log. Nil answers with an empty list.
	Log RequestLog
	// Restart handles restart-application. Nil rejects it.
	Restart func() error
}

const defaultLogLimit = 50

// Register installs the built-in handlers on s.
func (b Builtins) Register(s *Server) {
	version := b.Version
	if version == "" {
		version = common.AppVersion
	}
	locale := b.Locale
	if locale == "" {
		locale = systemLocale()
	}

	s.Handle(common.ChannelGetVersion, func(context.Context, json.RawMessage) (any, error) {
		return version, nil
	})
	s.HandleInvoke(common.ChannelGetAppInfo, func(context.Context, json.RawMessage) (any, error) {
		return common.AppInfo{Version: version, Locale: locale, Platform: runtime.GOOS}, nil
	})
	s.HandleInvoke(common.ChannelPing, func(context.Context, json.RawMessage) (any, error) {
		return "pong", nil
	})
	s.HandleInvoke(common.ChannelRequestLog, func(ctx context.Context, args json.RawMessage) (any, error) {
		limit := defaultLogLimit
		if err := Args(args, &limit); err != nil {
			return nil, err
		}
		if b.Log == nil {
			return []common.RequestRecord{}, nil
		}
		return b.Log.Recent(ctx, limit)
	})
	s.HandleInvoke(common.ChannelRestartApp, func(context.Context, json.RawMessage) (any, error) {
		if b.Restart == nil {
			return nil, fmt.Errorf("%w: %s", common.ErrNoHandler, common.ChannelRestartApp)
		}
		return nil, b.Restart()
	})
}

// systemLocale turns LANG=en_US.UTF-8 into en-US.
func systemLocale() string {
	lang := os.Getenv("LANG")
	if i := strings.IndexAny(lang, ".@"); i >= 0 {
		lang = lang[:i]
	}
	if lang == "" || lang == "C" || lang == "POSIX" {
		return "en-US"
	}
	return strings.ReplaceAll(lang, "_", "-")
}
