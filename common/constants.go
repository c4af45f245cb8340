// Package common provides shared constants, types, and utilities
// used across the hostbridge application.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "io.wowup.hostbridge"
	// AppName is the display name of the application.
	AppName = "HostBridge"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "hostbridge"
)

// AppVersion is set at startup from the build-time version.
var AppVersion = "dev"

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "hostbridge.log"
	JournalFileName     = "requests.db"
)

// D-Bus naming shared by both processes.
const (
	BusName       = "io.wowup.HostBridge"
	BusObjectPath = "/io/wowup/HostBridge"
	BusInterface  = "io.wowup.HostBridge1"
)

// Broadcast channel names pushed by the host during update management.
const (
	ChannelUpdateCheckStart    = "update-check-start"
	ChannelUpdateCheckEnd      = "update-check-end"
	ChannelUpdateDownloadStart = "update-download-start"
	ChannelUpdateDownloaded    = "update-downloaded"
)

// UpdateChannels is the closed set of broadcast names the event bus subscribes to.
var UpdateChannels = []string{
	ChannelUpdateCheckStart,
	ChannelUpdateCheckEnd,
	ChannelUpdateDownloadStart,
	ChannelUpdateDownloaded,
}

// Window notification channels pushed by the host. They carry no payload.
const (
	ChannelWindowMinimize   = "minimize"
	ChannelWindowRestore    = "restore"
	ChannelWindowMaximize   = "maximize"
	ChannelWindowUnmaximize = "unmaximize"
)

// Request and invoke channels served by the host.
const (
	ChannelGetVersion    = "get-version"
	ChannelGetAppInfo    = "get-app-info"
	ChannelPing          = "ping"
	ChannelWindowState   = "window-state"
	ChannelRequestLog    = "get-request-log"
	ChannelCheckUpdates  = "check-for-updates"
	ChannelMinimizeWin   = "minimize-window"
	ChannelMaximizeWin   = "maximize-window"
	ChannelUnmaximizeWin = "unmaximize-window"
	ChannelRestoreWin    = "restore-window"
	ChannelHideWin       = "hide-window"
	ChannelCloseWin      = "close-window"
	ChannelRestartApp    = "restart-application"
)

// Default timeouts and intervals.
const (
	// SnapshotTimeout bounds the initial window-state read.
	SnapshotTimeout = 5 * time.Second
	// HealthInterval is how often the host is pinged.
	HealthInterval = 15 * time.Second
	// HealthTimeout bounds one ping.
	HealthTimeout = 3 * time.Second
	// ProbeTimeout bounds the transport capability probe.
	ProbeTimeout = 2 * time.Second
)
