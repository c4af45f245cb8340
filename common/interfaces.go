// Package common provides shared constants, types, and utilities
// used across the hostbridge application.
package common

// WindowState is the host window snapshot answered on the window-state channel.
// The two flags are independent; both may be true at once.
type WindowState struct {
	Maximized bool `json:"maximized" yaml:"maximized"`
	Minimized bool `json:"minimized" yaml:"minimized"`
}

// AppInfo is the host application metadata answered on get-app-info.
type AppInfo struct {
	Version  string `json:"version"`
	Locale   string `json:"locale"`
	Platform string `json:"platform"`
}

// RequestRecord describes one request served by the host.
type RequestRecord struct {
	CorrelationID string `json:"correlationId"`
	Channel       string `json:"channel"`
	StartedAt     int64  `json:"startedAt"`  // unix millis
	DurationMS    int64  `json:"durationMs"`
	Outcome       string `json:"outcome"`
}

// Logger defines the interface for structured logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...interface{})
	// Info logs an informational message.
	Info(msg string, args ...interface{})
	// Warn logs a warning message.
	Warn(msg string, args ...interface{})
	// Error logs an error message.
	Error(msg string, args ...interface{})
}
