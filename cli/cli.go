// Package cli provides command-line access to a running host. It lets
// scripts send requests and invokes without launching a UI.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/yllada/hostbridge/common"
	"github.com/yllada/hostbridge/ipc"
	"github.com/yllada/hostbridge/monitor"
)

// CLI represents the command-line interface.
type CLI struct {
	session ipc.Session
	out     io.Writer
}

// New creates a new CLI over s, printing to stdout.
func New(s ipc.Session) *CLI {
	return &CLI{session: s, out: os.Stdout}
}

// SetOutput redirects output, mainly for tests.
func (c *CLI) SetOutput(w io.Writer) {
	c.out = w
}

// Request sends a correlated request on channel. value is a JSON document;
// empty sends {}. The reply value is printed as JSON.
func (c *CLI) Request(ctx context.Context, channel, value string) error {
	payload, err := parseJSON(value, "{}")
	if err != nil {
		return err
	}

	var reply json.RawMessage
	if err := c.session.Request(ctx, channel, payload, &reply); err != nil {
		return describe(channel, err)
	}
	return c.printJSON(reply)
}

// Invoke performs a native invoke on channel. args is a JSON array; empty
// sends no arguments.
func (c *CLI) Invoke(ctx context.Context, channel, args string) error {
	raw, err := parseJSON(args, "[]")
	if err != nil {
		return err
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("invoke arguments must be a JSON array: %w", err)
	}

	reply, err := c.session.Invoke(ctx, channel, list...)
	if err != nil {
		return describe(channel, err)
	}
	return c.printJSON(reply)
}

// Status prints the connection mode, host health and window flags. A
// connected session also lists the followed broadcasts and pending requests.
func (c *CLI) Status(ctx context.Context) error {
	mode := "connected"
	if !c.session.Connected() {
		mode = "standalone"
	}
	version := "-"
	if v, err := c.session.Version(ctx); err == nil {
		version = v
	}
	window := c.session.Window().State()

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODE\tHOST VERSION\tHEALTH\tMAXIMIZED\tMINIMIZED")
	fmt.Fprintln(w, "----\t------------\t------\t---------\t---------")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
		mode, version, c.session.Health().State, yesNo(window.Maximized), yesNo(window.Minimized))
	if err := w.Flush(); err != nil {
		return err
	}

	if conn, ok := c.session.(*ipc.Connected); ok {
		fmt.Fprintf(c.out, "\nEvents:  %s\n", strings.Join(conn.Events().Names(), ", "))
		fmt.Fprintf(c.out, "Pending: %d\n", conn.Requests().Pending())
	}
	return nil
}

// RequestLog prints the most recent requests the host served.
func (c *CLI) RequestLog(ctx context.Context, limit int) error {
	records, err := c.session.RequestLog(ctx, limit)
	if err != nil {
		return describe(common.ChannelRequestLog, err)
	}
	if len(records) == 0 {
		fmt.Fprintln(c.out, "No requests recorded.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHANNEL\tDURATION\tOUTCOME")
	fmt.Fprintln(w, "--\t-------\t--------\t-------")
	for _, r := range records {
		// Truncate ID for display
		shortID := r.CorrelationID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%dms\t%s\n", shortID, r.Channel, r.DurationMS, r.Outcome)
	}
	return w.Flush()
}

// Watch follows the session live until ctx is done.
func (c *CLI) Watch(ctx context.Context) error {
	return monitor.Run(ctx, c.session, c.out)
}

func (c *CLI) printJSON(raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	var pretty any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Fprintln(c.out, string(raw))
		return nil
	}
	data, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, string(data))
	return nil
}

func parseJSON(text, empty string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		text = empty
	}
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("invalid JSON: %s", text)
	}
	return json.RawMessage(text), nil
}

// describe adds a hint for the common failure modes.
func describe(channel string, err error) error {
	var remote *ipc.RemoteError
	switch {
	case errors.As(err, &remote):
		return fmt.Errorf("host rejected %s: %w", channel, err)
	case errors.Is(err, common.ErrStandalone):
		return fmt.Errorf("%s: %w (is the host running?)", channel, err)
	}
	return fmt.Errorf("%s: %w", channel, err)
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`HostBridge - Command Line Interface

Usage:
  hostbridge [OPTIONS]

Options:
  -version              Show version and exit
  -verbose              Enable verbose logging
  -config PATH          Use an alternate configuration file
  -host                 Run the privileged host
  -stdio                Serve the host over stdin/stdout instead of D-Bus
  -forget-token         Remove the stored session token and exit
  -status               Show connection status
  -request CHANNEL      Send a correlated request
  -value JSON           Payload for -request (default {})
  -invoke CHANNEL       Perform a native invoke
  -args JSON            Arguments for -invoke as a JSON array (default [])
  -log N                Show the last N requests the host served
  -watch                Follow window state, health and host events
  -help                 Show this help message

Examples:
  hostbridge -host
  hostbridge -request get-version
  hostbridge -invoke get-app-info
  hostbridge -invoke maximize-window
  hostbridge -watch

Notes:
  - Without a reachable host every request fails with "host process not available"
  - Run with -watch and no flags on a terminal for the live monitor`)
}
