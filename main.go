// Package main provides the entry point for HostBridge.
// HostBridge connects an unprivileged UI process to a privileged host
// process: requests receive exactly one matching reply, host broadcasts are
// republished as one event stream and the host window state is mirrored.
//
// Usage:
//
//	hostbridge -host            run the host (D-Bus, with tray)
//	hostbridge -host -stdio     run the host over stdin/stdout (spawned via pkexec)
//	hostbridge -watch           follow a running host
//	hostbridge -request NAME    send one request
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yllada/hostbridge/cli"
	"github.com/yllada/hostbridge/common"
	"github.com/yllada/hostbridge/config"
	"github.com/yllada/hostbridge/host"
	"github.com/yllada/hostbridge/ipc"
	"github.com/yllada/hostbridge/journal"
	"github.com/yllada/hostbridge/keyring"
	"github.com/yllada/hostbridge/transport"
	"github.com/yllada/hostbridge/tray"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	// General flags
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")
	configPath  = flag.String("config", "", "Path to the configuration file")

	// Host flags
	runAsHost = flag.Bool("host", false, "Run the privileged host")
	useStdio  = flag.Bool("stdio", false, "Serve the host over stdin/stdout")
	forget    = flag.Bool("forget-token", false, "Remove the stored session token and exit")

	// Client flags
	showStatus   = flag.Bool("status", false, "Show connection status")
	requestName  = flag.String("request", "", "Send a correlated request on this channel")
	requestValue = flag.String("value", "", "JSON payload for -request")
	invokeName   = flag.String("invoke", "", "Perform a native invoke on this channel")
	invokeArgs   = flag.String("args", "", "JSON array of arguments for -invoke")
	logLimit     = flag.Int("log", 0, "Show the last N requests the host served")
	watch        = flag.Bool("watch", false, "Follow window state, health and host events")
)

// maintenanceInterval is how often the host rotates its log and prunes the journal.
const maintenanceInterval = time.Hour

func main() {
	flag.Parse()

	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("HostBridge v%s\n", appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}
	common.AppVersion = appVersion

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		cfg = config.DefaultConfig()
	}

	logLevel := cfg.Level()
	if *verbose {
		logLevel = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  cfg.LogToFile,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	// Setup graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	if *forget {
		if err := keyring.ForgetSessionToken(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Session token removed; the next host start creates a new one.")
		return
	}

	if *runAsHost {
		restart, err := runHost(ctx, cancel, cfg)
		if err != nil {
			common.LogError("Host stopped: %v", err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if restart {
			reexec()
		}
		return
	}

	if err := runClient(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		return config.LoadFile(*configPath)
	}
	return config.Load()
}

// runClient opens a session and runs the one command selected by flags.
func runClient(ctx context.Context, cfg *config.Config) error {
	session, err := ipc.Open(ctx, cfg, common.Component("ipc"))
	if err != nil {
		return err
	}
	defer session.Close()

	c := cli.New(session)
	if *showStatus {
		return c.Status(ctx)
	}
	switch {
	case *requestName != "":
		return c.Request(ctx, *requestName, *requestValue)
	case *invokeName != "":
		return c.Invoke(ctx, *invokeName, *invokeArgs)
	case *logLimit > 0:
		return c.RequestLog(ctx, *logLimit)
	case *watch:
		return c.Watch(ctx)
	default:
		return c.Status(ctx)
	}
}

// runHost serves the bridge until ctx is done. It reports whether the UI
// asked for a restart.
func runHost(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) (bool, error) {
	log := common.Component("host")
	common.LogInfo("Starting %s host v%s", common.AppName, appVersion)

	var t transport.Transport
	if *useStdio {
		t = transport.NewStdioHost(common.Component("stdio"))
	} else {
		token, err := keyring.EnsureSessionToken()
		if err != nil {
			return false, fmt.Errorf("session token: %w", err)
		}
		dbusHost, err := transport.ServeDBus(token, common.Component("dbus"))
		if err != nil {
			return false, err
		}
		t = dbusHost
	}

	server := host.NewServer(t, log)
	defer server.Close()

	j, err := openJournal(cfg)
	if err != nil {
		common.LogWarn("Request journal disabled: %v", err)
	} else {
		defer j.Close()
		server.SetRecorder(j)
	}

	window := host.NewWindow(cfg.Window, nil, common.Component("window"))
	window.Attach(server)

	updates := host.NewUpdates(host.NoUpdates{}, server, false, common.Component("updates"))
	updates.Attach(server)

	restart := false
	builtins := host.Builtins{
		Version: appVersion,
		Restart: func() error {
			common.LogInfo("Restart requested")
			restart = true
			cancel()
			return nil
		},
	}
	if j != nil {
		builtins.Log = j
	}
	builtins.Register(server)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := server.Serve(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		// Transport gone: nothing left to serve.
		cancel()
		return err
	})

	g.Go(func() error {
		ticker := time.NewTicker(maintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				common.GetLogger().CheckRotation()
				if j == nil {
					continue
				}
				if n, err := j.Prune(gctx, journal.DefaultRetention); err != nil {
					common.LogWarn("Journal prune failed: %v", err)
				} else if n > 0 {
					common.LogDebug("Pruned %d journal records", n)
				}
			}
		}
	})

	if cfg.ShowTray && !*useStdio {
		indicator := tray.New(window, updates, cancel, common.Component("tray"))
		g.Go(func() error {
			indicator.Run()
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			indicator.Quit()
			return nil
		})
	}

	err = g.Wait()
	return restart, err
}

func openJournal(cfg *config.Config) (*journal.Journal, error) {
	path := cfg.JournalPath
	if path == "" {
		var err error
		if path, err = journal.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return journal.Open(path)
}

// reexec replaces the process with a fresh copy of itself.
func reexec() {
	exe, err := os.Executable()
	if err != nil {
		common.LogError("Restart failed: %v", err)
		os.Exit(1)
	}
	common.CloseLogger()
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: restart failed: %v\n", err)
		os.Exit(1)
	}
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context to allow cleanup.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}
