package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/yllada/hostbridge/common"
	"github.com/yllada/hostbridge/config"
)

// Dial opens the transport selected by cfg and confirms the host is reachable.
// It returns an error wrapping common.ErrStandalone when cfg selects no
// transport and common.ErrHostUnreachable when the host cannot be reached.
func Dial(ctx context.Context, cfg *config.Config, token string, log common.Logger) (Transport, error) {
	switch cfg.Transport {
	case config.TransportStandalone:
		return nil, common.ErrStandalone
	case config.TransportStdio:
		return SpawnHost(cfg.HostCommand, cfg.UsePkexec, log)
	default:
		client, err := DialDBus(token, log)
		if err != nil {
			return nil, err
		}
		probeCtx, cancel := context.WithTimeout(ctx, common.ProbeTimeout)
		defer cancel()
		running, err := client.HostRunning(probeCtx)
		if err != nil || !running {
			client.Close()
			return nil, fmt.Errorf("%w: %s not on the session bus", common.ErrHostUnreachable, common.BusName)
		}
		return client, nil
	}
}

// SpawnHost starts the host process and returns a Stream over its stdin/stdout.
// With usePkexec the command runs through pkexec, which prompts for
// authorization.
func SpawnHost(command []string, usePkexec bool, log common.Logger) (*Stream, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: empty host command", common.ErrHostUnreachable)
	}
	if usePkexec {
		command = append([]string{"pkexec"}, command...)
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrHostUnreachable, err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start host: %v", common.ErrHostUnreachable, err)
	}
	if log != nil {
		log.Info("spawned host pid %d: %v", cmd.Process.Pid, command)
	}

	return NewStream(&childPipe{cmd: cmd, Reader: stdout, WriteCloser: stdin}, log), nil
}

// childPipe joins a child's stdout and stdin. Closing it ends the child.
type childPipe struct {
	cmd *exec.Cmd
	io.Reader
	io.WriteCloser
}

func (p *childPipe) Close() error {
	err := p.WriteCloser.Close()
	// The host exits on stdin EOF; Wait also closes stdout.
	p.cmd.Wait()
	return err
}

// Stdio is the host end's view of its own stdin/stdout.
type Stdio struct {
	io.Reader
	io.Writer
}

// Close closes stdout so the UI sees EOF.
func (s Stdio) Close() error {
	if c, ok := s.Writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewStdioHost returns the host end for a process spawned by SpawnHost.
func NewStdioHost(log common.Logger) *Stream {
	return NewStream(Stdio{Reader: os.Stdin, Writer: os.Stdout}, log)
}
