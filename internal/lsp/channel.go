package lsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// Channel is the bidirectional byte stream connecting client and server.
// The session owns the channel exclusively; no other component writes to it.
type Channel interface {
	io.ReadWriteCloser
}

// Process is implemented by channels backed by a spawned server process.
// The session uses it to force-terminate servers that ignore exit.
type Process interface {
	// Exited receives the process exit error (possibly nil) exactly once.
	Exited() <-chan error

	// Terminate waits up to grace for a voluntary exit, then kills.
	Terminate(grace time.Duration) error
}

// ChannelConfig describes how to obtain a live server endpoint: spawn a
// local executable, or connect to a pre-existing TCP or unix socket
// endpoint. Exactly one mode should be set; spawn wins when several are.
type ChannelConfig struct {
	// Command is the server executable to spawn. Args and Env apply to it;
	// its stdin/stdout become the channel and stderr is logged, never parsed.
	Command string
	Args    []string
	Env     map[string]string
	Dir     string

	// TCPAddr connects to a listening server instead of spawning.
	TCPAddr string

	// SocketPath connects over a unix domain socket.
	SocketPath string

	// DialTimeout bounds socket connection attempts. Default 5s.
	DialTimeout time.Duration
}

const defaultDialTimeout = 5 * time.Second

// AcquireChannel resolves the configured endpoint into a live channel.
// Failures are reported as *TransportError; the channel is not restartable,
// a new one must be acquired to retry.
func AcquireChannel(ctx context.Context, cfg ChannelConfig, logger zerolog.Logger) (Channel, error) {
	switch {
	case cfg.Command != "":
		return spawn(cfg, logger)
	case cfg.TCPAddr != "":
		return dial(ctx, "tcp", cfg.TCPAddr, cfg.DialTimeout)
	case cfg.SocketPath != "":
		return dial(ctx, "unix", cfg.SocketPath, cfg.DialTimeout)
	default:
		return nil, &TransportError{Reason: TransportSpawnFailed, Endpoint: "", Err: errors.New("no command or endpoint configured")}
	}
}

// processChannel adapts a spawned server's stdio pipes to a Channel.
type processChannel struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	exitCh chan error
}

func spawn(cfg ChannelConfig, logger zerolog.Logger) (Channel, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if cfg.Dir != "" {
		cmd.Dir = cfg.Dir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &TransportError{Reason: TransportSpawnFailed, Endpoint: cfg.Command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &TransportError{Reason: TransportSpawnFailed, Endpoint: cfg.Command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, &TransportError{Reason: TransportSpawnFailed, Endpoint: cfg.Command, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, &TransportError{Reason: TransportSpawnFailed, Endpoint: cfg.Command, Err: err}
	}

	// Stderr carries server-side logs only. It must never reach the codec.
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 16*1024), 256*1024)
		for scanner.Scan() {
			logger.Debug().Str("source", "server-stderr").Msg(scanner.Text())
		}
	}()

	ch := &processChannel{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		exitCh: make(chan error, 1),
	}
	go func() {
		ch.exitCh <- cmd.Wait()
	}()
	return ch, nil
}

func (c *processChannel) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *processChannel) Write(p []byte) (int, error) { return c.stdin.Write(p) }

// Close closes the stdio pipes. It does not kill the process; callers that
// need a bounded exit use Terminate.
func (c *processChannel) Close() error {
	err := c.stdin.Close()
	if cerr := c.stdout.Close(); err == nil {
		err = cerr
	}
	return err
}

// Exited implements Process.
func (c *processChannel) Exited() <-chan error {
	return c.exitCh
}

// Terminate implements Process. The server is given grace to exit on its
// own (it should, after receiving exit); then it is killed.
func (c *processChannel) Terminate(grace time.Duration) error {
	select {
	case err := <-c.exitCh:
		return err
	case <-time.After(grace):
	}
	if c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill server process: %w", err)
		}
	}
	select {
	case err := <-c.exitCh:
		return err
	case <-time.After(grace):
		return errors.New("server process did not exit after kill")
	}
}

// socketChannel adapts a network connection to a Channel.
type socketChannel struct {
	conn net.Conn
}

func (c *socketChannel) Read(p []byte) (int, error)  { return c.conn.Read(p) }
func (c *socketChannel) Write(p []byte) (int, error) { return c.conn.Write(p) }
func (c *socketChannel) Close() error                { return c.conn.Close() }

func dial(ctx context.Context, network, addr string, timeout time.Duration) (Channel, error) {
	if timeout == 0 {
		timeout = defaultDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		// Anything that is not a timeout means the endpoint cannot be
		// reached right now; ECONNREFUSED is the common case.
		reason := TransportConnectRefused
		var nerr net.Error
		if (errors.As(err, &nerr) && nerr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
			reason = TransportConnectTimeout
		}
		return nil, &TransportError{Reason: reason, Endpoint: addr, Err: err}
	}
	return &socketChannel{conn: conn}, nil
}
