package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"dirtydiff/logger"
)

const (
	daemonStartAttempts = 50
	daemonStartPoll     = 100 * time.Millisecond
)

// Client relays the stdio rpc channel Neovim opened to the daemon socket
type Client struct {
	socketPath string
	configPath string
}

func NewClient(configPath string) *Client {
	if configPath != "" {
		// the daemon does not inherit our working directory's meaning
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
	}
	return &Client{
		socketPath: getSocketPath(),
		configPath: configPath,
	}
}

// Connect copies stdin to the daemon and the daemon's replies to stdout
// until either side hangs up
func (c *Client) Connect() error {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	go func() {
		io.Copy(conn, os.Stdin)
		conn.Close()
	}()

	if _, err := io.Copy(os.Stdout, conn); err != nil {
		logger.Debug("relay closed: %v", err)
	}
	return nil
}

func (c *Client) EnsureDaemonRunning() error {
	running, pid := isDaemonRunning()
	if running && c.socketReachable() {
		logger.Debug("daemon already running with PID %d", pid)
		return nil
	}
	if running {
		logger.Warn("daemon PID %d is alive but %s does not answer, starting a new one", pid, c.socketPath)
	}
	return c.startDaemon()
}

func (c *Client) socketReachable() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Client) startDaemon() error {
	logger.Debug("starting daemon...")

	args := []string{os.Args[0], "--daemon"}
	if c.configPath != "" {
		args = append(args, "--config", c.configPath)
	}

	_, err := os.StartProcess(os.Args[0], args, &os.ProcAttr{
		Env:   os.Environ(),
		Files: []*os.File{nil, nil, nil},
	})
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	return c.waitForDaemon()
}

func (c *Client) waitForDaemon() error {
	for range daemonStartAttempts {
		if running, _ := isDaemonRunning(); running && c.socketReachable() {
			logger.Debug("daemon started successfully")
			return nil
		}
		time.Sleep(daemonStartPoll)
	}
	return fmt.Errorf("daemon failed to start within %v", daemonStartAttempts*daemonStartPoll)
}
