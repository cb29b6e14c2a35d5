package main

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/neovim/go-client/nvim"
	"golang.org/x/sync/errgroup"

	"dirtydiff/buffer"
	"dirtydiff/engine"
	"dirtydiff/logger"
	"dirtydiff/metrics"
	"dirtydiff/scm"
)

type Daemon struct {
	config      Config
	services    services
	poller      *scm.Poller
	listener    net.Listener
	socketPath  string
	pidPath     string
	clientCount int64
	ctx         context.Context
	cancel      context.CancelFunc

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func NewDaemon(config Config) (*Daemon, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	registry := scm.NewRegistry()
	var disk *scm.DiskProvider
	if config.DiskFallback {
		disk = scm.NewDiskProvider()
		registry.Add(disk, scm.PriorityDisk)
	}
	poller := scm.NewPoller(registry, config.pollInterval())

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config: config,
		services: services{
			config:   config,
			registry: registry,
			poller:   poller,
			disk:     disk,
			clock:    engine.NewRealClock(),
		},
		poller:     poller,
		socketPath: getSocketPath(),
		pidPath:    getPidPath(),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[*Session]struct{}),
	}, nil
}

func (d *Daemon) Start() error {
	d.writePidFile()
	defer d.removePidFile()

	if err := d.setupSocket(); err != nil {
		return err
	}
	defer d.cleanup()

	logger.Info("daemon listening on socket: %s", d.socketPath)

	d.setupShutdownHandling()

	g, gctx := errgroup.WithContext(d.ctx)
	g.Go(func() error {
		d.acceptConnections()
		return nil
	})
	g.Go(func() error {
		d.monitorIdleShutdown()
		return nil
	})
	g.Go(func() error {
		return d.poller.Run(gctx)
	})
	if d.config.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, d.config.MetricsAddr, execDir())
		})
	}

	// a failing member cancels gctx, which takes the daemon down with it
	<-gctx.Done()
	logger.Info("daemon shutting down...")
	d.Stop()

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) setupSocket() error {
	os.Remove(d.socketPath)

	listener, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return err
	}
	d.listener = listener
	return nil
}

func (d *Daemon) setupShutdownHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.Info("received shutdown signal")
			d.Stop()
		case <-d.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

func (d *Daemon) acceptConnections() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				return
			default:
				logger.Error("error accepting connection: %v", err)
				continue
			}
		}

		atomic.AddInt64(&d.clientCount, 1)
		logger.Info("new client connected, total clients: %d", atomic.LoadInt64(&d.clientCount))
		go d.handleConnection(conn)
	}
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer func() {
		atomic.AddInt64(&d.clientCount, -1)
		logger.Info("client disconnected, remaining clients: %d", atomic.LoadInt64(&d.clientCount))
	}()

	n, err := nvim.New(conn, conn, conn, logger.Debug)
	if err != nil {
		logger.Error("error creating nvim client: %v", err)
		return
	}

	session := NewSession(d.services, buffer.NewClient(n))
	if err := registerHandlers(n, session); err != nil {
		logger.Error("error registering handlers: %v", err)
		return
	}
	if !d.addSession(session) {
		return
	}
	defer d.removeSession(session)

	session.Start()
	defer session.Close()

	if err := n.Serve(); err != nil && err != io.EOF {
		logger.Warn("error serving connection: %v", err)
	}
}

func (d *Daemon) addSession(s *Session) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx.Err() != nil {
		return false
	}
	d.sessions[s] = struct{}{}
	return true
}

func (d *Daemon) removeSession(s *Session) {
	d.mu.Lock()
	delete(d.sessions, s)
	d.mu.Unlock()
}

func (d *Daemon) monitorIdleShutdown() {
	// In debug mode, shut down immediately when no clients are connected
	if d.config.DebugImmediateShutdown {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				if atomic.LoadInt64(&d.clientCount) == 0 {
					logger.Info("debug mode: no clients connected, shutting down daemon immediately")
					d.Stop()
					return
				}
			}
		}
	}

	idleTimer := time.NewTimer(30 * time.Second)
	defer idleTimer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-idleTimer.C:
			if atomic.LoadInt64(&d.clientCount) == 0 {
				logger.Info("no clients connected for timeout period, shutting down daemon")
				d.Stop()
				return
			}
		}

		if atomic.LoadInt64(&d.clientCount) == 0 {
			idleTimer.Reset(5 * time.Second)
		} else {
			idleTimer.Reset(30 * time.Second)
		}
	}
}

// Stop closes the listener and every live session. Safe to call repeatedly.
func (d *Daemon) Stop() {
	d.mu.Lock()
	d.cancel()
	sessions := make([]*Session, 0, len(d.sessions))
	for s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	if d.listener != nil {
		d.listener.Close()
	}
	for _, s := range sessions {
		s.Close()
	}
}

func (d *Daemon) cleanup() {
	os.Remove(d.socketPath)
}

func (d *Daemon) writePidFile() {
	pid := os.Getpid()
	err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(pid)), 0644)
	if err != nil {
		logger.Warn("could not write PID file: %v", err)
	}
	logger.Info("server started with PID %d", pid)
}

func (d *Daemon) removePidFile() {
	if err := os.Remove(d.pidPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not remove PID file: %v", err)
	}
}
