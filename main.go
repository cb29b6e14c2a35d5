package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v3"

	"dirtydiff/logger"
)

type ServerMode string

const (
	ModeDaemon ServerMode = "daemon"
	ModeClient ServerMode = "client"
)

// Setup logger to log to a file in the same directory as the executable
// Caller must defer logger.Close()
func setupLogger(logLevel string) *logger.LimitedLogger {
	logPath := filepath.Join(execDir(), "dirtydiff.log")

	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening file: %v", err)
	}

	level := logger.ParseLogLevel(logLevel)
	limitedLogger := logger.NewLimitedLogger(f, level)
	log.SetOutput(limitedLogger)
	return limitedLogger
}

func getSocketPath() string {
	return filepath.Join(execDir(), "dirtydiff.sock")
}

func getPidPath() string {
	return filepath.Join(execDir(), "dirtydiff.pid")
}

func isDaemonRunning() (bool, int) {
	data, err := os.ReadFile(getPidPath())
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	// On Unix, Signal(0) checks if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil, pid
}

func runDaemon(config Config) error {
	limitedLogger := setupLogger(config.LogLevel)
	defer limitedLogger.Close()

	logger.Info("config: %+v", config)

	daemon, err := NewDaemon(config)
	if err != nil {
		return fmt.Errorf("error creating daemon: %w", err)
	}
	if err := daemon.Start(); err != nil {
		return fmt.Errorf("error starting daemon: %w", err)
	}
	return nil
}

func runClient(configPath string) error {
	client := NewClient(configPath)

	if err := client.EnsureDaemonRunning(); err != nil {
		return fmt.Errorf("error ensuring daemon is running: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("error connecting to daemon: %w", err)
	}
	return nil
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "dirtydiff",
		Usage: "track unsaved and uncommitted changes of Neovim buffers",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "daemon",
				Usage: "run the shared daemon instead of relaying stdio to it",
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "load settings from the TOML `FILE`",
				Sources: cli.EnvVars("DIRTYDIFF_CONFIG_FILE"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			mode := ModeClient
			if cmd.Bool("daemon") {
				mode = ModeDaemon
			}

			switch mode {
			case ModeDaemon:
				config, err := loadConfig(cmd.String("config"))
				if err != nil {
					return err
				}
				return runDaemon(config)
			default:
				return runClient(cmd.String("config"))
			}
		},
		Commands: []*cli.Command{
			diffCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
