package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"dirtydiff/engine"
	"dirtydiff/logger"
	"dirtydiff/scm"
	"dirtydiff/text"
	"dirtydiff/types"
)

// configEnv holds a JSON object overriding any file-based setting
const configEnv = "DIRTYDIFF_CONFIG"

const (
	OracleLine = "line"
	OracleGit  = "git"
)

type Config struct {
	LogLevel               string `json:"log_level" toml:"log_level"`   // trace, debug, info, warn, error
	DiffDelay              int    `json:"diff_delay" toml:"diff_delay"` // in milliseconds
	MaxDiffLines           int    `json:"max_diff_lines" toml:"max_diff_lines"`
	IgnoreTrimWhitespace   bool   `json:"ignore_trim_whitespace" toml:"ignore_trim_whitespace"`
	Oracle                 string `json:"oracle" toml:"oracle"` // line or git
	GitRef                 string `json:"git_ref" toml:"git_ref"`
	DiskFallback           bool   `json:"disk_fallback" toml:"disk_fallback"`
	RepoPollInterval       int    `json:"repo_poll_interval" toml:"repo_poll_interval"` // in milliseconds
	MetricsAddr            string `json:"metrics_addr" toml:"metrics_addr"`
	DebugImmediateShutdown bool   `json:"debug_immediate_shutdown" toml:"debug_immediate_shutdown"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:         "info",
		DiffDelay:        int(engine.DefaultDelay / time.Millisecond),
		MaxDiffLines:     text.DefaultMaxDiffLines,
		Oracle:           OracleLine,
		GitRef:           "HEAD",
		RepoPollInterval: int(scm.DefaultPollInterval / time.Millisecond),
	}
}

// loadConfig layers, in order: defaults, the TOML file at path (optional),
// variables from a .env file in the working directory, and the JSON object
// in DIRTYDIFF_CONFIG.
func loadConfig(path string) (Config, error) {
	config := defaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return config, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil {
		// a missing .env file is fine
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config, fmt.Errorf("load .env: %w", err)
		}
	}

	if raw := os.Getenv(configEnv); raw != "" {
		if err := json.Unmarshal([]byte(raw), &config); err != nil {
			return config, fmt.Errorf("invalid %s: %w", configEnv, err)
		}
	}

	if err := config.validate(); err != nil {
		return config, err
	}
	return config, nil
}

func (c Config) validate() error {
	switch c.Oracle {
	case OracleLine, OracleGit:
	default:
		return fmt.Errorf("unknown oracle %q (want %q or %q)", c.Oracle, OracleLine, OracleGit)
	}
	if c.DiffDelay < 0 {
		return fmt.Errorf("diff_delay must not be negative, got %d", c.DiffDelay)
	}
	if c.MaxDiffLines < 0 {
		return fmt.Errorf("max_diff_lines must not be negative, got %d", c.MaxDiffLines)
	}
	if c.GitRef == "" {
		return errors.New("git_ref must not be empty")
	}
	return nil
}

func (c Config) trackerConfig() engine.TrackerConfig {
	return engine.TrackerConfig{
		Delay:       time.Duration(c.DiffDelay) * time.Millisecond,
		DiffOptions: types.DiffOptions{IgnoreTrimWhitespace: c.IgnoreTrimWhitespace},
	}
}

func (c Config) pollInterval() time.Duration {
	return time.Duration(c.RepoPollInterval) * time.Millisecond
}

// newOracle builds the configured diff oracle over models
func (c Config) newOracle(models *text.Models) types.DiffOracle {
	if c.Oracle == OracleGit {
		return scm.NewGitOracle(models, c.MaxDiffLines)
	}
	return text.NewLineOracle(models, c.MaxDiffLines)
}

func execDir() string {
	execPath, err := os.Executable()
	if err != nil {
		logger.Fatal("error getting executable path: %v", err)
	}
	return filepath.Dir(execPath)
}
