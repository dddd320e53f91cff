package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/kelseyhightower/envconfig"
	"github.com/thearyanahmed/share-tester/internal/share"
)

const (
	backendDir    = "dir"
	backendMemory = "memory"
)

type Config struct {
	NFSPath       string        `envconfig:"NFS_PATH" default:"/mnt/nfs"`
	Backend       string        `envconfig:"SHARE_BACKEND" default:"dir"`
	ListenAddr    string        `envconfig:"LISTEN_ADDR" default:":8080"`
	ReportPath    string        `envconfig:"REPORT_PATH" default:"/data/reports"`
	LockTimeout   time.Duration `envconfig:"LOCK_TIMEOUT" default:"5s"`
	StressTimeout time.Duration `envconfig:"STRESS_TIMEOUT" default:"60s"`
	StressWorkers int           `envconfig:"STRESS_WORKERS" default:"10"`
	Repeat        int           `envconfig:"LOCK_REPEAT" default:"5"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string        `envconfig:"LOG_FORMAT" default:"standard"`
}

func loadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case backendDir, backendMemory:
	default:
		return fmt.Errorf("SHARE_BACKEND must be %q or %q, got %q", backendDir, backendMemory, c.Backend)
	}
	if c.LockTimeout <= 0 || c.StressTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.StressWorkers <= 0 {
		return fmt.Errorf("STRESS_WORKERS must be positive, got %d", c.StressWorkers)
	}
	switch c.LogFormat {
	case "standard", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be standard or json, got %q", c.LogFormat)
	}
	return nil
}

func (c *Config) suiteConfig() SuiteConfig {
	return SuiteConfig{
		LockTimeout:   c.LockTimeout,
		StressTimeout: c.StressTimeout,
		StressWorkers: c.StressWorkers,
		Repeat:        c.Repeat,
	}
}

// newShare builds the configured backend and describes what it points at.
func (c *Config) newShare() (share.Share, string, error) {
	switch c.Backend {
	case backendMemory:
		return share.NewMemShare(), "in-process", nil
	default:
		d, err := share.NewDirShare(c.NFSPath)
		if err != nil {
			return nil, "", err
		}
		return d, c.NFSPath, nil
	}
}

func newLogger(c *Config, out io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "share-tester",
		Level:      hclog.LevelFromString(c.LogLevel),
		Output:     out,
		JSONFormat: c.LogFormat == "json",
	})
}

func getHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// mountInfo returns the mount table line for path, if any.
func mountInfo(path string) string {
	out, err := exec.Command("mount").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, path) {
			return line
		}
	}
	return ""
}
