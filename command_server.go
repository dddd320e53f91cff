package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/cli"
)

var _ cli.Command = (*ServerCommand)(nil)

// shutdownGrace bounds how long in-flight runs get once a stop is requested.
const shutdownGrace = 10 * time.Second

type ServerCommand struct {
	UI cli.Ui
}

func (c *ServerCommand) Synopsis() string {
	return "Serve the scenarios over HTTP"
}

func (c *ServerCommand) Help() string {
	helpText := `
Usage: share-tester server

  Listen on LISTEN_ADDR and run scenarios on request against the share at
  NFS_PATH. Results are stored under REPORT_PATH.

      $ NFS_PATH=/mnt/nfs LISTEN_ADDR=:8080 share-tester server
`
	return strings.TrimSpace(helpText)
}

func (c *ServerCommand) Run(args []string) int {
	cfg, err := loadConfig()
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error loading configuration: %s", err))
		return 1
	}
	logger := newLogger(cfg, os.Stderr)

	sh, target, err := cfg.newShare()
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error opening share: %s", err))
		return 1
	}
	reports, err := NewReportStore(cfg.ReportPath)
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error opening report store: %s", err))
		return 1
	}

	srv := newServer(cfg, sh, target, reports, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("share-tester starting", "listen", cfg.ListenAddr, "backend", cfg.Backend, "target", target, "reports", cfg.ReportPath, "hostname", srv.hostname)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			c.UI.Error(fmt.Sprintf("Error serving: %s", err))
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down", "grace", shutdownGrace)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown did not finish cleanly", "error", err)
			return 1
		}
	}
	return 0
}
