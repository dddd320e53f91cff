package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/mitchellh/cli"
)

var _ cli.Command = (*RunCommand)(nil)

// RunCommand runs scenarios once from the command line and exits non-zero if
// any of them failed.
type RunCommand struct {
	UI cli.Ui
}

func (c *RunCommand) Synopsis() string {
	return "Run lock and stress scenarios against a share"
}

func (c *RunCommand) Help() string {
	helpText := `
Usage: share-tester run [options]

  Run every scenario against the share at NFS_PATH:

      $ share-tester run

  Run only the lock check, twenty times, against the in-process share:

      $ share-tester run -scenario exclusive-lock-repeat -repeat 20 -backend memory

  Scenarios: exclusive-lock, exclusive-lock-repeat, concurrent-stress, all.
  Options default to the environment (NFS_PATH, SHARE_BACKEND, LOCK_TIMEOUT,
  STRESS_TIMEOUT, STRESS_WORKERS, LOCK_REPEAT, REPORT_PATH).

Options:

  -scenario=<names>    Comma separated scenarios to run. Defaults to all.
  -backend=<kind>      dir or memory.
  -path=<dir>          Directory the dir backend uses.
  -workers=<n>         Stress workers.
  -repeat=<n>          Iterations of exclusive-lock-repeat.
  -save                Store the result under REPORT_PATH.
`
	return strings.TrimSpace(helpText)
}

func (c *RunCommand) Run(args []string) int {
	cfg, err := loadConfig()
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error loading configuration: %s", err))
		return 1
	}

	var scenarios string
	var save bool
	f := flag.NewFlagSet("run", flag.ContinueOnError)
	f.Usage = func() { c.UI.Error(c.Help()) }
	f.StringVar(&scenarios, "scenario", "all", "")
	f.StringVar(&cfg.Backend, "backend", cfg.Backend, "")
	f.StringVar(&cfg.NFSPath, "path", cfg.NFSPath, "")
	f.IntVar(&cfg.StressWorkers, "workers", cfg.StressWorkers, "")
	f.IntVar(&cfg.Repeat, "repeat", cfg.Repeat, "")
	f.BoolVar(&save, "save", false, "")
	if err := f.Parse(args); err != nil {
		return 1
	}
	if err := cfg.validate(); err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	logger := newLogger(cfg, os.Stderr)
	sh, target, err := cfg.newShare()
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error opening share: %s", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := RunSuite(ctx, sh, cfg.Backend, target, logger, cfg.suiteConfig(), strings.Split(scenarios, ",")...)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	c.printResult(result)

	if save {
		store, err := NewReportStore(cfg.ReportPath)
		if err == nil {
			err = store.Create(result)
		}
		if err != nil {
			c.UI.Warn(fmt.Sprintf("Could not store run: %s", err))
		} else {
			c.UI.Info(fmt.Sprintf("Stored run %s", result.RunID))
		}
	}

	if result.Summary.Fail > 0 {
		return 1
	}
	return 0
}

func (c *RunCommand) printResult(result *SuiteResult) {
	pass := color.New(color.FgGreen, color.Bold).SprintFunc()
	fail := color.New(color.FgRed, color.Bold).SprintFunc()

	c.UI.Output(fmt.Sprintf("run %s against %s (%s)", result.RunID, result.Target, result.Backend))
	for _, t := range result.Tests {
		status := pass("PASS")
		if !t.Pass {
			status = fail("FAIL")
		}
		c.UI.Output(fmt.Sprintf("  %s  %-24s %8s  %s", status, t.Name, t.Duration, t.Details))
		if t.Error != "" {
			c.UI.Output("        " + t.Error)
		}
	}

	summary := fmt.Sprintf("%d/%d passed", result.Summary.Pass, result.Summary.Total)
	if result.Summary.Fail > 0 {
		c.UI.Output(fail(summary))
		return
	}
	c.UI.Output(pass(summary))
}
