package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/thearyanahmed/share-tester/internal/harness"
	"github.com/thearyanahmed/share-tester/internal/metric"
	"github.com/thearyanahmed/share-tester/internal/scenario"
	"github.com/thearyanahmed/share-tester/internal/share"
)

// errSuiteCancelled is returned when the caller's context ends mid-run. The
// partial results are discarded.
var errSuiteCancelled = errors.New("suite cancelled")

// op is a single scenario to run against a share.
type op struct {
	Name string
	Fn   func(ctx context.Context, env suiteEnv) ([]*harness.Report, error)
}

// SuiteConfig carries the knobs the scenarios take.
type SuiteConfig struct {
	LockTimeout   time.Duration
	StressTimeout time.Duration
	StressWorkers int
	Repeat        int
}

type suiteEnv struct {
	share  share.Share
	logger hclog.Logger
	cfg    SuiteConfig
}

type TestResult struct {
	Name     string            `json:"name"`
	Pass     bool              `json:"pass"`
	Error    string            `json:"error,omitempty"`
	Details  string            `json:"details,omitempty"`
	Duration string            `json:"duration"`
	Reports  []*harness.Report `json:"reports,omitempty"`
}

type SuiteSummary struct {
	Pass  int `json:"pass"`
	Fail  int `json:"fail"`
	Total int `json:"total"`
}

// SuiteResult holds results from running a set of scenarios against one share.
type SuiteResult struct {
	RunID     string       `json:"run_id"`
	Timestamp string       `json:"timestamp"`
	Backend   string       `json:"backend"`
	Target    string       `json:"target"`
	Tests     []TestResult `json:"tests"`
	Summary   SuiteSummary `json:"summary"`
}

// coreOps returns the scenarios in the order they run. They are independent;
// every one uses fresh resource names.
func coreOps() []op {
	return []op{
		{"exclusive_lock", opExclusiveLock},
		{"exclusive_lock_repeat", opExclusiveLockRepeat},
		{"concurrent_stress", opConcurrentStress},
	}
}

// selectOps picks ops by name, keeping coreOps order. No names, or "all",
// selects everything.
func selectOps(names ...string) ([]op, error) {
	all := coreOps()
	if len(names) == 0 || (len(names) == 1 && names[0] == "all") {
		return all, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ReplaceAll(n, "-", "_")] = true
	}
	var ops []op
	for _, o := range all {
		if want[o.Name] {
			ops = append(ops, o)
			delete(want, o.Name)
		}
	}
	if len(want) > 0 {
		var unknown []string
		for n := range want {
			unknown = append(unknown, n)
		}
		return nil, fmt.Errorf("unknown scenario(s): %s", strings.Join(unknown, ", "))
	}
	return ops, nil
}

// runOps executes a list of scenarios and collects results. It stops early
// once ctx is done.
func runOps(ctx context.Context, env suiteEnv, ops []op) []TestResult {
	var results []TestResult
	for _, o := range ops {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		reports, err := o.Fn(ctx, env)
		for _, r := range reports {
			metric.RecordReport(r)
		}
		tr := TestResult{
			Name:     o.Name,
			Pass:     err == nil,
			Details:  describe(reports),
			Duration: time.Since(start).Round(time.Millisecond).String(),
			Reports:  reports,
		}
		if err != nil {
			tr.Error = err.Error()
		}
		results = append(results, tr)
	}
	return results
}

func summarize(results []TestResult) SuiteSummary {
	s := SuiteSummary{Total: len(results)}
	for _, r := range results {
		if r.Pass {
			s.Pass++
		} else {
			s.Fail++
		}
	}
	return s
}

// describe renders per-case outcomes, e.g. "holder=completed contender=timeout".
func describe(reports []*harness.Report) string {
	if len(reports) == 0 {
		return ""
	}
	last := reports[len(reports)-1]
	var parts []string
	for _, res := range last.Results {
		state := "completed"
		if !res.Completed {
			state = "failed"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", res.Case, state))
	}
	d := strings.Join(parts, " ")
	if len(reports) > 1 {
		d = fmt.Sprintf("%d runs, last: %s", len(reports), d)
	}
	return d
}

// RunSuite runs the named scenarios (all when none are named) against s. If
// ctx ends before the suite finishes, the run is discarded and the error wraps
// errSuiteCancelled.
func RunSuite(ctx context.Context, s share.Share, backend, target string, logger hclog.Logger, cfg SuiteConfig, names ...string) (*SuiteResult, error) {
	ops, err := selectOps(names...)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)
	logger.Info("running suite", "backend", backend, "target", target, "scenarios", len(ops))

	results := runOps(ctx, suiteEnv{share: s, logger: logger, cfg: cfg}, ops)
	if err := ctx.Err(); err != nil {
		logger.Warn("suite cancelled", "completed", len(results), "error", err)
		return nil, fmt.Errorf("%w: run %s: %w", errSuiteCancelled, runID, err)
	}
	summary := summarize(results)
	logger.Info("suite finished", "pass", summary.Pass, "fail", summary.Fail)

	return &SuiteResult{
		RunID:     runID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Backend:   backend,
		Target:    target,
		Tests:     results,
		Summary:   summary,
	}, nil
}

// --- scenarios ---

func opExclusiveLock(ctx context.Context, env suiteEnv) ([]*harness.Report, error) {
	report, err := scenario.RunExclusiveLock(ctx, env.share, env.logger, env.cfg.LockTimeout)
	return []*harness.Report{report}, err
}

// opExclusiveLockRepeat reruns the pair with fresh names each time; a share
// that leaks locks or resources between runs fails here.
func opExclusiveLockRepeat(ctx context.Context, env suiteEnv) ([]*harness.Report, error) {
	times := env.cfg.Repeat
	if times <= 0 {
		times = 1
	}
	return scenario.RunExclusiveLockRepeated(ctx, env.share, env.logger, times, env.cfg.LockTimeout)
}

func opConcurrentStress(ctx context.Context, env suiteEnv) ([]*harness.Report, error) {
	report, err := scenario.RunStress(ctx, env.share, env.logger, env.cfg.StressWorkers, env.cfg.StressTimeout)
	return []*harness.Report{report}, err
}
