// Package harness runs a set of concurrent test cases and decides whether
// they all completed.
//
// Every case gets its own goroutine so that cases which rendezvous with each
// other are never serialized behind a pool limit. A case reports exactly once,
// through a buffered channel, and the orchestrator only looks at what it has
// received; there are no shared completion flags to poll.
package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTimeout marks a case that had not reported when the run's deadline
	// passed.
	ErrTimeout = errors.New("test case did not finish before the deadline")

	// ErrPanic marks a case whose Run panicked.
	ErrPanic = errors.New("test case panicked")

	// ErrCancelled marks a run whose parent context ended before the
	// deadline. Such a run says nothing about the cases.
	ErrCancelled = errors.New("run cancelled before the deadline")
)

// Case is one independently scheduled unit of concurrent test work. Run
// returns nil exactly when the case completed. A case logs its own failures;
// the orchestrator does not diagnose them.
type Case interface {
	Name() string
	Run(ctx context.Context) error
}

// AssertionError is returned when a run that was not cancelled has cases
// that did not complete. It names every one of them.
type AssertionError struct {
	Scenario   string
	Total      int
	Incomplete []string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: %d of %d test cases did not complete: %s",
		e.Scenario, len(e.Incomplete), e.Total, strings.Join(e.Incomplete, ", "))
}

type delivery struct {
	index  int
	result Result
}

// Run starts every case at once and waits up to timeout for them to report.
// It always returns by the deadline: cases still running are recorded as
// timed out and left to finish in the background. Their context is cancelled
// on return, which is a request, not an interruption; a case blocked inside a
// collaborator call stays blocked.
//
// The report is always non-nil. The error is an *AssertionError when any case
// did not complete, unless ctx ended first: then the report is marked
// Cancelled, unreported cases carry ErrCancelled and the error wraps
// ErrCancelled and the context's cause.
func Run(ctx context.Context, cases []Case, timeout time.Duration, opt ...Option) (*Report, error) {
	opts := getOpts(opt...)
	logger := opts.withLogger.With("scenario", opts.withScenario)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report := &Report{
		Scenario: opts.withScenario,
		Started:  time.Now(),
		Timeout:  timeout,
		Results:  make([]Result, len(cases)),
	}

	// buffered so late reporters never block after we stop listening
	deliveries := make(chan delivery, len(cases))
	for i, c := range cases {
		go func() {
			deliveries <- delivery{index: i, result: runCase(runCtx, c)}
		}()
	}
	logger.Debug("submitted test cases", "count", len(cases), "timeout", timeout)

	received := make([]bool, len(cases))
	pending := len(cases)
	record := func(d delivery) {
		report.Results[d.index] = d.result
		received[d.index] = true
		pending--
	}
wait:
	for pending > 0 {
		select {
		case d := <-deliveries:
			record(d)
		case <-runCtx.Done():
			break wait
		}
	}
	// collect anything that landed together with the deadline
drain:
	for pending > 0 {
		select {
		case d := <-deliveries:
			record(d)
		default:
			break drain
		}
	}

	report.Duration = time.Since(report.Started)
	cancelled := ctx.Err() != nil
	missing := fmt.Errorf("%w (%s)", ErrTimeout, timeout)
	if cancelled {
		missing = fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
	for i, ok := range received {
		if !ok {
			report.Results[i] = newResult(cases[i].Name(), missing, report.Duration)
		}
	}

	if pending > 0 {
		logger.Warn("gave up waiting for test cases", "pending", pending, "elapsed", report.Duration, "cancelled", cancelled)
	} else {
		logger.Debug("all test cases reported", "elapsed", report.Duration)
	}

	incomplete := report.Incomplete()
	switch {
	case len(incomplete) == 0:
		return report, nil
	case cancelled:
		report.Cancelled = true
		return report, fmt.Errorf("%s: %w: %w", report.Scenario, ErrCancelled, context.Cause(ctx))
	default:
		return report, &AssertionError{Scenario: report.Scenario, Total: len(cases), Incomplete: incomplete}
	}
}

func runCase(ctx context.Context, c Case) (res Result) {
	name := c.Name()
	start := time.Now()
	defer func() {
		var err error
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		} else {
			err = res.Err
		}
		res = newResult(name, err, time.Since(start))
	}()
	res.Err = c.Run(ctx)
	return res
}
