package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/thearyanahmed/share-tester/internal/gate"
	"github.com/thearyanahmed/share-tester/internal/harness"
	"github.com/thearyanahmed/share-tester/internal/share"
)

var (
	// ErrLockNotEnforced means the contender opened a resource the holder
	// had open exclusively.
	ErrLockNotEnforced = errors.New("contending open succeeded while the exclusive lock was held")

	// ErrHolderAbandoned means the holder gave up before taking the lock,
	// so there was nothing to contend for.
	ErrHolderAbandoned = errors.New("holder never acquired the exclusive lock")
)

// Holder creates the resource, opens it exclusively and keeps it open until
// the contender has made its attempt.
type Holder struct {
	handle share.Handle
	logger hclog.Logger

	started   gate.StartGate
	abandoned gate.StartGate
	shutdown  gate.ShutdownLatch
}

var _ harness.Case = (*Holder)(nil)

func NewHolder(h share.Handle, logger hclog.Logger) *Holder {
	return &Holder{handle: h, logger: logger}
}

func (h *Holder) Name() string { return "holder" }

// WaitForStart blocks until the holder owns the exclusive lock. It fails fast
// with ErrHolderAbandoned if the holder returned without getting there.
func (h *Holder) WaitForStart(ctx context.Context) error {
	select {
	case <-h.started.Done():
		return nil
	case <-h.abandoned.Done():
		return ErrHolderAbandoned
	case <-ctx.Done():
		return h.started.Wait(ctx)
	}
}

// Shutdown lets the holder release its lock.
func (h *Holder) Shutdown() { h.shutdown.Release() }

func (h *Holder) Run(ctx context.Context) (err error) {
	logger := h.logger.With("resource", h.handle.Name())
	defer func() {
		if !h.started.Signaled() {
			h.abandoned.Signal()
		}
		if err != nil {
			logger.Error("test case failed", "error", err)
		}
	}()

	if err := h.handle.Create(ctx); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer func() {
		// cleanup must outlive a cancelled run
		if derr := h.handle.Delete(context.WithoutCancel(ctx)); derr != nil {
			logger.Warn("delete failed", "error", derr)
		}
	}()

	w, err := h.handle.OpenForWrite(ctx, true)
	if err != nil {
		return fmt.Errorf("exclusive open: %w", err)
	}
	// registered after the delete so the lock is gone before it runs
	defer func() {
		if cerr := w.Close(); cerr != nil {
			err = multierror.Append(err, fmt.Errorf("close: %w", cerr))
			return
		}
		logger.Info("closed")
	}()
	logger.Info("open")
	h.started.Signal()

	if err := h.shutdown.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for shutdown: %w", err)
	}
	return nil
}

// Contender tries to open the holder's resource through a second client
// while the holder has it open, and succeeds only if it is turned away with
// a sharing violation.
type Contender struct {
	handle share.Handle
	holder *Holder
	logger hclog.Logger
}

var _ harness.Case = (*Contender)(nil)

func NewContender(h share.Handle, holder *Holder, logger hclog.Logger) *Contender {
	return &Contender{handle: h, holder: holder, logger: logger}
}

func (c *Contender) Name() string { return "contender" }

func (c *Contender) Run(ctx context.Context) (err error) {
	logger := c.logger.With("resource", c.handle.Name())
	// release the holder on every path, panics included
	defer c.holder.Shutdown()
	defer func() {
		if err != nil {
			logger.Error("test case failed", "error", err)
		}
	}()

	if err := c.holder.WaitForStart(ctx); err != nil {
		return fmt.Errorf("waiting for holder: %w", err)
	}

	w, err := c.handle.OpenForWrite(ctx, true)
	switch {
	case err == nil:
		logger.Error("open succeeded under exclusive lock")
		if cerr := w.Close(); cerr != nil {
			logger.Warn("close failed", "error", cerr)
		}
		return ErrLockNotEnforced
	case share.IsSharingViolation(err):
		logger.Info("lock rejected")
		return nil
	default:
		return fmt.Errorf("contending open: %w", err)
	}
}

// ExclusiveLock pairs a holder and a contender on one fresh resource name,
// each with its own handle.
type ExclusiveLock struct {
	Resource  string
	Holder    *Holder
	Contender *Contender
}

func NewExclusiveLock(s share.Share, logger hclog.Logger) *ExclusiveLock {
	name := NewName("exclusive-lock")
	holder := NewHolder(s.Handle(name), logger.Named("holder"))
	return &ExclusiveLock{
		Resource:  name,
		Holder:    holder,
		Contender: NewContender(s.Handle(name), holder, logger.Named("contender")),
	}
}

func (e *ExclusiveLock) Cases() []harness.Case {
	return []harness.Case{e.Holder, e.Contender}
}

// RunExclusiveLock runs one holder/contender pair against s.
func RunExclusiveLock(ctx context.Context, s share.Share, logger hclog.Logger, timeout time.Duration) (*harness.Report, error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	logger = logger.Named("exclusive-lock")
	e := NewExclusiveLock(s, logger)
	return harness.Run(ctx, e.Cases(), timeout,
		harness.WithLogger(logger),
		harness.WithScenario("exclusive_lock"),
	)
}

// RunExclusiveLockRepeated runs the pair times times in sequence, each with a
// fresh name. It stops at the first failing run and returns every report so
// far along with that run's error.
func RunExclusiveLockRepeated(ctx context.Context, s share.Share, logger hclog.Logger, times int, timeout time.Duration) ([]*harness.Report, error) {
	reports := make([]*harness.Report, 0, times)
	for i := 0; i < times; i++ {
		report, err := RunExclusiveLock(ctx, s, logger.With("iteration", i), timeout)
		reports = append(reports, report)
		if err != nil {
			return reports, fmt.Errorf("iteration %d: %w", i, err)
		}
	}
	return reports, nil
}
