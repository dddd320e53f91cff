package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/thearyanahmed/share-tester/internal/harness"
	"github.com/thearyanahmed/share-tester/internal/share"
)

// Payload is what every stress worker writes and expects to read back.
var Payload = []byte{1, 2, 3, 4, 5, 6, 7, 8}

// StressWorker runs a full create/write/read/delete cycle on a resource no
// other worker touches. Any failure points at shared state inside the client.
type StressWorker struct {
	name     string
	handle   share.Handle
	logger   hclog.Logger
	readBack []byte
}

var _ harness.Case = (*StressWorker)(nil)

func NewStressWorker(name string, h share.Handle, logger hclog.Logger) *StressWorker {
	return &StressWorker{name: name, handle: h, logger: logger}
}

func (w *StressWorker) Name() string { return w.name }

// ReadBack returns the bytes the worker read. Only valid once the harness
// has received the worker's result.
func (w *StressWorker) ReadBack() []byte { return w.readBack }

func (w *StressWorker) Run(ctx context.Context) (err error) {
	logger := w.logger.With("resource", w.handle.Name())
	defer func() {
		if err != nil {
			logger.Error("test case failed", "error", err)
		}
	}()
	// delete even if create itself failed; a missing resource is only an
	// error when everything before it worked
	defer func() {
		derr := w.handle.Delete(context.WithoutCancel(ctx))
		switch {
		case derr == nil:
		case err != nil && errors.Is(derr, share.ErrNotExist):
		case err == nil:
			err = fmt.Errorf("delete: %w", derr)
		default:
			logger.Warn("delete failed", "error", derr)
		}
	}()

	if err := w.handle.Create(ctx); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	ok, err := w.handle.Exists(ctx)
	if err != nil {
		return fmt.Errorf("exists: %w", err)
	}
	if !ok {
		return fmt.Errorf("exists: %w right after create", share.ErrNotExist)
	}

	if err := w.write(ctx); err != nil {
		return err
	}
	if err := w.read(ctx); err != nil {
		return err
	}
	if !bytes.Equal(w.readBack, Payload) {
		return fmt.Errorf("read back %v, wrote %v", w.readBack, Payload)
	}
	logger.Debug("cycle complete")
	return nil
}

func (w *StressWorker) write(ctx context.Context) (err error) {
	out, err := w.handle.OpenForWrite(ctx, false)
	if err != nil {
		return fmt.Errorf("open for write: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close writer: %w", cerr)
		}
	}()
	if _, err := out.Write(Payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (w *StressWorker) read(ctx context.Context) (err error) {
	in, err := w.handle.OpenForRead(ctx)
	if err != nil {
		return fmt.Errorf("open for read: %w", err)
	}
	defer func() {
		if cerr := in.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close reader: %w", cerr)
		}
	}()
	buf := make([]byte, len(Payload))
	if _, err := io.ReadFull(in, buf); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	w.readBack = buf
	return nil
}

// NewStress builds n workers, each on its own fresh resource name.
func NewStress(s share.Share, n int, logger hclog.Logger) []*StressWorker {
	workers := make([]*StressWorker, n)
	for i := range workers {
		name := fmt.Sprintf("worker-%d", i)
		workers[i] = NewStressWorker(name, s.Handle(NewName("stress")), logger.Named(name))
	}
	return workers
}

// RunStress runs workers independent stress workers against s.
func RunStress(ctx context.Context, s share.Share, logger hclog.Logger, workers int, timeout time.Duration) (*harness.Report, error) {
	if workers <= 0 {
		workers = DefaultStressWorkers
	}
	if timeout <= 0 {
		timeout = DefaultStressTimeout
	}
	logger = logger.Named("stress")
	ws := NewStress(s, workers, logger)
	cases := make([]harness.Case, len(ws))
	for i, w := range ws {
		cases[i] = w
	}
	return harness.Run(ctx, cases, timeout,
		harness.WithLogger(logger),
		harness.WithScenario("concurrent_stress"),
	)
}
