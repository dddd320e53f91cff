package scenario

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thearyanahmed/share-tester/internal/harness"
	"github.com/thearyanahmed/share-tester/internal/share"
)

// the exclusive lock builder asks for the holder's handle first
const (
	holderClient    = 1
	contenderClient = 2
)

func testLogger(t *testing.T) hclog.Logger {
	t.Helper()
	return hclog.New(&hclog.LoggerOptions{
		Name:   t.Name(),
		Level:  hclog.Trace,
		Output: os.Stderr,
	})
}

func indexOf(journal []share.Event, match func(share.Event) bool) int {
	for i, ev := range journal {
		if match(ev) {
			return i
		}
	}
	return -1
}

func TestExclusiveLock_MemShare(t *testing.T) {
	m := share.NewMemShare()
	report, err := RunExclusiveLock(context.Background(), m, testLogger(t), DefaultLockTimeout)
	require.NoError(t, err)
	assert.True(t, report.Passed())
	assert.Empty(t, m.Names(), "holder must delete its resource")

	journal := m.Journal()
	open := indexOf(journal, func(ev share.Event) bool {
		return ev.Op == share.OpOpenWrite && ev.Client == holderClient && ev.Err == nil
	})
	rejected := indexOf(journal, func(ev share.Event) bool {
		return ev.Op == share.OpOpenWrite && ev.Client == contenderClient
	})
	closed := indexOf(journal, func(ev share.Event) bool {
		return ev.Op == share.OpClose && ev.Client == holderClient
	})
	deleted := indexOf(journal, func(ev share.Event) bool {
		return ev.Op == share.OpDelete && ev.Client == holderClient
	})
	require.NotEqual(t, -1, open)
	require.NotEqual(t, -1, rejected)
	require.NotEqual(t, -1, closed)
	require.NotEqual(t, -1, deleted)

	assert.ErrorIs(t, journal[rejected].Err, share.ErrSharingViolation)
	assert.Less(t, open, rejected, "contender may only try once the holder has the lock")
	assert.Less(t, rejected, closed, "holder may only release once the contender has resolved")
	assert.Less(t, closed, deleted)
}

func TestExclusiveLock_DirShare(t *testing.T) {
	dir := t.TempDir()
	if p := os.Getenv("NFS_PATH"); p != "" {
		if _, err := os.Stat(p); err != nil {
			t.Skipf("NFS_PATH=%s not accessible: %v", p, err)
		}
		dir = p
	}
	d, err := share.NewDirShare(dir)
	require.NoError(t, err)

	e := NewExclusiveLock(d, testLogger(t))
	report, err := harness.Run(context.Background(), e.Cases(), DefaultLockTimeout)
	require.NoError(t, err)
	assert.True(t, report.Passed())

	_, err = os.Stat(filepath.Join(dir, e.Resource))
	assert.True(t, os.IsNotExist(err), "resource left behind: %v", err)
}

func TestExclusiveLock_RepeatedLeavesNothingBehind(t *testing.T) {
	m := share.NewMemShare()
	reports, err := RunExclusiveLockRepeated(context.Background(), m, hclog.NewNullLogger(), 25, DefaultLockTimeout)
	require.NoError(t, err)
	require.Len(t, reports, 25)
	for _, r := range reports {
		assert.True(t, r.Passed())
	}
	assert.Empty(t, m.Names())

	names := map[string]bool{}
	for _, ev := range m.Journal() {
		names[ev.Name] = true
	}
	assert.Len(t, names, 25, "each iteration uses a fresh name")
}

func TestExclusiveLock_ContenderBlocksForever(t *testing.T) {
	m := share.NewMemShare()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	m.InjectFault(share.OpOpenWrite, contenderClient, share.Block(release))

	const timeout = 300 * time.Millisecond
	start := time.Now()
	report, err := RunExclusiveLock(context.Background(), m, testLogger(t), timeout)
	elapsed := time.Since(start)

	require.Error(t, err)
	var assertErr *harness.AssertionError
	require.True(t, errors.As(err, &assertErr))
	assert.Contains(t, assertErr.Incomplete, "contender")
	assert.Less(t, elapsed, timeout+2*time.Second, "run must end at the deadline, not hang")
	assert.ErrorIs(t, report.Results[1].Err, harness.ErrTimeout)

	// the cancelled run context frees the holder, which still cleans up
	require.Eventually(t, func() bool { return len(m.Names()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestExclusiveLock_ContenderCrashStillReleasesHolder(t *testing.T) {
	m := share.NewMemShare()
	m.InjectFault(share.OpOpenWrite, contenderClient, share.Panic("client crashed"))

	report, err := RunExclusiveLock(context.Background(), m, testLogger(t), DefaultLockTimeout)
	require.Error(t, err)

	holder, contender := report.Results[0], report.Results[1]
	assert.True(t, holder.Completed, "holder must be released and finish: %v", holder.Err)
	assert.False(t, contender.Completed)
	assert.ErrorIs(t, contender.Err, harness.ErrPanic)
	assert.Empty(t, m.Names())
}

func TestExclusiveLock_ContenderOtherError(t *testing.T) {
	m := share.NewMemShare()
	boom := errors.New("connection reset by peer")
	m.InjectFault(share.OpOpenWrite, contenderClient, share.Fail(boom))

	report, err := RunExclusiveLock(context.Background(), m, testLogger(t), DefaultLockTimeout)
	require.Error(t, err)
	assert.True(t, report.Results[0].Completed)
	assert.False(t, report.Results[1].Completed)
	assert.ErrorIs(t, report.Results[1].Err, boom)
	assert.Empty(t, m.Names())
}

type laxShare struct{ *share.MemShare }

func (l laxShare) Handle(name string) share.Handle { return laxHandle{l.MemShare.Handle(name)} }

// laxHandle ignores the exclusive flag, like a client that drops share modes.
type laxHandle struct{ share.Handle }

func (h laxHandle) OpenForWrite(ctx context.Context, _ bool) (io.WriteCloser, error) {
	return h.Handle.OpenForWrite(ctx, false)
}

func TestExclusiveLock_LockNotEnforced(t *testing.T) {
	m := share.NewMemShare()
	report, err := RunExclusiveLock(context.Background(), laxShare{m}, testLogger(t), DefaultLockTimeout)
	require.Error(t, err)
	assert.True(t, report.Results[0].Completed)
	assert.ErrorIs(t, report.Results[1].Err, ErrLockNotEnforced)
	assert.Empty(t, m.Names())
}

func TestExclusiveLock_HolderFailsFast(t *testing.T) {
	m := share.NewMemShare()
	m.InjectFault(share.OpOpenWrite, holderClient, share.Fail(errors.New("access denied")))

	start := time.Now()
	report, err := RunExclusiveLock(context.Background(), m, testLogger(t), 30*time.Second)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second, "contender should not wait out the deadline")
	assert.False(t, report.Results[0].Completed)
	assert.ErrorIs(t, report.Results[1].Err, ErrHolderAbandoned)
	assert.Empty(t, m.Names(), "holder deletes what it created even when the open failed")
}

func TestHolder_InterruptedWaitFails(t *testing.T) {
	m := share.NewMemShare()
	holder := NewHolder(m.Handle("res"), testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- holder.Run(ctx) }()

	require.NoError(t, holder.WaitForStart(context.Background()))
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err, "a holder whose wait was interrupted has not completed")
	case <-time.After(5 * time.Second):
		t.Fatal("holder did not return after cancellation")
	}
	assert.Empty(t, m.Names())
}

// doneTrap panics the first time anything blocks on it, which for the holder
// is the shutdown wait, after the exclusive open.
type doneTrap struct{ context.Context }

func (doneTrap) Done() <-chan struct{} { panic("blocked on a poisoned context") }

func TestHolder_PanicAfterOpenReleasesLock(t *testing.T) {
	m := share.NewMemShare()
	holder := NewHolder(m.Handle("res"), testLogger(t))

	assert.Panics(t, func() { holder.Run(doneTrap{context.Background()}) })

	journal := m.Journal()
	closed := indexOf(journal, func(ev share.Event) bool {
		return ev.Op == share.OpClose && ev.Client == holderClient && ev.Err == nil
	})
	deleted := indexOf(journal, func(ev share.Event) bool {
		return ev.Op == share.OpDelete && ev.Err == nil
	})
	require.NotEqual(t, -1, closed, "the exclusive stream must be closed on the way out")
	require.NotEqual(t, -1, deleted, "delete must succeed once the lock is gone")
	assert.Less(t, closed, deleted)
	assert.Empty(t, m.Names())

	assert.NoError(t, holder.WaitForStart(context.Background()), "the lock was taken before the panic")
}
