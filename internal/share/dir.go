package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// DirShare maps each resource to a file under Root. Share modes are enforced
// with non-blocking flock: exclusive opens take LOCK_EX, everything else takes
// LOCK_SH. Over NFS the client turns these into byte-range locks, so holders
// on different hosts contend as well.
type DirShare struct {
	Root string
}

var _ Share = (*DirShare)(nil)

func NewDirShare(root string) (*DirShare, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", root, err)
	}
	return &DirShare{Root: root}, nil
}

// Handle maps name to a file directly under Root. Names that are empty, dot
// entries or contain a separator get a handle whose every call fails with
// ErrInvalidName, so two distinct names never share a file.
func (d *DirShare) Handle(name string) Handle {
	if !validName(name) {
		return &dirHandle{name: name, invalid: true}
	}
	return &dirHandle{name: name, path: filepath.Join(d.Root, name)}
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\\\x00")
}

type dirHandle struct {
	name    string
	path    string
	invalid bool
}

// check fails calls on a cancelled context or an unusable name.
func (h *dirHandle) check(ctx context.Context, op Op) error {
	if h.invalid {
		return h.wrap(op, ErrInvalidName)
	}
	if err := ctx.Err(); err != nil {
		return h.wrap(op, err)
	}
	return nil
}

func (h *dirHandle) Name() string { return h.name }

func (h *dirHandle) wrap(op Op, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		err = ErrNotExist
	}
	return &OpError{Op: string(op), Name: h.name, Err: err}
}

func (h *dirHandle) Create(ctx context.Context) error {
	if err := h.check(ctx, OpCreate); err != nil {
		return err
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return h.wrap(OpCreate, err)
	}
	if err := f.Close(); err != nil {
		return h.wrap(OpCreate, err)
	}
	return nil
}

func (h *dirHandle) Delete(ctx context.Context) error {
	if err := h.check(ctx, OpDelete); err != nil {
		return err
	}
	if err := os.Remove(h.path); err != nil {
		return h.wrap(OpDelete, err)
	}
	return nil
}

func (h *dirHandle) Exists(ctx context.Context) (bool, error) {
	if err := h.check(ctx, OpExists); err != nil {
		return false, err
	}
	_, err := os.Stat(h.path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, h.wrap(OpExists, err)
	}
}

func (h *dirHandle) OpenForWrite(ctx context.Context, exclusive bool) (io.WriteCloser, error) {
	if err := h.check(ctx, OpOpenWrite); err != nil {
		return nil, err
	}
	// O_RDWR: NFS emulates flock with fcntl locks, and a shared fcntl lock
	// needs a readable descriptor.
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, h.wrap(OpOpenWrite, err)
	}
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := lock(f, how); err != nil {
		f.Close()
		return nil, h.wrap(OpOpenWrite, err)
	}
	// truncate only once the lock is ours, never under someone else's
	if err := f.Truncate(0); err != nil {
		return nil, h.wrap(OpOpenWrite, releaseOnError(f, err))
	}
	return &lockedFile{File: f, handle: h}, nil
}

func (h *dirHandle) OpenForRead(ctx context.Context) (io.ReadCloser, error) {
	if err := h.check(ctx, OpOpenRead); err != nil {
		return nil, err
	}
	f, err := os.Open(h.path)
	if err != nil {
		return nil, h.wrap(OpOpenRead, err)
	}
	if err := lock(f, unix.LOCK_SH); err != nil {
		f.Close()
		return nil, h.wrap(OpOpenRead, err)
	}
	return &lockedFile{File: f, handle: h}, nil
}

func lock(f *os.File, how int) error {
	err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrSharingViolation
	}
	return err
}

func closeLocked(f *os.File) error {
	var result *multierror.Error
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		result = multierror.Append(result, fmt.Errorf("unlock: %w", err))
	}
	if err := f.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// releaseOnError unlocks and closes f after a failed step, keeping the close
// error alongside err.
func releaseOnError(f *os.File, err error) error {
	return multierror.Append(err, closeLocked(f)).ErrorOrNil()
}

type lockedFile struct {
	*os.File
	handle *dirHandle
}

func (l *lockedFile) Close() error {
	if err := closeLocked(l.File); err != nil {
		return l.handle.wrap(OpClose, err)
	}
	return nil
}
