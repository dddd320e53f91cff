package share

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// testBasePath returns NFS_PATH when it is reachable so the locks are
// exercised over the real mount, and a temp dir otherwise.
func testBasePath(t *testing.T) string {
	t.Helper()
	if p := os.Getenv("NFS_PATH"); p != "" {
		if _, err := os.Stat(p); err != nil {
			t.Skipf("NFS_PATH=%s not accessible: %v", p, err)
		}
		dir := filepath.Join(p, "share-test-unit")
		t.Cleanup(func() { os.RemoveAll(dir) })
		return dir
	}
	return t.TempDir()
}

func TestDirShare_ExclusiveOpen(t *testing.T) {
	ctx := context.Background()
	d, err := NewDirShare(testBasePath(t))
	require.NoError(t, err)

	first, second := d.Handle("locktest.txt"), d.Handle("locktest.txt")
	require.NoError(t, first.Create(ctx))
	t.Cleanup(func() { first.Delete(ctx) })

	w, err := first.OpenForWrite(ctx, true)
	require.NoError(t, err)

	_, err = second.OpenForWrite(ctx, true)
	assert.True(t, IsSharingViolation(err), "got %v", err)
	_, err = second.OpenForRead(ctx)
	assert.True(t, IsSharingViolation(err), "got %v", err)

	require.NoError(t, w.Close())

	w2, err := second.OpenForWrite(ctx, true)
	require.NoError(t, err)
	require.NoError(t, w2.Close())
}

func TestDirShare_SharedOpens(t *testing.T) {
	ctx := context.Background()
	d, err := NewDirShare(testBasePath(t))
	require.NoError(t, err)

	h := d.Handle("shared.bin")
	require.NoError(t, h.Create(ctx))
	t.Cleanup(func() { h.Delete(ctx) })

	w, err := h.OpenForWrite(ctx, false)
	require.NoError(t, err)
	_, err = w.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r1, err := d.Handle("shared.bin").OpenForRead(ctx)
	require.NoError(t, err)
	r2, err := d.Handle("shared.bin").OpenForRead(ctx)
	require.NoError(t, err)

	_, err = h.OpenForWrite(ctx, true)
	assert.True(t, IsSharingViolation(err), "exclusive open must fail while readers hold the file")

	data, err := io.ReadAll(r1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
	require.NoError(t, r1.Close())
	require.NoError(t, r2.Close())
}

func TestDirShare_Lifecycle(t *testing.T) {
	ctx := context.Background()
	base := testBasePath(t)
	d, err := NewDirShare(base)
	require.NoError(t, err)

	h := d.Handle("lifecycle.txt")
	ok, err := h.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.Create(ctx))
	require.NoError(t, h.Create(ctx))
	ok, err = h.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, h.Delete(ctx))
	assert.ErrorIs(t, h.Delete(ctx), ErrNotExist)
	_, err = h.OpenForRead(ctx)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestDirShare_RejectsInvalidNames(t *testing.T) {
	ctx := context.Background()
	base := testBasePath(t)
	d, err := NewDirShare(base)
	require.NoError(t, err)

	for _, name := range []string{"../escape", "a/b/c", "x/c", `dir\file`, "..", ".", ""} {
		h := d.Handle(name)
		assert.Equal(t, name, h.Name())

		assert.ErrorIs(t, h.Create(ctx), ErrInvalidName, "name %q", name)
		assert.ErrorIs(t, h.Delete(ctx), ErrInvalidName, "name %q", name)
		_, err := h.Exists(ctx)
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
		_, err = h.OpenForWrite(ctx, true)
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
		_, err = h.OpenForRead(ctx)
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)

		var opErr *OpError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, name, opErr.Name)
	}

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing may be created for a rejected name")

	// names that only share a base name stay distinct resources
	w, err := d.Handle("c").OpenForWrite(ctx, true)
	require.NoError(t, err)
	t.Cleanup(func() { d.Handle("c").Delete(ctx) })
	_, err = d.Handle("x/c").OpenForWrite(ctx, true)
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.False(t, IsSharingViolation(err))
	require.NoError(t, w.Close())
}

func TestReleaseOnError_KeepsCloseError(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "release")
	require.NoError(t, err)
	require.NoError(t, lock(f, unix.LOCK_EX))
	require.NoError(t, releaseOnError(f, nil), "a clean release adds nothing")

	// already closed, so unlocking and closing both fail
	err = releaseOnError(f, errors.New("truncate failed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncate failed")
	assert.ErrorIs(t, err, os.ErrClosed)
}
