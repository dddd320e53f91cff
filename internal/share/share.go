// Package share is the client-side view of a remote file share that the
// harness exercises. A Share hands out independent Handles; two handles for
// the same name behave like two clients addressing one remote file.
//
// Two backends are provided: MemShare keeps everything in process and supports
// fault injection, DirShare maps resources onto files in a directory (usually
// an NFS mount) and enforces share modes with flock.
package share

import (
	"context"
	"io"
)

// Handle addresses one named resource through one client.
type Handle interface {
	Name() string

	// Create establishes the resource. It succeeds if the resource already
	// exists.
	Create(ctx context.Context) error
	Delete(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)

	// OpenForWrite truncates the resource and returns a writable stream. An
	// exclusive open shares the resource with nobody: it fails with
	// ErrSharingViolation if any other open is held, and every other open
	// fails the same way while it is held.
	OpenForWrite(ctx context.Context, exclusive bool) (io.WriteCloser, error)
	OpenForRead(ctx context.Context) (io.ReadCloser, error)
}

// Share produces handles. Every call returns a fresh client view.
type Share interface {
	Handle(name string) Handle
}
