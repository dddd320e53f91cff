// Package scenario builds the concurrent test cases that probe a share's
// locking and multi-client behavior, and runs them through the harness.
package scenario

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLockTimeout   = 5 * time.Second
	DefaultStressTimeout = 60 * time.Second
	DefaultStressWorkers = 10
)

// NewName returns a resource name that will not collide with any earlier
// run, so a leaked resource from a timed out run can never poison this one.
func NewName(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
