// Package lock provides per-key mutual exclusion for the provisioning
// check-then-create sequence. One process uses the in-memory locker; a
// multi-instance deployment layers the redis locker on top so only one
// instance proceeds past the check at a time.
package lock

import "context"

// Locker serializes critical sections by key. Acquire blocks until the lock
// is held or ctx is done; the returned release function must be called
// exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
