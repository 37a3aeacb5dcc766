/*
locks.go - Keyed mutex registry for per-batch serialization

PURPOSE:
  One exclusive lock per batch id, created lazily and reclaimed when the
  last interested goroutine lets go. Every mutating batch operation runs
  under its batch's lock, which is what makes the read-check-write
  sequences in service.go race-free.

RECLAMATION:
  The registry must not grow unboundedly as batch ids churn. An entry is
  removed when its waiter count drops to zero, and the count is only ever
  touched under the registry guard mutex. That shared guard is the whole
  trick: a bare "unlock, then check-and-delete" would race a concurrent
  Acquire that has already fetched the entry but not yet locked it.

CONTRACT:
  Acquire blocks until the lock for key is exclusively held and returns
  a handle. Release must be called exactly once per Acquire, with the
  returned handle, on every exit path. Acquire never fails; a bounded
  wait is deliberately out of scope. Nested acquisition of two different
  keys by one goroutine is forbidden by convention (no operation needs
  more than one).

SEE ALSO:
  - service.go: The only consumer
*/
package pricing

import "sync"

// LockHandle is an opaque token for a held lock. It pins the registry
// entry that was current at Acquire time, so Release unlocks the same
// mutex even if the map entry has since been recycled.
type LockHandle struct {
	key   string
	entry *lockEntry
}

type lockEntry struct {
	mu sync.Mutex
	// refs counts holders plus waiters. Guarded by LockRegistry.mu,
	// NOT by lockEntry.mu.
	refs int
}

// LockRegistry hands out one mutex per key on demand.
// The zero value is not usable; call NewLockRegistry.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*lockEntry)}
}

// Acquire blocks until the exclusive lock for key is held by the caller.
func (r *LockRegistry) Acquire(key string) *LockHandle {
	r.mu.Lock()
	e, ok := r.locks[key]
	if !ok {
		e = &lockEntry{}
		r.locks[key] = e
	}
	// Registered as a waiter before the registry guard is dropped, so a
	// concurrent Release cannot reclaim the entry out from under us.
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()
	return &LockHandle{key: key, entry: e}
}

// Release unlocks the handle and reclaims the registry entry if no other
// goroutine holds or awaits it.
func (r *LockRegistry) Release(h *LockHandle) {
	h.entry.mu.Unlock()

	r.mu.Lock()
	h.entry.refs--
	if h.entry.refs == 0 {
		// The map may already hold a fresh entry for the same key if it
		// was recycled; only delete our own.
		if cur, ok := r.locks[h.key]; ok && cur == h.entry {
			delete(r.locks, h.key)
		}
	}
	r.mu.Unlock()
}

// Len returns the number of live entries. Used by tests and metrics to
// verify reclamation.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
