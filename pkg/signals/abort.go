// Package signals implements the cross-subsystem rendezvous tables the
// spec calls for in §4.3 and §9: one-shot abort tokens keyed by task id
// or trace id, and an approval table keyed by (trace_id, call_id).
//
// These are in-memory, process-scoped maps guarded by a mutex — mirroring
// the Python source's module-level ACTIVE_SIGNALS / APPROVAL_DECISIONS /
// REDIRECT_INSTRUCTIONS dicts (original_source/.../routes.py), expressed
// idiomatically as a struct with a lock instead of ambient globals, and
// using a channel as the one-shot future instead of asyncio.Future.
// See DESIGN.md Open Question (b): this process-scoped design is
// deliberate, not a placeholder — a restarted process does not recover
// these tables, it drains surviving tasks as failed instead.
package signals

import (
	"errors"
	"sync"
)

// ErrAlreadySet is returned by Cancel when the token for a key was
// already set — the caller should treat this as success (cancel is
// idempotent) rather than an error.
var ErrAlreadySet = errors.New("abort signal already set")

// AbortTable is a one-shot cancellation token table keyed by an arbitrary
// string (task_id for investigations, trace_id for chat sessions).
type AbortTable struct {
	mu      sync.Mutex
	signals map[string]chan struct{}
}

// NewAbortTable returns an empty table.
func NewAbortTable() *AbortTable {
	return &AbortTable{signals: make(map[string]chan struct{})}
}

// Register creates a fresh abort channel for key, replacing any existing
// one. Call once per task/trace at the start of its lifecycle.
func (t *AbortTable) Register(key string) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan struct{})
	t.signals[key] = ch
	return ch
}

// Cancel sets the token for key. Returns true if this call was the one
// that set it, false if it was already set (idempotent — repeated calls
// observe the same outcome, per §8's cancel-idempotence invariant).
func (t *AbortTable) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.signals[key]
	if !ok {
		return false
	}
	select {
	case <-ch:
		return false // already cancelled
	default:
		close(ch)
		return true
	}
}

// IsCancelled reports whether key's token has been set. Returns false for
// an unknown key (never registered, or already cleaned up).
func (t *AbortTable) IsCancelled(key string) bool {
	t.mu.Lock()
	ch, ok := t.signals[key]
	t.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Channel returns the underlying channel for key, for use in a select
// alongside other suspension points. The second return is false if key
// was never registered.
func (t *AbortTable) Channel(key string) (<-chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.signals[key]
	return ch, ok
}

// Release removes key's entry once its task/trace has reached a terminal
// state. Safe to call even if key is absent.
func (t *AbortTable) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.signals, key)
}

// Len reports the number of currently-registered keys, used by debug
// endpoints mirroring the Python source's `len(INVESTIGATION_ABORT_SIGNALS)`.
func (t *AbortTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.signals)
}
