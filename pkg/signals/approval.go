package signals

import (
	"sync"

	"github.com/agentkube/kroot-orchestrator/pkg/apperrors"
)

// Decision is the resolution of a pending tool-approval rendezvous.
type Decision string

const (
	DecisionApprove           Decision = "approve"
	DecisionDeny              Decision = "deny"
	DecisionApproveForSession Decision = "approve_for_session"
	DecisionRedirect          Decision = "redirect"
)

// pendingApproval is the one-shot future a waiting agent blocks on.
type pendingApproval struct {
	resultCh chan Decision
	resolved bool
}

// ApprovalTable holds pending tool-approval rendezvous entries keyed by
// (trace_id, call_id). Resolution removes the entry atomically with the
// decision send, so a duplicate reply is rejected with ErrAlreadyResolved
// (§4.3 concurrency: "Readers ... observe the resolution exactly once").
type ApprovalTable struct {
	mu      sync.Mutex
	pending map[string]map[string]*pendingApproval
}

// NewApprovalTable returns an empty table.
func NewApprovalTable() *ApprovalTable {
	return &ApprovalTable{pending: make(map[string]map[string]*pendingApproval)}
}

// Register parks a new approval request for (traceID, callID) and
// returns a channel that receives exactly one Decision once resolved.
func (t *ApprovalTable) Register(traceID, callID string) <-chan Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending[traceID] == nil {
		t.pending[traceID] = make(map[string]*pendingApproval)
	}
	p := &pendingApproval{resultCh: make(chan Decision, 1)}
	t.pending[traceID][callID] = p
	return p.resultCh
}

// Resolve records the operator's decision for (traceID, callID). Returns
// ErrNotFound if no such pending entry exists, ErrAlreadyResolved if it
// was already resolved by a prior call.
func (t *ApprovalTable) Resolve(traceID, callID string, decision Decision) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	byCall, ok := t.pending[traceID]
	if !ok {
		return apperrors.ErrNotFound
	}
	p, ok := byCall[callID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if p.resolved {
		return apperrors.ErrAlreadyResolved
	}
	p.resolved = true
	p.resultCh <- decision
	delete(byCall, callID)
	if len(byCall) == 0 {
		delete(t.pending, traceID)
	}
	return nil
}

// ResolveAllForTrace resolves every pending approval under traceID with
// the given decision — used when a trace is aborted so no sub-agent waits
// forever on a rendezvous whose peer has disappeared.
func (t *ApprovalTable) ResolveAllForTrace(traceID string, decision Decision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for callID, p := range t.pending[traceID] {
		if !p.resolved {
			p.resolved = true
			p.resultCh <- decision
		}
		delete(t.pending[traceID], callID)
	}
	delete(t.pending, traceID)
}

// HasPending reports whether traceID has any outstanding approval entry.
func (t *ApprovalTable) HasPending(traceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[traceID]) > 0
}

// RedirectTable stores the latest redirect instruction per trace, read by
// an agent resuming after a `redirect` decision (§4.3).
type RedirectTable struct {
	mu           sync.Mutex
	instructions map[string]string
}

// NewRedirectTable returns an empty table.
func NewRedirectTable() *RedirectTable {
	return &RedirectTable{instructions: make(map[string]string)}
}

// Set stores the redirect instruction for traceID.
func (t *RedirectTable) Set(traceID, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.instructions[traceID] = message
}

// Take returns and clears the redirect instruction for traceID, if any.
func (t *RedirectTable) Take(traceID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg, ok := t.instructions[traceID]
	if ok {
		delete(t.instructions, traceID)
	}
	return msg, ok
}
