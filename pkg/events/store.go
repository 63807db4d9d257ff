package events

import (
	"context"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// Store persists a task's append-only event log. The pkg/database
// implementation backs it with the JSON-blob-on-task-row layout from
// §6; a fake in-memory Store is used by unit tests that don't need a
// live Postgres.
type Store interface {
	// AppendEvent persists evt for taskID. Implementations must reject
	// an append onto a task that has already reached a terminal status.
	AppendEvent(ctx context.Context, taskID string, evt models.Event) error

	// ReplayEvents returns every persisted event for taskID in sequence
	// order.
	ReplayEvents(ctx context.Context, taskID string) ([]models.Event, error)

	// NextSequence returns the sequence number to assign to the next
	// appended event for taskID (i.e. len(existing)+1).
	NextSequence(ctx context.Context, taskID string) (int, error)
}

// MemoryStore is an in-memory Store, used by tests and by any deployment
// that runs without Postgres wired (e.g. a smoke-test binary).
type MemoryStore struct {
	byTask map[string][]models.Event
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTask: make(map[string][]models.Event)}
}

func (s *MemoryStore) AppendEvent(_ context.Context, taskID string, evt models.Event) error {
	s.byTask[taskID] = append(s.byTask[taskID], evt)
	return nil
}

func (s *MemoryStore) ReplayEvents(_ context.Context, taskID string) ([]models.Event, error) {
	out := make([]models.Event, len(s.byTask[taskID]))
	copy(out, s.byTask[taskID])
	return out, nil
}

func (s *MemoryStore) NextSequence(_ context.Context, taskID string) (int, error) {
	return len(s.byTask[taskID]) + 1, nil
}
