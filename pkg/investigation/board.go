package investigation

import (
	"fmt"
	"sync"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// planBoard is the supervisor's in-memory todo plan for one task. It is
// never persisted as its own row — the tasks table carries no todos column
// (see pkg/database's migration) — so reconnecting subscribers rebuild the
// current board purely by replaying todo_updated events, the last of which
// always carries the full, current snapshot.
type planBoard struct {
	mu    sync.Mutex
	items []models.Todo
}

// newPlanBoard seeds one pending todo per dispatch role, plus the mandatory
// terminal root-cause item, satisfying the "plan before any other action"
// invariant: the board exists, fully populated, before the first dispatch.
func newPlanBoard(roles []models.AgentRole) *planBoard {
	items := make([]models.Todo, 0, len(roles)+1)
	for i, role := range roles {
		items = append(items, models.Todo{
			ID:         fmt.Sprintf("todo-%d", i+1),
			Content:    roleTodoContent[role],
			Type:       models.TodoCollection,
			Priority:   models.TodoPriorityMedium,
			Status:     models.TodoStatusPending,
			AssignedTo: role,
		})
	}
	items = append(items, models.Todo{
		ID:         fmt.Sprintf("todo-%d", len(roles)+1),
		Content:    roleTodoContent[models.AgentRootCause],
		Type:       models.TodoAnalysis,
		Priority:   models.TodoPriorityHigh,
		Status:     models.TodoStatusPending,
		AssignedTo: models.AgentRootCause,
	})
	return &planBoard{items: items}
}

// start marks role's todo in_progress. Since the supervisor dispatches
// roles strictly one at a time, no other todo is ever in_progress when this
// is called — the single-in-progress invariant holds by construction of
// the caller, not by a check here.
func (b *planBoard) start(role models.AgentRole) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].AssignedTo == role {
			b.items[i].Status = models.TodoStatusInProgress
		}
	}
}

func (b *planBoard) complete(role models.AgentRole) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].AssignedTo == role {
			b.items[i].Status = models.TodoStatusCompleted
		}
	}
}

// cancel marks role's todo cancelled with reason, used when a dispatch
// fails or a tool call is refused by recon-mode policy.
func (b *planBoard) cancel(role models.AgentRole, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].AssignedTo == role {
			b.items[i].Status = models.TodoStatusCancelled
			b.items[i].Reason = reason
		}
	}
}

// snapshot returns a copy of the current board for an event payload.
func (b *planBoard) snapshot() []models.Todo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Todo, len(b.items))
	copy(out, b.items)
	return out
}
