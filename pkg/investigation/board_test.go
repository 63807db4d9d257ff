package investigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

func TestNewPlanBoard_SeedsOnePendingTodoPerRolePlusRootCause(t *testing.T) {
	board := newPlanBoard(dispatchOrder)

	items := board.snapshot()
	require.Len(t, items, len(dispatchOrder)+1)
	for _, item := range items {
		assert.Equal(t, models.TodoStatusPending, item.Status)
	}
	assert.Equal(t, models.AgentRootCause, items[len(items)-1].AssignedTo)
	assert.Equal(t, models.TodoPriorityHigh, items[len(items)-1].Priority)
}

func TestPlanBoard_StartCompleteTransitions(t *testing.T) {
	board := newPlanBoard(dispatchOrder)
	role := dispatchOrder[0]

	board.start(role)
	snap := board.snapshot()
	assert.Equal(t, models.TodoStatusInProgress, todoFor(snap, role).Status)

	board.complete(role)
	snap = board.snapshot()
	assert.Equal(t, models.TodoStatusCompleted, todoFor(snap, role).Status)
}

func TestPlanBoard_CancelRecordsReason(t *testing.T) {
	board := newPlanBoard(dispatchOrder)
	role := dispatchOrder[1]

	board.start(role)
	board.cancel(role, "tool denied by recon policy")

	item := todoFor(board.snapshot(), role)
	assert.Equal(t, models.TodoStatusCancelled, item.Status)
	assert.Equal(t, "tool denied by recon policy", item.Reason)
}

func TestPlanBoard_OnlyOneRoleInProgressAtATime(t *testing.T) {
	board := newPlanBoard(dispatchOrder)

	for _, role := range dispatchOrder {
		board.start(role)
		inProgress := 0
		for _, item := range board.snapshot() {
			if item.Status == models.TodoStatusInProgress {
				inProgress++
			}
		}
		assert.Equal(t, 1, inProgress, "role %s: expected exactly one in-progress todo", role)
		board.complete(role)
	}
}

func TestPlanBoard_SnapshotIsACopy(t *testing.T) {
	board := newPlanBoard(dispatchOrder)

	snap := board.snapshot()
	snap[0].Status = models.TodoStatusCompleted

	fresh := board.snapshot()
	assert.Equal(t, models.TodoStatusPending, fresh[0].Status)
}

func todoFor(items []models.Todo, role models.AgentRole) models.Todo {
	for _, item := range items {
		if item.AssignedTo == role {
			return item
		}
	}
	return models.Todo{}
}
