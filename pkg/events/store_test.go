package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

func TestMemoryStore_AppendAndReplay(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.AppendEvent(ctx, "task-1", models.Event{Sequence: 1, Kind: models.EventKindInvestigationStarted}))
	require.NoError(t, store.AppendEvent(ctx, "task-1", models.Event{Sequence: 2, Kind: models.EventKindTodoUpdated}))

	events, err := store.ReplayEvents(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventKindInvestigationStarted, events[0].Kind)
	assert.Equal(t, models.EventKindTodoUpdated, events[1].Kind)
}

func TestMemoryStore_ReplayUnknownTask(t *testing.T) {
	store := NewMemoryStore()
	events, err := store.ReplayEvents(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryStore_NextSequence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	seq, err := store.NextSequence(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 1, seq)

	require.NoError(t, store.AppendEvent(ctx, "task-1", models.Event{Sequence: 1}))

	seq, err = store.NextSequence(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 2, seq)
}

func TestMemoryStore_ReplayReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.AppendEvent(ctx, "task-1", models.Event{Sequence: 1, Kind: models.EventKindAnalysisStep}))

	events, err := store.ReplayEvents(ctx, "task-1")
	require.NoError(t, err)
	events[0].Kind = models.EventKindError

	again, err := store.ReplayEvents(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventKindAnalysisStep, again[0].Kind, "mutating a replay result must not affect the store")
}
