package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkube/kroot-orchestrator/pkg/config"
)

type fakeTaskDeleter struct {
	calledWithDays int
	deleted        int64
	err            error
}

func (f *fakeTaskDeleter) DeleteTerminalOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	f.calledWithDays = retentionDays
	return f.deleted, f.err
}

type fakeSessionDeleter struct {
	calledWithDays int
	deleted        int64
	err            error
}

func (f *fakeSessionDeleter) DeleteClosedOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	f.calledWithDays = retentionDays
	return f.deleted, f.err
}

func testConfig() *config.RetentionConfig {
	return &config.RetentionConfig{
		SessionRetentionDays: 365,
		CleanupInterval:      1 * time.Hour,
	}
}

func TestService_RunAll_DeletesOldTasksAndSessions(t *testing.T) {
	tasks := &fakeTaskDeleter{deleted: 3}
	sessions := &fakeSessionDeleter{deleted: 2}
	svc := NewService(testConfig(), tasks, sessions)

	svc.runAll(context.Background())

	assert.Equal(t, 365, tasks.calledWithDays)
	assert.Equal(t, 365, sessions.calledWithDays)
}

func TestService_RunAll_ToleratesIndividualFailures(t *testing.T) {
	tasks := &fakeTaskDeleter{err: assert.AnError}
	sessions := &fakeSessionDeleter{deleted: 1}
	svc := NewService(testConfig(), tasks, sessions)

	require.NotPanics(t, func() { svc.runAll(context.Background()) })
	assert.Equal(t, 365, sessions.calledWithDays)
}

func TestService_StartStop_IsIdempotent(t *testing.T) {
	svc := NewService(testConfig(), &fakeTaskDeleter{}, &fakeSessionDeleter{})

	svc.Start(context.Background())
	svc.Start(context.Background()) // no-op, cancel already set
	svc.Stop()
	svc.Stop() // safe: done is already closed, cancel already fired
}
