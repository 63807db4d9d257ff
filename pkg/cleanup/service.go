// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentkube/kroot-orchestrator/pkg/config"
	"github.com/agentkube/kroot-orchestrator/pkg/investigation"
	"github.com/agentkube/kroot-orchestrator/pkg/session"
)

// TaskDeleter is the subset of *investigation.Store this package needs,
// kept as an interface so tests can substitute a fake without a database.
type TaskDeleter interface {
	DeleteTerminalOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// SessionDeleter is the subset of *session.Manager this package needs.
type SessionDeleter interface {
	DeleteClosedOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

var (
	_ TaskDeleter    = (*investigation.Store)(nil)
	_ SessionDeleter = (*session.Manager)(nil)
)

// Service periodically enforces retention policies:
//   - Hard-deletes terminal investigation tasks past retention
//   - Hard-deletes closed chat sessions past retention
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config   *config.RetentionConfig
	tasks    TaskDeleter
	sessions SessionDeleter

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, tasks TaskDeleter, sessions SessionDeleter) *Service {
	return &Service{
		config:   cfg,
		tasks:    tasks,
		sessions: sessions,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"session_retention_days", s.config.SessionRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.deleteOldTasks(ctx)
	s.deleteOldSessions(ctx)
}

func (s *Service) deleteOldTasks(ctx context.Context) {
	count, err := s.tasks.DeleteTerminalOlderThan(ctx, s.config.SessionRetentionDays)
	if err != nil {
		slog.Error("Retention: task cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old terminal tasks", "count", count)
	}
}

func (s *Service) deleteOldSessions(ctx context.Context) {
	count, err := s.sessions.DeleteClosedOlderThan(ctx, s.config.SessionRetentionDays)
	if err != nil {
		slog.Error("Retention: session cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old closed sessions", "count", count)
	}
}
