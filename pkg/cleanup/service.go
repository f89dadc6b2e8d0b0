// Package cleanup provides data retention for the chat, history, and
// pipeline stores.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/store"
)

// Service periodically enforces retention policies:
//   - Removes idle chat sessions and their messages
//   - Removes old analysis history records
//   - Removes old pipeline tasks and their phase snapshots
//
// All sweeps are idempotent.
type Service struct {
	cfg      config.RetentionConfig
	sessions *store.SessionStore
	history  *store.HistoryStore
	tasks    *store.TaskStore
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service over the three stores.
func NewService(cfg config.RetentionConfig, sessions *store.SessionStore,
	history *store.HistoryStore, tasks *store.TaskStore, logger *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		history:  history,
		tasks:    tasks,
		logger:   logger,
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

	s.logger.Info("cleanup service started",
		"session_retention_days", s.cfg.SessionDays,
		"history_retention_days", s.cfg.HistoryDays,
		"task_retention_days", s.cfg.TaskDays,
		"interval", s.cfg.Interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll performs one retention sweep across all stores.
func (s *Service) RunAll(ctx context.Context) {
	now := time.Now().UTC()
	s.sweep(ctx, "sessions", now.AddDate(0, 0, -s.cfg.SessionDays), s.sessions.DeleteIdleBefore)
	s.sweep(ctx, "history", now.AddDate(0, 0, -s.cfg.HistoryDays), s.history.DeleteBefore)
	s.sweep(ctx, "tasks", now.AddDate(0, 0, -s.cfg.TaskDays), s.tasks.DeleteBefore)
}

func (s *Service) sweep(ctx context.Context, name string, cutoff time.Time,
	fn func(context.Context, time.Time) (int64, error)) {
	count, err := fn(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", "store", name, "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("retention sweep removed rows", "store", name, "count", count)
	}
}
