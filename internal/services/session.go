package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/SAP-F-2025/results-sync/internal/events"
	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
)

type SessionConfig struct {
	Results ResultsViewConfig
	History HistoryViewConfig
}

// Session is the set of views mounted for one signed-in user.
type Session struct {
	scope  string
	repo   repositories.GradingRepository
	bus    *events.Bus
	outbox *events.Outbox
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	results   *ResultsView
	history   *HistoryView
	reference *ReferenceCache

	mountOnce sync.Once
	mountErr  error

	mu          sync.RWMutex
	identity    *models.Identity
	identityErr error
	subs        []*events.Subscription
	closed      bool
}

func NewSession(ctx context.Context, scope string, repo repositories.GradingRepository, bus *events.Bus, outbox *events.Outbox, cfg SessionConfig, logger *slog.Logger) *Session {
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	logger = logger.With("user_scope", scope)

	return &Session{
		scope:     scope,
		repo:      repo,
		bus:       bus,
		outbox:    outbox,
		logger:    logger,
		ctx:       sessionCtx,
		cancel:    cancel,
		results:   NewResultsView(sessionCtx, repo, cfg.Results, logger),
		history:   NewHistoryView(sessionCtx, repo, cfg.History, logger),
		reference: NewReferenceCache(repo, logger),
	}
}

// Mount subscribes to both topics, loads every view concurrently, then
// consumes an exam-finished announcement that arrived while nobody was
// listening. Load failures are kept by the views and do not fail the mount.
func (s *Session) Mount(ctx context.Context) error {
	s.mountOnce.Do(func() {
		s.mountErr = s.mount(ctx)
	})
	return s.mountErr
}

func (s *Session) mount(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	finishedSub, err := s.bus.SubscribeExamFinished(s.ctx, s.scope, s.handleExamFinished)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to subscribe to exam finished events: %w", err)
	}
	referenceSub, err := s.bus.SubscribeReferenceDataChanged(s.ctx, s.handleReferenceDataChanged)
	if err != nil {
		s.mu.Unlock()
		finishedSub.Close()
		return fmt.Errorf("failed to subscribe to reference data events: %w", err)
	}
	s.subs = append(s.subs, finishedSub, referenceSub)
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.loadIdentity(gctx)
		return nil
	})
	g.Go(func() error {
		if err := s.history.Load(gctx); err != nil {
			s.logger.WarnContext(gctx, "History load failed during mount", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.results.Load(gctx); err != nil {
			s.logger.WarnContext(gctx, "Results load failed during mount", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := s.reference.Load(gctx); err != nil {
			s.logger.WarnContext(gctx, "Reference data load failed during mount", "error", err)
		}
		return nil
	})
	_ = g.Wait()

	s.results.StartPolling()

	if _, err := s.DrainPending(ctx); err != nil {
		s.logger.WarnContext(ctx, "Failed to drain pending exam finished signal", "error", err)
	}

	s.logger.InfoContext(ctx, "Session mounted")
	return nil
}

// DrainPending applies an announcement stored in the outbox. It reports
// whether one was found.
func (s *Session) DrainPending(ctx context.Context) (bool, error) {
	if s.outbox == nil {
		return false, nil
	}

	examID, ok, err := s.outbox.Drain(ctx, s.scope)
	if err != nil || !ok {
		return false, err
	}

	s.handleExamFinished(ctx, events.ExamFinishedPayload{
		UserScope: s.scope,
		ExamID:    examID,
	})
	return true, nil
}

func (s *Session) handleExamFinished(ctx context.Context, payload events.ExamFinishedPayload) {
	if payload.UserScope != s.scope || s.isClosed() {
		return
	}

	s.logger.InfoContext(ctx, "Exam finished", "exam_id", payload.ExamID)

	s.history.RemoveInProgress(payload.ExamID)

	if err := s.results.OnExamFinished(ctx, payload.ExamID); err != nil {
		s.logger.WarnContext(ctx, "Results reload after exam finish failed", "exam_id", payload.ExamID, "error", err)
	}
	if err := s.history.Load(ctx); err != nil {
		s.logger.WarnContext(ctx, "History reload after exam finish failed", "exam_id", payload.ExamID, "error", err)
	}
	s.history.StartFinishPolling()

	if s.outbox != nil {
		if err := s.outbox.Clear(ctx, s.scope); err != nil {
			s.logger.WarnContext(ctx, "Failed to clear exam finished flags", "error", err)
		}
	}
}

func (s *Session) handleReferenceDataChanged(ctx context.Context) {
	if s.isClosed() {
		return
	}
	if err := s.reference.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "Reference data refresh failed", "error", err)
	}
}

func (s *Session) loadIdentity(ctx context.Context) {
	identity, err := s.repo.FetchIdentity(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.identityErr = err
		s.logger.WarnContext(ctx, "Identity load failed", "error", err)
		return
	}
	s.identity = identity
	s.identityErr = nil
}

// Identity returns the user of the session, fetching it when the mount
// could not.
func (s *Session) Identity(ctx context.Context) (*models.Identity, error) {
	s.mu.RLock()
	identity := s.identity
	s.mu.RUnlock()
	if identity != nil {
		c := *identity
		return &c, nil
	}

	s.loadIdentity(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identityErr != nil {
		return nil, s.identityErr
	}
	if s.identity == nil {
		return nil, fmt.Errorf("identity unavailable")
	}
	c := *s.identity
	return &c, nil
}

// Unmount closes subscriptions and views. Results of fetches still in flight
// are dropped.
func (s *Session) Unmount() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	s.results.Close()
	s.history.Close()
	s.cancel()

	s.logger.Info("Session unmounted")
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) Scope() string { return s.scope }

func (s *Session) Results() *ResultsView { return s.results }

func (s *Session) History() *HistoryView { return s.history }

func (s *Session) Reference() *ReferenceCache { return s.reference }

func (s *Session) Outbox() *events.Outbox { return s.outbox }

func (s *Session) Closed() bool { return s.isClosed() }
