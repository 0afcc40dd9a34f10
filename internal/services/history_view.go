package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
)

const (
	DefaultHistoryPollInterval = 3 * time.Second
	DefaultHistoryPollAttempts = 6
)

type HistoryViewConfig struct {
	PollInterval time.Duration
	PollAttempts int
}

// HistoryView caches the exam-history snapshot shown on the dashboard.
type HistoryView struct {
	repo         repositories.GradingRepository
	logger       *slog.Logger
	pollInterval time.Duration
	pollAttempts int

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	history models.ExamHistory
	loaded  bool
	lastErr error
	polling bool
	closed  bool

	wg sync.WaitGroup
}

func NewHistoryView(ctx context.Context, repo repositories.GradingRepository, cfg HistoryViewConfig, logger *slog.Logger) *HistoryView {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultHistoryPollInterval
	}
	if cfg.PollAttempts < 0 {
		cfg.PollAttempts = DefaultHistoryPollAttempts
	}

	viewCtx, cancel := context.WithCancel(ctx)
	return &HistoryView{
		repo:         repo,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		pollAttempts: cfg.PollAttempts,
		ctx:          viewCtx,
		cancel:       cancel,
		history:      models.ExamHistory{}.Normalize(),
	}
}

// Load refreshes the snapshot. On error the previous snapshot stays and the
// error is kept for display. An all-empty response does not replace a
// snapshot that was already loaded.
func (h *HistoryView) Load(ctx context.Context) error {
	if h.isClosed() {
		return ErrViewClosed
	}

	fresh, err := h.repo.FetchExamHistory(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrViewClosed
	}

	if err != nil {
		h.lastErr = err
		h.logger.WarnContext(ctx, "Failed to load exam history", "error", err)
		return fmt.Errorf("failed to load exam history: %w", err)
	}

	if fresh == nil {
		fresh = &models.ExamHistory{}
	}
	if fresh.IsEmpty() && h.loaded && !h.history.IsEmpty() {
		h.logger.DebugContext(ctx, "Ignoring empty exam history snapshot")
	}
	h.history = MergeHistory(h.history, *fresh, h.loaded)
	h.loaded = true
	h.lastErr = nil
	return nil
}

// RemoveInProgress drops examID from the in-progress list. It reports
// whether the exam was there.
func (h *HistoryView) RemoveInProgress(examID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := slices.IndexFunc(h.history.InProgress, func(e models.ExamInfo) bool {
		return e.ExamID == examID
	})
	if idx < 0 {
		return false
	}

	h.history = h.history.Clone()
	h.history.InProgress = slices.Delete(h.history.InProgress, idx, idx+1)
	return true
}

// StartFinishPolling reloads the history a bounded number of times so the
// finished exam shows up once the server has processed it. It returns false
// when polling is already running.
func (h *HistoryView) StartFinishPolling() bool {
	h.mu.Lock()
	if h.polling || h.closed || h.pollAttempts == 0 {
		h.mu.Unlock()
		return false
	}
	h.polling = true
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mu.Lock()
			h.polling = false
			h.mu.Unlock()
		}()

		b := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(h.pollInterval), uint64(h.pollAttempts)),
			h.ctx,
		)
		for {
			next := b.NextBackOff()
			if next == backoff.Stop {
				return
			}

			timer := time.NewTimer(next)
			select {
			case <-h.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			if err := h.Load(h.ctx); err != nil {
				h.logger.Debug("Finish polling reload failed", "error", err)
			}
		}
	}()
	return true
}

func (h *HistoryView) Polling() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.polling
}

// Snapshot returns a copy of the cached history and whether one was loaded
func (h *HistoryView) Snapshot() (models.ExamHistory, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.history.Clone(), h.loaded
}

func (h *HistoryView) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

func (h *HistoryView) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}

func (h *HistoryView) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}
