package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/results-sync/internal/models"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
)

const DefaultPollInterval = 4 * time.Second

type ResultsViewConfig struct {
	Retry        RetryConfig
	PollInterval time.Duration
}

// ResultsView holds the reconciled results of one user. It is the only
// writer of its ViewState.
type ResultsView struct {
	repo         repositories.GradingRepository
	logger       *slog.Logger
	scheduler    *RetryScheduler
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	state      models.ViewState
	processing map[models.ExamKey]bool
	lastErr    error
	closed     bool

	pollOnce sync.Once
	wg       sync.WaitGroup
}

func NewResultsView(ctx context.Context, repo repositories.GradingRepository, cfg ResultsViewConfig, logger *slog.Logger) *ResultsView {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	viewCtx, cancel := context.WithCancel(ctx)
	v := &ResultsView{
		repo:         repo,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		ctx:          viewCtx,
		cancel:       cancel,
		state:        Reset(),
		processing:   make(map[models.ExamKey]bool),
	}
	v.scheduler = NewRetryScheduler(viewCtx, cfg.Retry, logger, v.markExhausted)
	return v
}

// Load fetches the exam history and merges an entry for every finished exam,
// then schedules a submissions fetch for each of them. A failed fetch keeps
// the current state and is remembered as the view error.
func (v *ResultsView) Load(ctx context.Context) error {
	if v.isClosed() {
		return ErrViewClosed
	}

	history, err := v.repo.FetchExamHistory(ctx)
	if err != nil {
		v.mu.Lock()
		if !v.closed {
			v.lastErr = err
		}
		v.mu.Unlock()

		v.logger.WarnContext(ctx, "Failed to load exam history for results", "error", err)
		return fmt.Errorf("failed to load exam history: %w", err)
	}

	finished := history.FinishedExams()
	placeholders := make([]models.ExamResultView, 0, len(finished))
	for _, exam := range finished {
		placeholders = append(placeholders, models.NewPlaceholderResult(exam))
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	v.state = Merge(v.state, placeholders)
	v.lastErr = nil
	version := v.state.Version
	v.mu.Unlock()

	v.logger.DebugContext(ctx, "Results merged",
		"finished_exams", len(finished),
		"version", version)

	for _, exam := range finished {
		v.scheduleFetch(exam.Key(), exam)
	}
	return nil
}

func (v *ResultsView) scheduleFetch(key models.ExamKey, exam models.ExamInfo) bool {
	return v.scheduler.Schedule(key, v.fetchFunc(key, exam))
}

func (v *ResultsView) fetchFunc(key models.ExamKey, exam models.ExamInfo) FetchFunc {
	return func(ctx context.Context) (bool, error) {
		records, err := v.repo.FetchSubmissions(ctx, key.ExamID, key.Version)
		if err != nil {
			return true, err
		}

		agg := Aggregate(records)
		if err := agg.CheckCompleteness(key, expectedQuestions(exam)); err != nil {
			var partial *PartialDataError
			if errors.As(err, &partial) {
				v.logger.InfoContext(ctx, "Submissions cover fewer questions than the exam",
					"exam_key", key.String(),
					"expected", partial.Expected,
					"got", partial.Got)
			}
		}

		v.mu.Lock()
		defer v.mu.Unlock()
		if v.closed {
			// view is gone, drop the result and stop retrying
			return false, nil
		}

		entry, idx := v.state.Find(key)
		if idx < 0 {
			return false, nil
		}
		v.state = ApplyAggregate(v.state, key, agg, entry.JoinedTime())
		v.processing[key] = agg.Pending()
		return agg.Pending(), nil
	}
}

func expectedQuestions(exam models.ExamInfo) int {
	if exam.QuestionsPerStudent != nil {
		return *exam.QuestionsPerStudent
	}
	if exam.NumQuestions != nil {
		return *exam.NumQuestions
	}
	return 0
}

func (v *ResultsView) markExhausted(key models.ExamKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.processing[key] = false
	v.logger.Info("Showing last known results", "exam_key", key.String())
}

// PollPending schedules a fetch for every entry that still has no score and
// has attempts left. It returns the number of fetches started.
func (v *ResultsView) PollPending() int {
	v.mu.RLock()
	if v.closed {
		v.mu.RUnlock()
		return 0
	}
	var pending []models.ExamResultView
	for _, entry := range v.state.Entries {
		if !entry.HasScore() {
			pending = append(pending, entry)
		}
	}
	v.mu.RUnlock()

	started := 0
	for _, entry := range pending {
		key := entry.Key()
		if v.scheduler.Spent(key) {
			continue
		}
		if v.scheduleFetch(key, entry.ExamInfo) {
			started++
		}
	}
	return started
}

// StartPolling runs PollPending at the configured interval until Close.
func (v *ResultsView) StartPolling() {
	v.pollOnce.Do(func() {
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			ticker := time.NewTicker(v.pollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-v.ctx.Done():
					return
				case <-ticker.C:
					if n := v.PollPending(); n > 0 {
						v.logger.Debug("Polling unscored results", "fetches", n)
					}
				}
			}
		}()
	})
}

// OnExamFinished gives examID a fresh retry budget and reloads.
func (v *ResultsView) OnExamFinished(ctx context.Context, examID string) error {
	v.scheduler.Reset(examID)
	return v.Load(ctx)
}

// Close stops polling and retries. Fetches that complete afterwards are
// discarded.
func (v *ResultsView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.scheduler.Stop()
	v.cancel()
	v.wg.Wait()
}

func (v *ResultsView) isClosed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.closed
}

// Snapshot returns a copy of the current state
func (v *ResultsView) Snapshot() models.ViewState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.Clone()
}

// Processing reports whether key is still waiting for grades
func (v *ResultsView) Processing(key models.ExamKey) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.processing[key]
}

// ProcessingFlags returns the processing flag of every known key
func (v *ResultsView) ProcessingFlags() map[string]bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	flags := make(map[string]bool, len(v.processing))
	for key, processing := range v.processing {
		flags[key.String()] = processing
	}
	return flags
}

// Err returns the error of the last failed Load, nil after a successful one
func (v *ResultsView) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastErr
}

func (v *ResultsView) RetryState(key models.ExamKey) RetryState {
	return v.scheduler.State(key)
}

func (v *ResultsView) RetryMaxAttempts() int {
	return v.scheduler.MaxAttempts()
}

// Query filters and sorts a copy of the current entries
func (v *ResultsView) Query(q ResultQuery) ([]models.ExamResultView, error) {
	return q.Apply(v.Snapshot().Entries)
}

// Wait blocks until background fetches and polling have returned.
func (v *ResultsView) Wait() {
	v.scheduler.Wait()
	v.wg.Wait()
}
