package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/SAP-F-2025/results-sync/internal/models"
)

const (
	DefaultRetryDelay       = 3 * time.Second
	DefaultRetryMaxAttempts = 10
)

// FetchFunc performs one fetch for an exam and reports whether any of its
// questions is still unresolved.
type FetchFunc func(ctx context.Context) (pending bool, err error)

// RetryState is the scheduler's view of one exam key.
type RetryState struct {
	Attempts  int  `json:"attempts"`
	InFlight  bool `json:"in_flight"`
	Exhausted bool `json:"exhausted"`
}

type RetryConfig struct {
	Delay       time.Duration
	MaxAttempts int
}

type retryEntry struct {
	attempts  int
	inFlight  bool
	exhausted bool
	restarted bool
}

// RetryScheduler re-runs an exam's fetch at a fixed delay while questions
// remain unresolved, up to MaxAttempts fetches per key. Counters survive
// across Schedule calls and are only cleared by Reset.
type RetryScheduler struct {
	delay       time.Duration
	maxAttempts int
	logger      *slog.Logger
	onExhausted func(models.ExamKey)

	fetchCtx context.Context
	stopCtx  context.Context
	stop     context.CancelFunc

	mu      sync.Mutex
	entries map[models.ExamKey]*retryEntry
	stopped bool
	wg      sync.WaitGroup
}

// NewRetryScheduler creates a scheduler. Fetches run with a context derived
// from ctx that is not cancelled by Stop.
func NewRetryScheduler(ctx context.Context, cfg RetryConfig, logger *slog.Logger, onExhausted func(models.ExamKey)) *RetryScheduler {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultRetryDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetryMaxAttempts
	}

	stopCtx, stop := context.WithCancel(ctx)
	return &RetryScheduler{
		delay:       cfg.Delay,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
		onExhausted: onExhausted,
		fetchCtx:    context.WithoutCancel(ctx),
		stopCtx:     stopCtx,
		stop:        stop,
		entries:     make(map[models.ExamKey]*retryEntry),
	}
}

// Schedule starts a fetch run for key. It returns false without doing
// anything when a run for key is already in flight or the scheduler is
// stopped. A key that already used up its attempts gets exactly one more
// fetch and no retries.
func (s *RetryScheduler) Schedule(key models.ExamKey, fetch FetchFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}

	entry, ok := s.entries[key]
	if !ok {
		entry = &retryEntry{}
		s.entries[key] = entry
	}
	if entry.inFlight {
		s.logger.Debug("Fetch already in flight", "exam_key", key.String())
		return false
	}

	entry.inFlight = true
	entry.restarted = false
	single := entry.exhausted || entry.attempts >= s.maxAttempts

	s.wg.Add(1)
	go s.run(key, entry, fetch, single)
	return true
}

func (s *RetryScheduler) run(key models.ExamKey, entry *retryEntry, fetch FetchFunc, single bool) {
	defer s.wg.Done()

	b := s.newBackOff()
	for {
		pending := s.attempt(key, entry, fetch)

		s.mu.Lock()
		if !pending {
			entry.inFlight = false
			entry.exhausted = false
			s.mu.Unlock()
			return
		}
		// Reset during the fetch turns a single fetch into a full run.
		if entry.restarted {
			entry.restarted = false
			single = false
			b = s.newBackOff()
		}
		spent := single || entry.attempts >= s.maxAttempts
		s.mu.Unlock()

		next := backoff.Stop
		if !spent {
			next = b.NextBackOff()
		}
		if next == backoff.Stop {
			s.mu.Lock()
			entry.inFlight = false
			entry.exhausted = true
			attempts := entry.attempts
			s.mu.Unlock()

			s.logger.Info("Giving up on unresolved exam",
				"exam_key", key.String(),
				"attempts", attempts)
			s.exhaust(key)
			return
		}

		timer := time.NewTimer(next)
		select {
		case <-s.stopCtx.Done():
			timer.Stop()
			s.mu.Lock()
			entry.inFlight = false
			s.mu.Unlock()
			return
		case <-timer.C:
		}
	}
}

// attempt runs fetch once. A failed fetch is logged and counts as pending.
func (s *RetryScheduler) attempt(key models.ExamKey, entry *retryEntry, fetch FetchFunc) bool {
	s.mu.Lock()
	entry.attempts++
	attemptNo := entry.attempts
	s.mu.Unlock()

	pending, err := fetch(s.fetchCtx)
	if err != nil {
		s.logger.Warn("Background fetch failed",
			"exam_key", key.String(),
			"attempt", attemptNo,
			"error", err)
		return true
	}
	return pending
}

func (s *RetryScheduler) exhaust(key models.ExamKey) {
	if s.onExhausted != nil && s.stopCtx.Err() == nil {
		s.onExhausted(key)
	}
}

func (s *RetryScheduler) newBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(s.delay), uint64(s.maxAttempts-1))
}

// Reset clears the counters of every version of examID. A run in flight keeps
// going with a fresh retry budget.
func (s *RetryScheduler) Reset(examID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if key.ExamID != examID {
			continue
		}
		if entry.inFlight {
			entry.attempts = 0
			entry.exhausted = false
			entry.restarted = true
			continue
		}
		delete(s.entries, key)
	}
}

// State returns the counters of key
func (s *RetryScheduler) State(key models.ExamKey) RetryState {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return RetryState{}
	}
	return RetryState{
		Attempts:  entry.attempts,
		InFlight:  entry.inFlight,
		Exhausted: entry.exhausted,
	}
}

// Spent reports whether key has no automatic attempts left.
func (s *RetryScheduler) Spent(key models.ExamKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	return ok && (entry.exhausted || entry.attempts >= s.maxAttempts)
}

func (s *RetryScheduler) MaxAttempts() int {
	return s.maxAttempts
}

// Stop cancels pending retries. Fetches already running finish on their own.
func (s *RetryScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.stop()
}

// Wait blocks until every run has returned. Meant for tests and shutdown.
func (s *RetryScheduler) Wait() {
	s.wg.Wait()
}
