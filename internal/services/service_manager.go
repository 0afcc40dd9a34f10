package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/results-sync/internal/config"
	"github.com/SAP-F-2025/results-sync/internal/events"
	"github.com/SAP-F-2025/results-sync/internal/repositories"
)

// SessionManager owns the sessions of every signed-in user of the process.
type SessionManager interface {
	// Acquire returns the mounted session for token, mounting it on first use
	Acquire(ctx context.Context, token string) (*Session, error)
	Get(token string) (*Session, bool)
	Release(token string) bool

	// Scope derives the event scope of token
	Scope(token string) string
	Announce(ctx context.Context, token, examID string) error
	PublishReferenceDataChanged(ctx context.Context) error

	Count() int
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
	IsShutdown() bool
	GetConfig() SessionManagerConfig
}

// SessionManagerConfig holds configuration for the session manager
type SessionManagerConfig struct {
	ScopeLength int
	Session     SessionConfig
}

// NewSessionManagerConfig maps process configuration onto the session manager
func NewSessionManagerConfig(cfg config.SyncConfig) SessionManagerConfig {
	return SessionManagerConfig{
		ScopeLength: cfg.ScopeLength,
		Session: SessionConfig{
			Results: ResultsViewConfig{
				Retry: RetryConfig{
					Delay:       cfg.RetryDelay,
					MaxAttempts: cfg.RetryMaxAttempts,
				},
				PollInterval: cfg.PollInterval,
			},
			History: HistoryViewConfig{
				PollInterval: cfg.HistoryPollInterval,
				PollAttempts: cfg.HistoryPollAttempts,
			},
		},
	}
}

// DefaultSessionManagerConfig uses the engine defaults
func DefaultSessionManagerConfig() SessionManagerConfig {
	return SessionManagerConfig{
		ScopeLength: 16,
		Session: SessionConfig{
			Results: ResultsViewConfig{
				Retry: RetryConfig{
					Delay:       DefaultRetryDelay,
					MaxAttempts: DefaultRetryMaxAttempts,
				},
				PollInterval: DefaultPollInterval,
			},
			History: HistoryViewConfig{
				PollInterval: DefaultHistoryPollInterval,
				PollAttempts: DefaultHistoryPollAttempts,
			},
		},
	}
}

// Validate validates the session manager configuration
func (c *SessionManagerConfig) Validate() error {
	var problems []string

	if c.ScopeLength <= 0 {
		problems = append(problems, "scope length must be positive")
	}
	if c.Session.Results.Retry.Delay < 0 {
		problems = append(problems, "retry delay cannot be negative")
	}
	if c.Session.Results.Retry.MaxAttempts < 0 {
		problems = append(problems, "retry max attempts cannot be negative")
	}
	if c.Session.History.PollAttempts < 0 {
		problems = append(problems, "history poll attempts cannot be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %v", problems)
	}
	return nil
}

// sessionManager implements SessionManager interface
type sessionManager struct {
	// Dependencies
	clients repositories.GradingClientFactory
	bus     *events.Bus
	outbox  *events.Outbox
	flags   repositories.FlagRepository
	logger  *slog.Logger
	config  SessionManagerConfig

	// Sessions keyed by token hash
	sessions map[string]*Session

	// Lifecycle management
	shutdown bool
	mu       sync.RWMutex
}

// NewSessionManager creates a new session manager with all dependencies.
// flags may be nil when the flag store has no health check.
func NewSessionManager(clients repositories.GradingClientFactory, bus *events.Bus, outbox *events.Outbox, flags repositories.FlagRepository, logger *slog.Logger, cfg SessionManagerConfig) (SessionManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clients == nil || bus == nil || outbox == nil {
		return nil, errors.New("grading client, event bus and outbox are required")
	}

	return &sessionManager{
		clients:  clients,
		bus:      bus,
		outbox:   outbox,
		flags:    flags,
		logger:   logger,
		config:   cfg,
		sessions: make(map[string]*Session),
	}, nil
}

func sessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (sm *sessionManager) Scope(token string) string {
	return events.DeriveScope(token, sm.config.ScopeLength)
}

func (sm *sessionManager) Acquire(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, repositories.ErrUnauthorized
	}
	key := sessionKey(token)

	sm.mu.RLock()
	session, ok := sm.sessions[key]
	shutdown := sm.shutdown
	sm.mu.RUnlock()
	if shutdown {
		return nil, ErrManagerClosed
	}

	if !ok {
		sm.mu.Lock()
		if sm.shutdown {
			sm.mu.Unlock()
			return nil, ErrManagerClosed
		}
		session, ok = sm.sessions[key]
		if !ok {
			scope := sm.Scope(token)
			session = NewSession(ctx, scope, sm.clients.ForToken(token), sm.bus, sm.outbox, sm.config.Session, sm.logger)
			sm.sessions[key] = session
			sm.logger.Info("Session created", "user_scope", scope)
		}
		sm.mu.Unlock()
	}

	start := time.Now()
	if err := session.Mount(ctx); err != nil {
		sm.mu.Lock()
		if sm.sessions[key] == session {
			delete(sm.sessions, key)
		}
		sm.mu.Unlock()
		return nil, fmt.Errorf("failed to mount session: %w", err)
	}
	sm.logger.Debug("Session ready", "user_scope", session.Scope(), "duration", time.Since(start))

	return session, nil
}

func (sm *sessionManager) Get(token string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, ok := sm.sessions[sessionKey(token)]
	return session, ok
}

// Release unmounts the session of token
func (sm *sessionManager) Release(token string) bool {
	key := sessionKey(token)

	sm.mu.Lock()
	session, ok := sm.sessions[key]
	delete(sm.sessions, key)
	sm.mu.Unlock()

	if !ok {
		return false
	}
	session.Unmount()
	return true
}

// Announce records that examID finished for the user of token and notifies
// every mounted session of the same scope.
func (sm *sessionManager) Announce(ctx context.Context, token, examID string) error {
	if sm.IsShutdown() {
		return ErrManagerClosed
	}
	return sm.outbox.Announce(ctx, sm.Scope(token), examID)
}

func (sm *sessionManager) PublishReferenceDataChanged(ctx context.Context) error {
	if sm.IsShutdown() {
		return ErrManagerClosed
	}
	return sm.bus.PublishReferenceDataChanged(ctx)
}

func (sm *sessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Health and lifecycle
func (sm *sessionManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if sm.shutdown {
		return fmt.Errorf("session manager is shut down")
	}

	if sm.flags != nil {
		if err := sm.flags.Ping(ctx); err != nil {
			return fmt.Errorf("flag store health check failed: %w", err)
		}
	}

	return nil
}

func (sm *sessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	if sm.shutdown {
		sm.mu.Unlock()
		return nil
	}
	sm.shutdown = true
	sessions := sm.sessions
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	sm.logger.Info("Shutting down session manager", "sessions", len(sessions))

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, session := range sessions {
			wg.Add(1)
			go func(s *Session) {
				defer wg.Done()
				s.Unmount()
			}(session)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		sm.logger.Info("Session manager shut down completed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session manager shutdown interrupted: %w", ctx.Err())
	}
}

// IsShutdown returns whether the session manager has been shut down
func (sm *sessionManager) IsShutdown() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.shutdown
}

// GetConfig returns the session manager configuration
func (sm *sessionManager) GetConfig() SessionManagerConfig {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.config
}
